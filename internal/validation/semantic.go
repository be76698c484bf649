package validation

import (
	"encoding/json"
	"fmt"

	"github.com/strandhq/strand/pkg/schema"
)

// ActivityLookup reports whether an activity name is registered. May be nil
// to skip existence checks (e.g. when validating on an authoring host).
type ActivityLookup interface {
	Has(name string) bool
}

// validateSemantic cross-checks references and per-type node configuration:
// things JSON Schema cannot express.
func validateSemantic(def *schema.WorkflowDefinition, activities ActivityLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]*schema.Node, len(def.Nodes))
	for i := range def.Nodes {
		n := &def.Nodes[i]
		if _, dup := nodeIDs[n.ID]; dup {
			result.AddError(fmt.Sprintf("nodes[%s]", n.ID), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		nodeIDs[n.ID] = n
	}

	for i, e := range def.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if _, ok := nodeIDs[e.Source]; !ok {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("edge references unknown source %q", e.Source))
		}
		if _, ok := nodeIDs[e.Target]; !ok {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("edge references unknown target %q", e.Target))
		}
		if src, ok := nodeIDs[e.Source]; ok && src.Type == schema.NodeTypeCondition {
			if e.Handle != schema.HandleTrue && e.Handle != schema.HandleFalse {
				result.AddWarning(path, schema.ErrCodeValidation,
					fmt.Sprintf("condition edge handle %q is neither %q nor %q, it will never be taken",
						e.Handle, schema.HandleTrue, schema.HandleFalse))
			}
		}
	}

	for id, n := range nodeIDs {
		result.Merge(validateNodeData(id, n))

		if activities != nil && n.Type == schema.NodeTypeAction {
			var cfg schema.ActionConfig
			if json.Unmarshal(n.Data, &cfg) == nil && cfg.Activity != "" && !activities.Has(cfg.Activity) {
				result.AddError(fmt.Sprintf("nodes[%s]", id), schema.ErrCodeConfiguration,
					fmt.Sprintf("activity %q is not registered", cfg.Activity))
			}
		}
	}

	return result
}

// validateNodeData checks the type-specific data block of one node.
func validateNodeData(id string, n *schema.Node) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	path := fmt.Sprintf("nodes[%s]", id)

	switch n.Type {
	case schema.NodeTypeAction:
		var cfg schema.ActionConfig
		if len(n.Data) == 0 || json.Unmarshal(n.Data, &cfg) != nil || cfg.Activity == "" {
			result.AddError(path, schema.ErrCodeConfiguration, "action node requires an activity name")
		}

	case schema.NodeTypeCondition:
		var spec schema.ConditionSpec
		if len(n.Data) == 0 || json.Unmarshal(n.Data, &spec) != nil || spec.Field == "" || spec.Operator == "" {
			result.AddError(path, schema.ErrCodeConfiguration, "condition node requires field and operator")
		}

	case schema.NodeTypeWait:
		var cfg schema.WaitConfig
		if len(n.Data) == 0 || json.Unmarshal(n.Data, &cfg) != nil {
			result.AddError(path, schema.ErrCodeConfiguration, "wait node requires a data block")
			break
		}
		switch cfg.Type {
		case schema.WaitDuration:
			if cfg.Amount <= 0 {
				result.AddError(path, schema.ErrCodeConfiguration, "duration wait requires a positive amount")
			}
		case schema.WaitEvent:
			if cfg.EventType == "" {
				result.AddError(path, schema.ErrCodeConfiguration, "event wait requires an event_type")
			}
		default:
			result.AddError(path, schema.ErrCodeConfiguration,
				fmt.Sprintf("unknown wait type %q", cfg.Type))
		}

	case schema.NodeTypeBranch:
		var cfg schema.BranchConfig
		if len(n.Data) == 0 || json.Unmarshal(n.Data, &cfg) != nil || len(cfg.Branches) == 0 {
			result.AddError(path, schema.ErrCodeConfiguration, "branch node requires at least one branch")
			break
		}
		seen := make(map[string]struct{}, len(cfg.Branches))
		for _, br := range cfg.Branches {
			if br.ID == "" {
				result.AddError(path, schema.ErrCodeConfiguration, "branch option with empty id")
				continue
			}
			if _, dup := seen[br.ID]; dup {
				result.AddError(path, schema.ErrCodeConfiguration,
					fmt.Sprintf("duplicate branch id %q", br.ID))
			}
			seen[br.ID] = struct{}{}
		}
		if cfg.DefaultBranch != "" {
			if _, ok := seen[cfg.DefaultBranch]; !ok {
				result.AddWarning(path, schema.ErrCodeConfiguration,
					fmt.Sprintf("default branch %q matches no declared branch, its edges are selected by handle only", cfg.DefaultBranch))
			}
		}
	}

	return result
}
