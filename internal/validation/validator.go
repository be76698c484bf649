package validation

import "github.com/strandhq/strand/pkg/schema"

// Validator checks workflow definitions for correctness before execution.
// Uses JSON Schema Draft 2020-12 for trigger payload validation.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateTrigger(trigger map[string]any, triggerSchema []byte) error
}
