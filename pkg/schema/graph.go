package schema

import "encoding/json"

// WorkflowDefinition is the JSON-serializable node graph handed to the engine
// by the authoring layer. It is immutable for the lifetime of a run.
type WorkflowDefinition struct {
	Nodes          []Node         `json:"nodes"`
	Edges          []Edge         `json:"edges"`
	ExecutionOrder []string       `json:"execution_order,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Node is a single vertex in the workflow graph. Data carries the
// type-specific configuration; the engine only interprets the fields it
// needs (wait duration/unit, condition field/operator/value, branch
// conditions) and passes everything else through to activities untouched.
type Node struct {
	ID   string          `json:"id"`
	Type NodeType        `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Edge is a directed connection between two nodes. Handle discriminates
// which logical output of the source the edge represents: "true"/"false"
// for condition nodes, a branch ID for branch nodes, empty or "default"
// otherwise.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Handle string `json:"handle,omitempty"`
}

// NodeType enumerates the kinds of nodes in a workflow graph.
type NodeType string

const (
	NodeTypeTrigger   NodeType = "trigger"
	NodeTypeAction    NodeType = "action"
	NodeTypeCondition NodeType = "condition"
	NodeTypeWait      NodeType = "wait"
	NodeTypeBranch    NodeType = "branch"
	NodeTypeAgent     NodeType = "agent"
)

// HandleDefault is the handle value treated as equivalent to an absent one.
const HandleDefault = "default"

// Handles emitted by condition nodes.
const (
	HandleTrue  = "true"
	HandleFalse = "false"
)

// ConditionSpec is the fixed-operator condition format used by condition
// nodes and branch options. Field is a dotted path resolved against the
// run's evaluation context.
type ConditionSpec struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// Condition operators. Unknown operators evaluate to true (fail-open):
// a misconfigured node must not stall unrelated branches.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
)

// WaitConfig is the data block for wait-type nodes.
// Type "duration" suspends for Amount × Unit; type "event" suspends until a
// signal with EventType arrives or TimeoutHours elapses.
type WaitConfig struct {
	Type         string  `json:"type"`
	Amount       float64 `json:"amount,omitempty"`
	Unit         string  `json:"unit,omitempty"`
	EventType    string  `json:"event_type,omitempty"`
	TimeoutHours float64 `json:"timeout_hours,omitempty"`
}

// Wait sub-types.
const (
	WaitDuration = "duration"
	WaitEvent    = "event"
)

// ActionConfig is the data block for action- and agent-type nodes. Activity
// names the registered activity to invoke; Params is opaque to the engine.
type ActionConfig struct {
	Activity string          `json:"activity"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// BranchConfig is the data block for branch-type nodes. Branches are
// evaluated in declaration order; the first whose condition holds is taken.
// When none holds, DefaultBranch (a branch ID) is taken if set.
type BranchConfig struct {
	Branches      []BranchOption `json:"branches"`
	DefaultBranch string         `json:"default_branch,omitempty"`
}

// BranchOption is one candidate path out of a branch node. Its ID matches
// the Handle of the edges that belong to it.
type BranchOption struct {
	ID        string        `json:"id"`
	Condition ConditionSpec `json:"condition"`
}
