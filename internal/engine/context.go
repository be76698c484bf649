package engine

import (
	"time"

	"github.com/strandhq/strand/pkg/schema"
)

// ExecutionContext is the per-run mutable state. The coordinator goroutine
// driving the run is its sole writer; it is never shared across runs.
type ExecutionContext struct {
	RecordData    map[string]any
	Trigger       map[string]any
	Variables     map[string]any
	ExecutedNodes []string
	SkipSet       map[string]struct{}
}

// NewExecutionContext creates a fresh context for a run.
func NewExecutionContext(recordData, trigger map[string]any) *ExecutionContext {
	if recordData == nil {
		recordData = make(map[string]any)
	}
	if trigger == nil {
		trigger = make(map[string]any)
	}
	return &ExecutionContext{
		RecordData: recordData,
		Trigger:    trigger,
		Variables:  make(map[string]any),
		SkipSet:    make(map[string]struct{}),
	}
}

// SetVariable records a node's output. Outputs are write-once: once a node
// has produced a value it is never overwritten, which is what makes replay
// after a crash safe.
func (ec *ExecutionContext) SetVariable(nodeID string, value any) error {
	if _, exists := ec.Variables[nodeID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "variable for node %q already set", nodeID).WithNode(nodeID)
	}
	ec.Variables[nodeID] = value
	return nil
}

// MarkExecuted appends the node to the executed list.
func (ec *ExecutionContext) MarkExecuted(nodeID string) {
	ec.ExecutedNodes = append(ec.ExecutedNodes, nodeID)
}

// Skip adds the given nodes to the skip set. The set only ever grows.
func (ec *ExecutionContext) Skip(nodeIDs map[string]struct{}) {
	for id := range nodeIDs {
		ec.SkipSet[id] = struct{}{}
	}
}

// Skipped reports whether a node is in the skip set.
func (ec *ExecutionContext) Skipped(nodeID string) bool {
	_, ok := ec.SkipSet[nodeID]
	return ok
}

// EvalData builds the view conditions and activities read: record fields at
// the top level, with the trigger payload and node outputs nested under
// "trigger" and "variables".
func (ec *ExecutionContext) EvalData() map[string]any {
	data := make(map[string]any, len(ec.RecordData)+2)
	for k, v := range ec.RecordData {
		data[k] = v
	}
	data["trigger"] = ec.Trigger
	data["variables"] = ec.Variables
	return data
}

// StepResult is one ordered entry in a run's result log, appended per
// executed node in dispatch order.
type StepResult struct {
	NodeID          string            `json:"nodeId"`
	Status          schema.NodeStatus `json:"status"`
	Output          map[string]any    `json:"output,omitempty"`
	ConditionResult *bool             `json:"conditionResult,omitempty"`
	SelectedBranch  string            `json:"selectedBranch,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// RunResult is the durable outcome of a run.
type RunResult struct {
	RunID       string              `json:"runId"`
	Status      schema.RunStatus    `json:"status"`
	Results     []StepResult        `json:"results"`
	Error       *schema.EngineError `json:"error,omitempty"`
	ErrorNodeID string              `json:"errorNodeId,omitempty"`
	StartedAt   time.Time           `json:"startedAt"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
}
