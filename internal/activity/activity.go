package activity

import (
	"context"
	"encoding/json"
)

// Activity is an executable side-effecting capability invoked by action and
// agent nodes. Implementations must be safe for concurrent use and should be
// idempotent, keyed by run/node id, since calls are at-least-once.
type Activity interface {
	Name() string
	Schema() ActivitySchema
	Execute(ctx context.Context, input ActivityInput) (*ActivityResult, error)
	Validate(params map[string]any) error
}

// ActivitySchema describes the input/output contract of an activity.
type ActivitySchema struct {
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	Description  string          `json:"description,omitempty"`
}

// ActivityInput is the data provided to an activity at execution time.
type ActivityInput struct {
	RunID   string         `json:"run_id"`
	Params  map[string]any `json:"params"`
	Context map[string]any `json:"context,omitempty"`
}

// ActivityResult is the opaque result map returned to the engine.
type ActivityResult struct {
	Data map[string]any `json:"data,omitempty"`
}

// ActivityInfo is a summary of a registered activity for listing.
type ActivityInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// --- Param helpers shared by the built-in activities ---

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func mapParam(m map[string]any, key string) map[string]any {
	v, ok := m[key]
	if !ok {
		return nil
	}
	mv, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return mv
}
