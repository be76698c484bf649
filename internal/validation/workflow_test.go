package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandhq/strand/pkg/schema"
)

type stubLookup map[string]bool

func (s stubLookup) Has(name string) bool { return s[name] }

func newValidator(t *testing.T, lookup ActivityLookup) *WorkflowValidator {
	t.Helper()
	wv, err := NewWorkflowValidator(lookup)
	require.NoError(t, err)
	return wv
}

func validDefinition() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeTrigger},
			{ID: "gate", Type: schema.NodeTypeCondition, Data: json.RawMessage(`{"field":"plan","operator":"equals","value":"premium"}`)},
			{ID: "notify", Type: schema.NodeTypeAction, Data: json.RawMessage(`{"activity":"http.request","params":{"url":"https://example.com"}}`)},
		},
		Edges: []schema.Edge{
			{Source: "start", Target: "gate"},
			{Source: "gate", Target: "notify", Handle: "true"},
		},
	}
}

func TestValidate_AcceptsValidDefinition(t *testing.T) {
	wv := newValidator(t, stubLookup{"http.request": true})

	result := wv.Validate(validDefinition())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
	require.NoError(t, wv.ValidateDefinition(validDefinition()))
}

func TestValidate_NilDefinition(t *testing.T) {
	wv := newValidator(t, nil)

	result := wv.Validate(nil)
	require.False(t, result.Valid())
}

func TestValidate_StructuralErrorsShortCircuit(t *testing.T) {
	wv := newValidator(t, nil)

	// Missing nodes entirely, and the bogus edge is never semantically checked.
	result := wv.Validate(&schema.WorkflowDefinition{
		Edges: []schema.Edge{{Source: "ghost", Target: "ghost"}},
	})
	require.False(t, result.Valid())
	for _, issue := range result.Errors {
		assert.NotContains(t, issue.Message, "unknown source")
	}
}

func TestValidate_EmptyNodeID(t *testing.T) {
	wv := newValidator(t, nil)

	result := wv.Validate(&schema.WorkflowDefinition{
		Nodes: []schema.Node{{ID: "", Type: schema.NodeTypeTrigger}},
	})
	require.False(t, result.Valid())
}

func TestValidate_DuplicateNodeID(t *testing.T) {
	wv := newValidator(t, nil)

	result := wv.Validate(&schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "a", Type: schema.NodeTypeTrigger},
			{ID: "a", Type: schema.NodeTypeTrigger},
		},
	})
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "duplicate node id")
}

func TestValidate_UnknownEdgeEndpoints(t *testing.T) {
	wv := newValidator(t, nil)

	result := wv.Validate(&schema.WorkflowDefinition{
		Nodes: []schema.Node{{ID: "a", Type: schema.NodeTypeTrigger}},
		Edges: []schema.Edge{{Source: "a", Target: "ghost"}},
	})
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "unknown target")
}

func TestValidate_UnregisteredActivity(t *testing.T) {
	wv := newValidator(t, stubLookup{})

	result := wv.Validate(&schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "notify", Type: schema.NodeTypeAction, Data: json.RawMessage(`{"activity":"mail.send"}`)},
		},
	})
	require.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeConfiguration, result.Errors[0].Code)
}

func TestValidate_NilLookupSkipsActivityCheck(t *testing.T) {
	wv := newValidator(t, nil)

	result := wv.Validate(&schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "notify", Type: schema.NodeTypeAction, Data: json.RawMessage(`{"activity":"mail.send"}`)},
		},
	})
	assert.True(t, result.Valid())
}

func TestValidate_NodeDataChecks(t *testing.T) {
	wv := newValidator(t, nil)

	cases := []struct {
		name string
		node schema.Node
	}{
		{"action without activity", schema.Node{ID: "n", Type: schema.NodeTypeAction, Data: json.RawMessage(`{}`)}},
		{"condition without operator", schema.Node{ID: "n", Type: schema.NodeTypeCondition, Data: json.RawMessage(`{"field":"x"}`)}},
		{"wait with unknown type", schema.Node{ID: "n", Type: schema.NodeTypeWait, Data: json.RawMessage(`{"type":"lunar_cycle"}`)}},
		{"duration wait without amount", schema.Node{ID: "n", Type: schema.NodeTypeWait, Data: json.RawMessage(`{"type":"duration","unit":"hours"}`)}},
		{"event wait without event_type", schema.Node{ID: "n", Type: schema.NodeTypeWait, Data: json.RawMessage(`{"type":"event"}`)}},
		{"branch without branches", schema.Node{ID: "n", Type: schema.NodeTypeBranch, Data: json.RawMessage(`{"branches":[]}`)}},
		{"branch with duplicate ids", schema.Node{ID: "n", Type: schema.NodeTypeBranch, Data: json.RawMessage(`{"branches":[{"id":"b1","condition":{}},{"id":"b1","condition":{}}]}`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := wv.Validate(&schema.WorkflowDefinition{Nodes: []schema.Node{tc.node}})
			assert.False(t, result.Valid())
		})
	}
}

func TestValidate_ConditionEdgeHandleWarning(t *testing.T) {
	wv := newValidator(t, nil)

	def := validDefinition()
	def.Edges[1].Handle = "maybe"
	result := wv.Validate(def)

	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "never be taken")
}

func TestValidate_CycleDetected(t *testing.T) {
	wv := newValidator(t, nil)

	result := wv.Validate(&schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "a", Type: schema.NodeTypeTrigger},
			{ID: "b", Type: schema.NodeTypeTrigger},
			{ID: "c", Type: schema.NodeTypeTrigger},
		},
		Edges: []schema.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
			{Source: "c", Target: "a"},
		},
	})
	require.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeCycleDetected, result.Errors[0].Code)
}

func TestValidate_DisconnectedRootsAreReachable(t *testing.T) {
	wv := newValidator(t, nil)

	result := wv.Validate(&schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "root1", Type: schema.NodeTypeTrigger},
			{ID: "root2", Type: schema.NodeTypeTrigger},
			{ID: "child", Type: schema.NodeTypeTrigger},
		},
		Edges: []schema.Edge{
			{Source: "root1", Target: "child"},
		},
	})
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings, "all nodes reachable from some root")
}

func TestValidateTrigger(t *testing.T) {
	wv := newValidator(t, nil)

	triggerSchema := []byte(`{
		"type": "object",
		"required": ["email"],
		"properties": {"email": {"type": "string"}}
	}`)

	require.NoError(t, wv.ValidateTrigger(map[string]any{"email": "ada@example.com"}, triggerSchema))

	err := wv.ValidateTrigger(map[string]any{}, triggerSchema)
	require.Error(t, err)
	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, engErr.Code)

	// No schema means no validation.
	require.NoError(t, wv.ValidateTrigger(map[string]any{"anything": true}, nil))
}
