package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandhq/strand/pkg/schema"
)

func TestExecutionContext_SetVariableIsWriteOnce(t *testing.T) {
	ec := NewExecutionContext(nil, nil)

	require.NoError(t, ec.SetVariable("n1", map[string]any{"x": 1}))

	err := ec.SetVariable("n1", map[string]any{"x": 2})
	require.Error(t, err)
	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, engErr.Code)

	// The first write survives.
	assert.Equal(t, map[string]any{"x": 1}, ec.Variables["n1"])
}

func TestExecutionContext_SkipSetGrowsMonotonically(t *testing.T) {
	ec := NewExecutionContext(nil, nil)

	ec.Skip(map[string]struct{}{"a": {}, "b": {}})
	ec.Skip(map[string]struct{}{"c": {}})

	assert.True(t, ec.Skipped("a"))
	assert.True(t, ec.Skipped("b"))
	assert.True(t, ec.Skipped("c"))
	assert.False(t, ec.Skipped("d"))
	assert.Len(t, ec.SkipSet, 3)
}

func TestExecutionContext_EvalDataLayout(t *testing.T) {
	ec := NewExecutionContext(
		map[string]any{"email": "ada@example.com"},
		map[string]any{"source": "webhook"},
	)
	require.NoError(t, ec.SetVariable("step1", map[string]any{"result": 42}))

	data := ec.EvalData()
	assert.Equal(t, "ada@example.com", data["email"])
	assert.Equal(t, "webhook", ResolvePath(data, "trigger.source"))
	assert.Equal(t, 42, ResolvePath(data, "variables.step1.result"))
}
