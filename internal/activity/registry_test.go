package activity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandhq/strand/pkg/schema"
)

type stubActivity struct {
	name   string
	result map[string]any
	err    error
}

func (s *stubActivity) Name() string { return s.name }
func (s *stubActivity) Schema() ActivitySchema {
	return ActivitySchema{Description: "stub " + s.name}
}
func (s *stubActivity) Validate(params map[string]any) error { return nil }
func (s *stubActivity) Execute(ctx context.Context, input ActivityInput) (*ActivityResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &ActivityResult{Data: s.result}, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubActivity{name: "echo"}))

	a, err := reg.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", a.Name())
	assert.True(t, reg.Has("echo"))
	assert.False(t, reg.Has("missing"))
}

func TestRegistry_DuplicateIsConflict(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubActivity{name: "echo"}))

	err := reg.Register(&stubActivity{name: "echo"})
	require.Error(t, err)
	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, engErr.Code)
}

func TestRegistry_GetUnknownIsConfigurationError(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get("nope")
	require.Error(t, err)
	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConfiguration, engErr.Code)
}

func TestRegistry_ListSortedByName(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubActivity{name: "zeta"}))
	require.NoError(t, reg.Register(&stubActivity{name: "alpha"}))
	require.NoError(t, reg.Register(&stubActivity{name: "mid"}))

	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "mid", infos[1].Name)
	assert.Equal(t, "zeta", infos[2].Name)
}

func TestRegistry_RejectsNilAndUnnamed(t *testing.T) {
	reg := NewRegistry()
	require.Error(t, reg.Register(nil))
	require.Error(t, reg.Register(&stubActivity{name: ""}))
}
