package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandhq/strand/internal/store"
	"github.com/strandhq/strand/pkg/schema"
)

// seedSuspendedRun writes the store state a crashed worker would leave behind:
// a waiting run whose event log shows the trigger completed and the wait node
// parked, plus the pending_waits row.
func seedSuspendedRun(t *testing.T, s *store.LibSQLStore, def schema.WorkflowDefinition, wait *store.PendingWait) *store.Run {
	t.Helper()
	ctx := context.Background()

	run := seedRun(t, s, def, nil)
	waiting := schema.RunStatusWaiting
	now := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, s.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &waiting, StartedAt: &now}))

	for _, e := range []*store.Event{
		{RunID: run.ID, Type: schema.EventRunStarted},
		{RunID: run.ID, NodeID: "start", Type: schema.EventNodeStarted},
		{RunID: run.ID, NodeID: "start", Type: schema.EventNodeCompleted, Payload: []byte(`{}`)},
		{RunID: run.ID, NodeID: "pause", Type: schema.EventNodeStarted},
		{RunID: run.ID, NodeID: "pause", Type: schema.EventNodeWaiting},
		{RunID: run.ID, Type: schema.EventRunSuspended},
	} {
		require.NoError(t, s.AppendEvent(ctx, e))
	}

	wait.RunID = run.ID
	wait.NodeID = "pause"
	require.NoError(t, s.CreateWait(ctx, wait))
	return run
}

func TestResume_DurationWaitPastDeadlineContinuesImmediately(t *testing.T) {
	coord, s := newTestCoordinator(t, nil)

	def := schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeTrigger},
			{ID: "pause", Type: schema.NodeTypeWait, Data: mustJSON(t, map[string]any{
				"type": "duration", "amount": 2, "unit": "hours",
			})},
			{ID: "after", Type: schema.NodeTypeAction, Data: mustJSON(t, map[string]any{"activity": "mail.send"})},
		},
		Edges: []schema.Edge{
			{Source: "start", Target: "pause"},
			{Source: "pause", Target: "after"},
		},
	}
	pastDeadline := time.Now().UTC().Add(-time.Second)
	run := seedSuspendedRun(t, s, def, &store.PendingWait{
		ID:       uuid.New().String(),
		Kind:     store.WaitKindDuration,
		Deadline: &pastDeadline,
		Status:   store.WaitStatusPending,
	})

	result, err := coord.Resume(context.Background(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	require.Len(t, result.Results, 3)
	// The replayed trigger is not re-dispatched.
	assert.Equal(t, "start", result.Results[0].NodeID)
	assert.Equal(t, "pause", result.Results[1].NodeID)
	assert.Equal(t, float64(7200), result.Results[1].Output["waitSeconds"])
	assert.Equal(t, "after", result.Results[2].NodeID)

	resumed, err := s.GetEventsByType(context.Background(), schema.EventRunResumed, store.EventFilter{RunID: run.ID})
	require.NoError(t, err)
	assert.Len(t, resumed, 1)
}

func TestResume_EventWaitAlreadyResolvedConsumesPayload(t *testing.T) {
	coord, s := newTestCoordinator(t, nil)

	def := schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeTrigger},
			{ID: "pause", Type: schema.NodeTypeWait, Data: mustJSON(t, map[string]any{
				"type": "event", "event_type": "approved", "timeout_hours": 1,
			})},
		},
		Edges: []schema.Edge{{Source: "start", Target: "pause"}},
	}
	deadline := time.Now().UTC().Add(time.Hour)
	run := seedSuspendedRun(t, s, def, &store.PendingWait{
		ID:        uuid.New().String(),
		Kind:      store.WaitKindEvent,
		EventType: "approved",
		Deadline:  &deadline,
		Status:    store.WaitStatusPending,
	})

	// Signal arrives while no worker is driving the run.
	require.NoError(t, coord.Signal(context.Background(), run.ID, schema.Signal{
		EventType: "approved",
		Payload:   map[string]any{"by": "alice"},
	}))

	result, err := coord.Resume(context.Background(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	require.Len(t, result.Results, 2)
	assert.Equal(t, "alice", result.Results[1].Output["by"])
}

func TestResume_PendingDurationWaitSleepsOnlyRemainder(t *testing.T) {
	coord, s := newTestCoordinator(t, nil)

	def := schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeTrigger},
			{ID: "pause", Type: schema.NodeTypeWait, Data: mustJSON(t, map[string]any{
				"type": "duration", "amount": 2, "unit": "hours",
			})},
		},
		Edges: []schema.Edge{{Source: "start", Target: "pause"}},
	}
	// Most of the two hours already elapsed before the crash.
	nearDeadline := time.Now().UTC().Add(50 * time.Millisecond)
	run := seedSuspendedRun(t, s, def, &store.PendingWait{
		ID:       uuid.New().String(),
		Kind:     store.WaitKindDuration,
		Deadline: &nearDeadline,
		Status:   store.WaitStatusPending,
	})

	begin := time.Now()
	result, err := coord.Resume(context.Background(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	assert.Less(t, time.Since(begin), 5*time.Second)
}
