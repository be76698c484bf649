package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandhq/strand/internal/store"
	"github.com/strandhq/strand/pkg/schema"
)

type fakeInvoker struct {
	action func(ctx context.Context, runID string, cfg schema.ActionConfig, input map[string]any) (map[string]any, error)
	agent  func(ctx context.Context, runID string, cfg schema.ActionConfig, input map[string]any) (map[string]any, error)
}

func (f *fakeInvoker) InvokeAction(ctx context.Context, runID string, cfg schema.ActionConfig, input map[string]any) (map[string]any, error) {
	if f.action != nil {
		return f.action(ctx, runID, cfg, input)
	}
	return map[string]any{"ok": true}, nil
}

func (f *fakeInvoker) InvokeAgent(ctx context.Context, runID string, cfg schema.ActionConfig, input map[string]any) (map[string]any, error) {
	if f.agent != nil {
		return f.agent(ctx, runID, cfg, input)
	}
	return map[string]any{"ok": true}, nil
}

func newTestCoordinator(t *testing.T, invoker Invoker) (Coordinator, *store.LibSQLStore) {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "strand.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	if invoker == nil {
		invoker = &fakeInvoker{}
	}
	return NewCoordinator(s, invoker, nil, CoordinatorConfig{PoolSize: 2}, nil), s
}

func seedRun(t *testing.T, s *store.LibSQLStore, def schema.WorkflowDefinition, record map[string]any) *store.Run {
	t.Helper()
	run := &store.Run{
		ID:         uuid.New().String(),
		Name:       "test run",
		Definition: def,
		Status:     schema.RunStatusPending,
		RecordData: record,
	}
	require.NoError(t, s.CreateRun(context.Background(), run))
	return run
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestRun_LinearWorkflowCompletes(t *testing.T) {
	var gotInput map[string]any
	inv := &fakeInvoker{action: func(ctx context.Context, runID string, cfg schema.ActionConfig, input map[string]any) (map[string]any, error) {
		gotInput = input
		return map[string]any{"sent": true}, nil
	}}
	coord, s := newTestCoordinator(t, inv)

	def := schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeTrigger},
			{ID: "notify", Type: schema.NodeTypeAction, Data: mustJSON(t, map[string]any{"activity": "mail.send"})},
		},
		Edges: []schema.Edge{{Source: "start", Target: "notify"}},
	}
	run := seedRun(t, s, def, map[string]any{"email": "ada@example.com"})

	result, err := coord.Run(context.Background(), run, map[string]any{"source": "api"})
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	require.Len(t, result.Results, 2)
	assert.Equal(t, "start", result.Results[0].NodeID)
	assert.Equal(t, "notify", result.Results[1].NodeID)
	assert.Equal(t, map[string]any{"sent": true}, result.Results[1].Output)

	// Activities see record fields at the top level plus trigger and variables.
	assert.Equal(t, "ada@example.com", gotInput["email"])
	assert.Equal(t, "api", ResolvePath(gotInput, "trigger.source"))

	stored, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
}

func TestRun_ConditionFalseSkipsDownstream(t *testing.T) {
	coord, s := newTestCoordinator(t, nil)

	def := schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeTrigger},
			{ID: "gate", Type: schema.NodeTypeCondition, Data: mustJSON(t, map[string]any{
				"field": "plan", "operator": "equals", "value": "premium",
			})},
			{ID: "upsell", Type: schema.NodeTypeAction, Data: mustJSON(t, map[string]any{"activity": "mail.send"})},
		},
		Edges: []schema.Edge{
			{Source: "start", Target: "gate"},
			{Source: "gate", Target: "upsell", Handle: "true"},
		},
	}
	run := seedRun(t, s, def, map[string]any{"plan": "free"})

	result, err := coord.Run(context.Background(), run, nil)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	require.Len(t, result.Results, 2)
	assert.Equal(t, "gate", result.Results[1].NodeID)
	require.NotNil(t, result.Results[1].ConditionResult)
	assert.False(t, *result.Results[1].ConditionResult)
	assert.Nil(t, result.Results[1].Output)

	ns, err := s.GetNodeState(context.Background(), run.ID, "upsell")
	require.NoError(t, err)
	assert.Equal(t, schema.NodeStatusSkipped, ns.Status)

	skipped, err := s.GetEventsByType(context.Background(), schema.EventNodeSkipped, store.EventFilter{RunID: run.ID})
	require.NoError(t, err)
	assert.Len(t, skipped, 1)
}

func TestRun_BranchSelectsDefaultWhenNoConditionHolds(t *testing.T) {
	coord, s := newTestCoordinator(t, nil)

	def := schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeTrigger},
			{ID: "route", Type: schema.NodeTypeBranch, Data: mustJSON(t, map[string]any{
				"branches": []map[string]any{
					{"id": "b1", "condition": map[string]any{"field": "tier", "operator": "equals", "value": "gold"}},
				},
				"default_branch": "b2",
			})},
			{ID: "gold-path", Type: schema.NodeTypeAction, Data: mustJSON(t, map[string]any{"activity": "mail.send"})},
			{ID: "std-path", Type: schema.NodeTypeAction, Data: mustJSON(t, map[string]any{"activity": "mail.send"})},
		},
		Edges: []schema.Edge{
			{Source: "start", Target: "route"},
			{Source: "route", Target: "gold-path", Handle: "b1"},
			{Source: "route", Target: "std-path", Handle: "b2"},
		},
	}
	run := seedRun(t, s, def, map[string]any{"tier": "silver"})

	result, err := coord.Run(context.Background(), run, nil)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	require.Len(t, result.Results, 3)
	assert.Equal(t, "route", result.Results[1].NodeID)
	assert.Equal(t, "b2", result.Results[1].SelectedBranch)
	assert.Equal(t, "std-path", result.Results[2].NodeID)

	ns, err := s.GetNodeState(context.Background(), run.ID, "gold-path")
	require.NoError(t, err)
	assert.Equal(t, schema.NodeStatusSkipped, ns.Status)
}

func TestRun_NonRetryableActivityErrorFailsRun(t *testing.T) {
	inv := &fakeInvoker{action: func(ctx context.Context, runID string, cfg schema.ActionConfig, input map[string]any) (map[string]any, error) {
		return nil, schema.NewError(schema.ErrCodeValidation, "missing recipient")
	}}
	coord, s := newTestCoordinator(t, inv)

	def := schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeTrigger},
			{ID: "notify", Type: schema.NodeTypeAction, Data: mustJSON(t, map[string]any{"activity": "mail.send"})},
			{ID: "after", Type: schema.NodeTypeAction, Data: mustJSON(t, map[string]any{"activity": "mail.send"})},
		},
		Edges: []schema.Edge{
			{Source: "start", Target: "notify"},
			{Source: "notify", Target: "after"},
		},
	}
	run := seedRun(t, s, def, nil)

	result, err := coord.Run(context.Background(), run, nil)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusFailed, result.Status)
	assert.Equal(t, "notify", result.ErrorNodeID)
	require.NotNil(t, result.Error)
	assert.Equal(t, schema.ErrCodeValidation, result.Error.Code)
	// Only the trigger made it into the result log.
	assert.Len(t, result.Results, 1)

	stored, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, stored.Status)
	assert.Equal(t, "notify", stored.ErrorNodeID)
}

func TestRun_UnknownNodeTypeCompletesAsNoOp(t *testing.T) {
	coord, s := newTestCoordinator(t, nil)

	def := schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeTrigger},
			{ID: "mystery", Type: "video.render"},
		},
		Edges: []schema.Edge{{Source: "start", Target: "mystery"}},
	}
	run := seedRun(t, s, def, nil)

	result, err := coord.Run(context.Background(), run, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	require.Len(t, result.Results, 2)
	assert.Equal(t, map[string]any{}, result.Results[1].Output)
}

func TestRun_UnknownWaitTypeFailsRun(t *testing.T) {
	coord, s := newTestCoordinator(t, nil)

	def := schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeTrigger},
			{ID: "pause", Type: schema.NodeTypeWait, Data: mustJSON(t, map[string]any{"type": "lunar_cycle"})},
		},
		Edges: []schema.Edge{{Source: "start", Target: "pause"}},
	}
	run := seedRun(t, s, def, nil)

	result, err := coord.Run(context.Background(), run, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, result.Status)
	assert.Equal(t, "pause", result.ErrorNodeID)
	require.NotNil(t, result.Error)
	assert.Equal(t, schema.ErrCodeConfiguration, result.Error.Code)
}

func TestRun_ShortDurationWait(t *testing.T) {
	coord, s := newTestCoordinator(t, nil)

	def := schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeTrigger},
			{ID: "pause", Type: schema.NodeTypeWait, Data: mustJSON(t, map[string]any{
				"type": "duration", "amount": 0.05, "unit": "seconds",
			})},
			{ID: "after", Type: schema.NodeTypeAction, Data: mustJSON(t, map[string]any{"activity": "mail.send"})},
		},
		Edges: []schema.Edge{
			{Source: "start", Target: "pause"},
			{Source: "pause", Target: "after"},
		},
	}
	run := seedRun(t, s, def, nil)

	result, err := coord.Run(context.Background(), run, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	require.Len(t, result.Results, 3)
	assert.Equal(t, 0.05, result.Results[1].Output["waitSeconds"])

	waits, err := s.ListWaits(context.Background(), store.WaitFilter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, waits, 1)
	assert.Equal(t, store.WaitStatusResolved, waits[0].Status)
}

func TestRun_EventWaitTimesOut(t *testing.T) {
	coord, s := newTestCoordinator(t, nil)

	def := schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeTrigger},
			{ID: "approval", Type: schema.NodeTypeWait, Data: mustJSON(t, map[string]any{
				"type": "event", "event_type": "approved", "timeout_hours": 0.00002,
			})},
		},
		Edges: []schema.Edge{{Source: "start", Target: "approval"}},
	}
	run := seedRun(t, s, def, nil)

	result, err := coord.Run(context.Background(), run, nil)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusFailed, result.Status)
	assert.Equal(t, "approval", result.ErrorNodeID)
	require.NotNil(t, result.Error)
	assert.Equal(t, schema.ErrCodeTimeout, result.Error.Code)

	waits, err := s.ListWaits(context.Background(), store.WaitFilter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, waits, 1)
	assert.Equal(t, store.WaitStatusExpired, waits[0].Status)

	timedOut, err := s.GetEventsByType(context.Background(), schema.EventWaitTimedOut, store.EventFilter{RunID: run.ID})
	require.NoError(t, err)
	assert.Len(t, timedOut, 1)
}

func TestRun_EventWaitResolvedBySignal(t *testing.T) {
	coord, s := newTestCoordinator(t, nil)

	def := schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeTrigger},
			{ID: "approval", Type: schema.NodeTypeWait, Data: mustJSON(t, map[string]any{
				"type": "event", "event_type": "approved", "timeout_hours": 1,
			})},
		},
		Edges: []schema.Edge{{Source: "start", Target: "approval"}},
	}
	run := seedRun(t, s, def, nil)

	done := make(chan *RunResult, 1)
	go func() {
		result, err := coord.Run(context.Background(), run, nil)
		require.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, func() bool {
		r, err := s.GetRun(context.Background(), run.ID)
		return err == nil && r.Status == schema.RunStatusWaiting
	}, 5*time.Second, 10*time.Millisecond)

	// An unrelated signal is recorded and ignored.
	require.NoError(t, coord.Signal(context.Background(), run.ID, schema.Signal{
		EventType: "rejected",
		Payload:   map[string]any{"by": "bob"},
	}))

	require.NoError(t, coord.Signal(context.Background(), run.ID, schema.Signal{
		EventType: "approved",
		Payload:   map[string]any{"by": "alice"},
	}))

	result := <-done
	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	require.Len(t, result.Results, 2)
	assert.Equal(t, "alice", result.Results[1].Output["by"])

	ignored, err := s.GetEventsByType(context.Background(), schema.EventSignalIgnored, store.EventFilter{RunID: run.ID})
	require.NoError(t, err)
	assert.Len(t, ignored, 1)
}

func TestCancel_WaitingRun(t *testing.T) {
	coord, s := newTestCoordinator(t, nil)

	def := schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeTrigger},
			{ID: "approval", Type: schema.NodeTypeWait, Data: mustJSON(t, map[string]any{
				"type": "event", "event_type": "approved", "timeout_hours": 1,
			})},
			{ID: "after", Type: schema.NodeTypeAction, Data: mustJSON(t, map[string]any{"activity": "mail.send"})},
		},
		Edges: []schema.Edge{
			{Source: "start", Target: "approval"},
			{Source: "approval", Target: "after"},
		},
	}
	run := seedRun(t, s, def, nil)

	done := make(chan *RunResult, 1)
	go func() {
		result, err := coord.Run(context.Background(), run, nil)
		require.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, func() bool {
		r, err := s.GetRun(context.Background(), run.ID)
		return err == nil && r.Status == schema.RunStatusWaiting
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, coord.Cancel(context.Background(), run.ID, "operator request"))

	result := <-done
	assert.Equal(t, schema.RunStatusCancelled, result.Status)

	stored, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCancelled, stored.Status)

	// A second cancel conflicts.
	err = coord.Cancel(context.Background(), run.ID, "again")
	require.Error(t, err)
	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, engErr.Code)
}

func TestSignal_NoListenerIsRecordedNoOp(t *testing.T) {
	coord, s := newTestCoordinator(t, nil)

	run := seedRun(t, s, schema.WorkflowDefinition{
		Nodes: []schema.Node{{ID: "start", Type: schema.NodeTypeTrigger}},
	}, nil)

	require.NoError(t, coord.Signal(context.Background(), run.ID, schema.Signal{EventType: "approved"}))

	ignored, err := s.GetEventsByType(context.Background(), schema.EventSignalIgnored, store.EventFilter{RunID: run.ID})
	require.NoError(t, err)
	assert.Len(t, ignored, 1)
}

func TestSignal_OutOfProcessResolvesPendingWait(t *testing.T) {
	coord, s := newTestCoordinator(t, nil)
	ctx := context.Background()

	run := seedRun(t, s, schema.WorkflowDefinition{
		Nodes: []schema.Node{{ID: "start", Type: schema.NodeTypeTrigger}},
	}, nil)

	deadline := time.Now().UTC().Add(time.Hour)
	waitID := uuid.New().String()
	require.NoError(t, s.CreateWait(ctx, &store.PendingWait{
		ID:        waitID,
		RunID:     run.ID,
		NodeID:    "approval",
		Kind:      store.WaitKindEvent,
		EventType: "approved",
		Deadline:  &deadline,
		Status:    store.WaitStatusPending,
	}))

	require.NoError(t, coord.Signal(ctx, run.ID, schema.Signal{
		EventType: "approved",
		Payload:   map[string]any{"by": "alice"},
	}))

	w, err := s.GetWait(ctx, waitID)
	require.NoError(t, err)
	assert.Equal(t, store.WaitStatusResolved, w.Status)
	assert.Contains(t, string(w.Payload), "alice")
}

func TestStatus_ReflectsStoreState(t *testing.T) {
	coord, s := newTestCoordinator(t, nil)

	def := schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeTrigger},
			{ID: "notify", Type: schema.NodeTypeAction, Data: mustJSON(t, map[string]any{"activity": "mail.send"})},
		},
		Edges: []schema.Edge{{Source: "start", Target: "notify"}},
	}
	run := seedRun(t, s, def, nil)

	_, err := coord.Run(context.Background(), run, nil)
	require.NoError(t, err)

	snap, err := coord.Status(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, snap.Status)
	require.Contains(t, snap.Nodes, "notify")
	assert.Equal(t, schema.NodeStatusCompleted, snap.Nodes["notify"].Status)
	assert.Empty(t, snap.PendingWaits)
}

func TestStatus_UnknownRun(t *testing.T) {
	coord, _ := newTestCoordinator(t, nil)

	_, err := coord.Status(context.Background(), "ghost")
	require.Error(t, err)
	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, engErr.Code)
}

func TestRun_NilRunIsValidationError(t *testing.T) {
	coord, _ := newTestCoordinator(t, nil)

	_, err := coord.Run(context.Background(), nil, nil)
	require.Error(t, err)
	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
}

func TestResume_TerminalRunConflicts(t *testing.T) {
	coord, s := newTestCoordinator(t, nil)

	run := seedRun(t, s, schema.WorkflowDefinition{
		Nodes: []schema.Node{{ID: "start", Type: schema.NodeTypeTrigger}},
	}, nil)
	_, err := coord.Run(context.Background(), run, nil)
	require.NoError(t, err)

	_, err = coord.Resume(context.Background(), run.ID)
	require.Error(t, err)
	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, engErr.Code)
}

func TestRun_PoolBoundsConcurrentRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	inv := &fakeInvoker{action: func(ctx context.Context, runID string, cfg schema.ActionConfig, input map[string]any) (map[string]any, error) {
		started <- struct{}{}
		<-release
		return map[string]any{"ok": true}, nil
	}}

	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "strand.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	coord := NewCoordinator(s, inv, nil, CoordinatorConfig{PoolSize: 1}, nil)

	def := schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeTrigger},
			{ID: "work", Type: schema.NodeTypeAction, Data: mustJSON(t, map[string]any{"activity": "mail.send"})},
		},
		Edges: []schema.Edge{{Source: "start", Target: "work"}},
	}
	first := seedRun(t, s, def, nil)
	second := seedRun(t, s, def, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := coord.Run(context.Background(), first, nil)
		assert.NoError(t, err)
	}()
	<-started
	go func() {
		defer wg.Done()
		_, err := coord.Run(context.Background(), second, nil)
		assert.NoError(t, err)
	}()

	// The second run queues behind the single worker slot: it has not been
	// marked active yet while the first run holds the slot.
	time.Sleep(50 * time.Millisecond)
	queued, err := s.GetRun(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusPending, queued.Status)

	close(release)
	wg.Wait()

	for _, id := range []string{first.ID, second.ID} {
		stored, err := s.GetRun(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, schema.RunStatusCompleted, stored.Status)
	}

	pool := coord.(*coordinatorImpl).Pool()
	require.Eventually(t, func() bool {
		return pool.Metrics().Completed == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRun_DeterministicAcrossSerialization(t *testing.T) {
	coord, s := newTestCoordinator(t, nil)

	def := schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeTrigger},
			{ID: "gate", Type: schema.NodeTypeCondition, Data: mustJSON(t, map[string]any{
				"field": "plan", "operator": "equals", "value": "premium",
			})},
			{ID: "upsell", Type: schema.NodeTypeAction, Data: mustJSON(t, map[string]any{"activity": "mail.send"})},
			{ID: "fork", Type: schema.NodeTypeBranch, Data: mustJSON(t, map[string]any{
				"branches": []map[string]any{
					{"id": "eu", "condition": map[string]any{"field": "region", "operator": "equals", "value": "eu"}},
				},
				"default_branch": "other",
			})},
		},
		Edges: []schema.Edge{
			{Source: "start", Target: "gate"},
			{Source: "gate", Target: "upsell", Handle: "true"},
			{Source: "start", Target: "fork"},
		},
	}
	record := map[string]any{"plan": "premium", "region": "us"}
	trigger := map[string]any{"source": "api"}

	// Round-trip the definition through JSON the way it travels over the
	// tool boundary and the store.
	raw, err := json.Marshal(def)
	require.NoError(t, err)
	var roundTripped schema.WorkflowDefinition
	require.NoError(t, json.Unmarshal(raw, &roundTripped))

	runA := seedRun(t, s, def, record)
	runB := seedRun(t, s, roundTripped, record)

	resultA, err := coord.Run(context.Background(), runA, trigger)
	require.NoError(t, err)
	resultB, err := coord.Run(context.Background(), runB, trigger)
	require.NoError(t, err)

	require.Equal(t, resultA.Status, resultB.Status)
	require.Len(t, resultB.Results, len(resultA.Results))
	for i, sa := range resultA.Results {
		sb := resultB.Results[i]
		assert.Equal(t, sa.NodeID, sb.NodeID)
		assert.Equal(t, sa.Status, sb.Status)
		assert.Equal(t, sa.Output, sb.Output)
		assert.Equal(t, sa.ConditionResult, sb.ConditionResult)
		assert.Equal(t, sa.SelectedBranch, sb.SelectedBranch)
	}
}
