package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/strandhq/strand/internal/logging"
	"github.com/strandhq/strand/internal/store"
	"github.com/strandhq/strand/pkg/schema"
)

// executeRun walks the execution order and dispatches each node. It is the
// single writer of the run's ExecutionContext and results log.
func (c *coordinatorImpl) executeRun(ctx context.Context, ar *activeRun, startedAt time.Time) *RunResult {
	executed := make(map[string]struct{}, len(ar.ec.ExecutedNodes))
	for _, id := range ar.ec.ExecutedNodes {
		executed[id] = struct{}{}
	}

	for _, nodeID := range ar.graph.Order {
		if ctx.Err() != nil {
			return c.finishCancelled(ar, startedAt)
		}
		if _, done := executed[nodeID]; done {
			continue
		}
		if ar.ec.Skipped(nodeID) {
			c.markSkipped(ctx, ar, nodeID)
			continue
		}

		sr, err := c.dispatchNode(ctx, ar, nodeID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return c.finishCancelled(ar, startedAt)
			}
			return c.finishFailed(ctx, ar, nodeID, err, startedAt)
		}
		ar.results = append(ar.results, *sr)
		ar.ec.MarkExecuted(nodeID)
		executed[nodeID] = struct{}{}
	}

	return c.finishCompleted(ctx, ar, startedAt)
}

// markSkipped records a skipped node exactly once.
func (c *coordinatorImpl) markSkipped(ctx context.Context, ar *activeRun, nodeID string) {
	if _, done := ar.reported[nodeID]; done {
		return
	}
	ar.reported[nodeID] = struct{}{}
	if err := c.nodeFSM.Transition(ctx, ar.runID, nodeID, schema.NodeStatusPending, schema.NodeStatusSkipped, nil); err != nil {
		c.logger.WarnContext(ctx, "skip transition failed", "node_id", nodeID, "error", err)
		return
	}
	_ = c.store.UpsertNodeState(ctx, &store.NodeState{
		RunID:  ar.runID,
		NodeID: nodeID,
		Status: schema.NodeStatusSkipped,
	})
}

// dispatchNode runs one node to a terminal node status and returns its step
// result. A returned error fails the whole run.
func (c *coordinatorImpl) dispatchNode(ctx context.Context, ar *activeRun, nodeID string) (*StepResult, error) {
	node := ar.graph.Node(nodeID)
	ctx = logging.WithNodeID(ctx, nodeID)
	start := time.Now().UTC()

	if err := c.nodeFSM.Transition(ctx, ar.runID, nodeID, schema.NodeStatusPending, schema.NodeStatusRunning, nil); err != nil {
		return nil, err
	}
	if err := c.store.UpsertNodeState(ctx, &store.NodeState{
		RunID:     ar.runID,
		NodeID:    nodeID,
		Status:    schema.NodeStatusRunning,
		StartedAt: &start,
	}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "init node state: %s", err.Error()).WithCause(err).WithNode(nodeID)
	}
	c.publish(ctx, ar.runID, nodeID, schema.EventNodeStarted, nil)

	sr := &StepResult{NodeID: nodeID, Status: schema.NodeStatusCompleted}
	var output map[string]any
	var err error

	switch node.Type {
	case schema.NodeTypeTrigger:
		output = ar.ec.Trigger

	case schema.NodeTypeAction:
		output, err = c.execActivity(ctx, ar, node, StandardRetryPolicy(), c.invoker.InvokeAction)

	case schema.NodeTypeAgent:
		output, err = c.execActivity(ctx, ar, node, LLMRetryPolicy(), c.invoker.InvokeAgent)

	case schema.NodeTypeCondition:
		output, sr.ConditionResult, err = c.execCondition(ctx, ar, node)

	case schema.NodeTypeBranch:
		output, sr.SelectedBranch, err = c.execBranch(ctx, ar, node)

	case schema.NodeTypeWait:
		output, err = c.execWait(ctx, ar, node, start)

	default:
		// Unrecognized node types complete with no side effect, keeping old
		// definitions runnable as the type set grows.
		c.logger.WarnContext(ctx, "unknown node type", "type", string(node.Type))
		output = map[string]any{}
	}

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.failNode(ctx, ar, nodeID, start, err)
		}
		return nil, err
	}

	payload, _ := json.Marshal(output)
	from := schema.NodeStatusRunning
	if node.Type == schema.NodeTypeWait {
		from = schema.NodeStatusWaiting
	}
	if terr := c.nodeFSM.Transition(ctx, ar.runID, nodeID, from, schema.NodeStatusCompleted, payload); terr != nil {
		return nil, terr
	}
	end := time.Now().UTC()
	if serr := c.store.UpsertNodeState(ctx, &store.NodeState{
		RunID:       ar.runID,
		NodeID:      nodeID,
		Status:      schema.NodeStatusCompleted,
		Output:      payload,
		StartedAt:   &start,
		CompletedAt: &end,
		DurationMs:  end.Sub(start).Milliseconds(),
	}); serr != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "persist node state: %s", serr.Error()).WithCause(serr).WithNode(nodeID)
	}
	c.publish(ctx, ar.runID, nodeID, schema.EventNodeCompleted, output)

	if verr := ar.ec.SetVariable(nodeID, output); verr != nil {
		return nil, verr
	}
	sr.Output = output
	sr.Timestamp = end
	if sr.ConditionResult != nil || sr.SelectedBranch != "" {
		sr.Output = nil
	}
	return sr, nil
}

// execActivity applies a retry policy around an activity call, surfacing
// each retry in the event log.
func (c *coordinatorImpl) execActivity(ctx context.Context, ar *activeRun, node *schema.Node, policy RetryPolicy, call func(ctx context.Context, runID string, cfg schema.ActionConfig, input map[string]any) (map[string]any, error)) (map[string]any, error) {
	var cfg schema.ActionConfig
	if len(node.Data) > 0 {
		if err := json.Unmarshal(node.Data, &cfg); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "malformed node data: %s", err.Error()).WithNode(node.ID)
		}
	}

	onRetry := func(attempt int, lastErr error) {
		c.logger.WarnContext(ctx, "activity retrying", "attempt", attempt, "error", lastErr)
		if terr := c.nodeFSM.Transition(ctx, ar.runID, node.ID, schema.NodeStatusRunning, schema.NodeStatusRetrying, nil); terr == nil {
			_ = c.nodeFSM.Transition(ctx, ar.runID, node.ID, schema.NodeStatusRetrying, schema.NodeStatusRunning, nil)
		}
	}

	return CallWithRetry(ctx, policy, func(callCtx context.Context) (map[string]any, error) {
		return call(callCtx, ar.runID, cfg, ar.ec.EvalData())
	}, onRetry)
}

// execCondition evaluates the node's predicate and sends the non-taken
// handle's downstream closure to the skip set.
func (c *coordinatorImpl) execCondition(ctx context.Context, ar *activeRun, node *schema.Node) (map[string]any, *bool, error) {
	var spec schema.ConditionSpec
	if len(node.Data) > 0 {
		if err := json.Unmarshal(node.Data, &spec); err != nil {
			return nil, nil, schema.NewErrorf(schema.ErrCodeConfiguration, "malformed condition data: %s", err.Error()).WithNode(node.ID)
		}
	}

	result := EvaluateCondition(spec, ar.ec.EvalData())

	nonTaken := schema.HandleTrue
	if result {
		nonTaken = schema.HandleFalse
	}
	var starts []string
	for _, e := range ar.graph.EdgesFrom(node.ID, nonTaken) {
		starts = append(starts, e.Target)
	}
	ar.ec.Skip(ar.graph.DownstreamClosure(starts))

	payload, _ := json.Marshal(map[string]any{
		"field":    spec.Field,
		"operator": spec.Operator,
		"result":   result,
	})
	if err := c.store.AppendEvent(ctx, &store.Event{
		RunID:   ar.runID,
		NodeID:  node.ID,
		Type:    schema.EventConditionEvaluated,
		Payload: payload,
	}); err != nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeStore, "emit condition event: %s", err.Error()).WithCause(err)
	}

	return map[string]any{"conditionResult": result}, &result, nil
}

// execBranch picks the first branch whose condition holds, falling back to
// the configured default, and skips every other outgoing path.
func (c *coordinatorImpl) execBranch(ctx context.Context, ar *activeRun, node *schema.Node) (map[string]any, string, error) {
	var cfg schema.BranchConfig
	if len(node.Data) > 0 {
		if err := json.Unmarshal(node.Data, &cfg); err != nil {
			return nil, "", schema.NewErrorf(schema.ErrCodeConfiguration, "malformed branch data: %s", err.Error()).WithNode(node.ID)
		}
	}

	selected := cfg.DefaultBranch
	data := ar.ec.EvalData()
	for _, br := range cfg.Branches {
		if EvaluateCondition(br.Condition, data) {
			selected = br.ID
			break
		}
	}

	var starts []string
	for _, e := range ar.graph.OutEdges(node.ID) {
		if !handleMatches(e.Handle, selected) {
			starts = append(starts, e.Target)
		}
	}
	ar.ec.Skip(ar.graph.DownstreamClosure(starts))

	payload, _ := json.Marshal(map[string]any{"selectedBranch": selected})
	if err := c.store.AppendEvent(ctx, &store.Event{
		RunID:   ar.runID,
		NodeID:  node.ID,
		Type:    schema.EventBranchSelected,
		Payload: payload,
	}); err != nil {
		return nil, "", schema.NewErrorf(schema.ErrCodeStore, "emit branch event: %s", err.Error()).WithCause(err)
	}

	return map[string]any{"selectedBranch": selected}, selected, nil
}

func unitSeconds(unit string) float64 {
	switch unit {
	case "seconds":
		return 1
	case "minutes":
		return 60
	case "hours":
		return 3600
	case "days":
		return 86400
	default:
		// Unknown units read as hours.
		return 3600
	}
}

// execWait suspends the run, durably. Both wait kinds persist a pending_waits
// row carrying the absolute deadline before parking, so a restarted worker
// resumes with the remaining time instead of starting over.
func (c *coordinatorImpl) execWait(ctx context.Context, ar *activeRun, node *schema.Node, start time.Time) (map[string]any, error) {
	var cfg schema.WaitConfig
	if len(node.Data) > 0 {
		if err := json.Unmarshal(node.Data, &cfg); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "malformed wait data: %s", err.Error()).WithNode(node.ID)
		}
	}

	switch cfg.Type {
	case schema.WaitDuration:
		return c.waitDuration(ctx, ar, node.ID, cfg)
	case schema.WaitEvent:
		return c.waitEvent(ctx, ar, node.ID, cfg)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "unknown wait type %q", cfg.Type).WithNode(node.ID)
	}
}

// suspend transitions node and run into their waiting states.
func (c *coordinatorImpl) suspend(ctx context.Context, ar *activeRun, nodeID string) error {
	if err := c.nodeFSM.Transition(ctx, ar.runID, nodeID, schema.NodeStatusRunning, schema.NodeStatusWaiting, nil); err != nil {
		return err
	}
	if err := c.runFSM.Transition(ctx, ar.runID, schema.RunStatusActive, schema.RunStatusWaiting); err != nil {
		return err
	}
	waiting := schema.RunStatusWaiting
	if err := c.store.UpdateRun(ctx, ar.runID, store.RunUpdate{Status: &waiting}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update run status: %s", err.Error()).WithCause(err)
	}
	c.publish(ctx, ar.runID, nodeID, schema.EventRunSuspended, nil)
	return nil
}

// wake transitions the run back to active after a wait, whatever its outcome.
func (c *coordinatorImpl) wake(ctx context.Context, ar *activeRun) error {
	if err := c.runFSM.Transition(ctx, ar.runID, schema.RunStatusWaiting, schema.RunStatusActive); err != nil {
		return err
	}
	active := schema.RunStatusActive
	if err := c.store.UpdateRun(ctx, ar.runID, store.RunUpdate{Status: &active}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update run status: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (c *coordinatorImpl) waitDuration(ctx context.Context, ar *activeRun, nodeID string, cfg schema.WaitConfig) (map[string]any, error) {
	seconds := cfg.Amount * unitSeconds(cfg.Unit)
	deadline := time.Now().UTC().Add(time.Duration(seconds * float64(time.Second)))

	waitID := ""
	if w, ok := ar.waits[nodeID]; ok && w.Status == store.WaitStatusPending && w.Deadline != nil {
		// Resuming a wait that was already pending: only the remainder is left.
		deadline = *w.Deadline
		waitID = w.ID
	} else {
		waitID = uuid.New().String()
		if err := c.store.CreateWait(ctx, &store.PendingWait{
			ID:       waitID,
			RunID:    ar.runID,
			NodeID:   nodeID,
			Kind:     store.WaitKindDuration,
			Deadline: &deadline,
			Status:   store.WaitStatusPending,
		}); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "persist wait: %s", err.Error()).WithCause(err)
		}
	}

	if err := c.suspend(ctx, ar, nodeID); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "duration wait", "seconds", seconds, "deadline", deadline)

	if remaining := time.Until(deadline); remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := c.store.ResolveWait(ctx, waitID, store.WaitStatusResolved, nil); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "resolve wait: %s", err.Error()).WithCause(err)
	}
	if err := c.wake(ctx, ar); err != nil {
		return nil, err
	}
	return map[string]any{"waitSeconds": seconds}, nil
}

func (c *coordinatorImpl) waitEvent(ctx context.Context, ar *activeRun, nodeID string, cfg schema.WaitConfig) (map[string]any, error) {
	timeout := time.Duration(cfg.TimeoutHours * float64(time.Hour))
	if timeout <= 0 {
		timeout = defaultEventTimeout
	}
	deadline := time.Now().UTC().Add(timeout)

	waitID := ""
	if w, ok := ar.waits[nodeID]; ok {
		switch w.Status {
		case store.WaitStatusResolved:
			// The signal arrived while no worker was driving the run.
			if err := c.nodeFSM.Transition(ctx, ar.runID, nodeID, schema.NodeStatusRunning, schema.NodeStatusWaiting, nil); err != nil {
				return nil, err
			}
			var payload map[string]any
			if len(w.Payload) > 0 {
				_ = json.Unmarshal(w.Payload, &payload)
			}
			return payload, nil
		case store.WaitStatusPending:
			if w.Deadline != nil {
				deadline = *w.Deadline
			}
			waitID = w.ID
		}
	}
	if waitID == "" {
		waitID = uuid.New().String()
		if err := c.store.CreateWait(ctx, &store.PendingWait{
			ID:        waitID,
			RunID:     ar.runID,
			NodeID:    nodeID,
			Kind:      store.WaitKindEvent,
			EventType: cfg.EventType,
			Deadline:  &deadline,
			Status:    store.WaitStatusPending,
		}); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "persist wait: %s", err.Error()).WithCause(err)
		}
	}

	if err := c.suspend(ctx, ar, nodeID); err != nil {
		return nil, err
	}
	if err := c.store.AppendEvent(ctx, &store.Event{
		RunID:  ar.runID,
		NodeID: nodeID,
		Type:   schema.EventWaitStarted,
	}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "emit wait event: %s", err.Error()).WithCause(err)
	}
	c.logger.InfoContext(ctx, "event wait", "event_type", cfg.EventType, "deadline", deadline)

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		select {
		case sig := <-ar.signals:
			if sig.EventType != cfg.EventType {
				ignored, _ := json.Marshal(sig)
				_ = c.store.AppendEvent(ctx, &store.Event{
					RunID:   ar.runID,
					NodeID:  nodeID,
					Type:    schema.EventSignalIgnored,
					Payload: ignored,
				})
				continue
			}
			sigPayload, _ := json.Marshal(sig.Payload)
			if err := c.store.ResolveWait(ctx, waitID, store.WaitStatusResolved, sigPayload); err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeStore, "resolve wait: %s", err.Error()).WithCause(err)
			}
			if err := c.store.AppendEvent(ctx, &store.Event{
				RunID:   ar.runID,
				NodeID:  nodeID,
				Type:    schema.EventWaitCompleted,
				Payload: sigPayload,
			}); err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeStore, "emit wait event: %s", err.Error()).WithCause(err)
			}
			if err := c.wake(ctx, ar); err != nil {
				return nil, err
			}
			return sig.Payload, nil

		case <-timer.C:
			_ = c.store.ResolveWait(ctx, waitID, store.WaitStatusExpired, nil)
			timeoutErr := schema.NewErrorf(schema.ErrCodeTimeout,
				"event %q not received within %s", cfg.EventType, timeout).WithNode(nodeID)
			payload, _ := json.Marshal(timeoutErr)
			_ = c.store.AppendEvent(ctx, &store.Event{
				RunID:   ar.runID,
				NodeID:  nodeID,
				Type:    schema.EventWaitTimedOut,
				Payload: payload,
			})
			if err := c.wake(ctx, ar); err != nil {
				return nil, err
			}
			return nil, timeoutErr

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// failNode records a node failure in the log and materialized state.
func (c *coordinatorImpl) failNode(ctx context.Context, ar *activeRun, nodeID string, start time.Time, cause error) {
	errPayload := marshalError(cause)
	from := schema.NodeStatusRunning
	if node := ar.graph.Node(nodeID); node != nil && node.Type == schema.NodeTypeWait {
		from = schema.NodeStatusWaiting
	}
	if terr := c.nodeFSM.Transition(ctx, ar.runID, nodeID, from, schema.NodeStatusFailed, errPayload); terr != nil {
		c.logger.WarnContext(ctx, "fail transition failed", "node_id", nodeID, "error", terr)
	}
	end := time.Now().UTC()
	_ = c.store.UpsertNodeState(ctx, &store.NodeState{
		RunID:       ar.runID,
		NodeID:      nodeID,
		Status:      schema.NodeStatusFailed,
		Error:       errPayload,
		StartedAt:   &start,
		CompletedAt: &end,
		DurationMs:  end.Sub(start).Milliseconds(),
	})
	c.publish(ctx, ar.runID, nodeID, schema.EventNodeFailed, string(errPayload))
}

func (c *coordinatorImpl) finishCompleted(ctx context.Context, ar *activeRun, startedAt time.Time) *RunResult {
	now := time.Now().UTC()
	if err := c.runFSM.Transition(ctx, ar.runID, schema.RunStatusActive, schema.RunStatusCompleted); err != nil {
		c.logger.WarnContext(ctx, "complete transition failed", "error", err)
	}
	completed := schema.RunStatusCompleted
	if err := c.store.UpdateRun(ctx, ar.runID, store.RunUpdate{Status: &completed, CompletedAt: &now}); err != nil {
		c.logger.ErrorContext(ctx, "persist run completion failed", "error", err)
	}
	c.publish(ctx, ar.runID, "", schema.EventRunCompleted, nil)
	c.logger.InfoContext(ctx, "run completed", "steps", len(ar.results))

	return &RunResult{
		RunID:       ar.runID,
		Status:      schema.RunStatusCompleted,
		Results:     ar.results,
		StartedAt:   startedAt,
		CompletedAt: &now,
	}
}

func (c *coordinatorImpl) finishFailed(ctx context.Context, ar *activeRun, nodeID string, cause error, startedAt time.Time) *RunResult {
	now := time.Now().UTC()
	engErr := asEngineError(cause)

	if err := c.runFSM.Transition(ctx, ar.runID, schema.RunStatusActive, schema.RunStatusFailed); err != nil {
		c.logger.WarnContext(ctx, "fail transition failed", "error", err)
	}
	failed := schema.RunStatusFailed
	errPayload := marshalError(engErr)
	if err := c.store.UpdateRun(ctx, ar.runID, store.RunUpdate{
		Status:      &failed,
		Error:       errPayload,
		ErrorNodeID: &nodeID,
		CompletedAt: &now,
	}); err != nil {
		c.logger.ErrorContext(ctx, "persist run failure failed", "error", err)
	}
	c.publish(ctx, ar.runID, nodeID, schema.EventRunFailed, string(errPayload))
	c.logger.ErrorContext(ctx, "run failed", "node_id", nodeID, "error", engErr)

	return &RunResult{
		RunID:       ar.runID,
		Status:      schema.RunStatusFailed,
		Results:     ar.results,
		Error:       engErr,
		ErrorNodeID: nodeID,
		StartedAt:   startedAt,
		CompletedAt: &now,
	}
}

// finishCancelled returns the partial result for a cancelled run. Cancel()
// already persisted the terminal status and cascade; if the context died for
// any other reason the run is cancelled here instead.
func (c *coordinatorImpl) finishCancelled(ar *activeRun, startedAt time.Time) *RunResult {
	ctx := context.WithoutCancel(context.Background())
	now := time.Now().UTC()

	if run, err := c.store.GetRun(ctx, ar.runID); err == nil && !run.Status.Terminal() {
		cancelled := schema.RunStatusCancelled
		_ = c.runFSM.Transition(ctx, ar.runID, run.Status, schema.RunStatusCancelled)
		_ = c.store.UpdateRun(ctx, ar.runID, store.RunUpdate{Status: &cancelled, CompletedAt: &now})
	}
	c.publish(ctx, ar.runID, "", schema.EventRunCancelled, nil)

	return &RunResult{
		RunID:       ar.runID,
		Status:      schema.RunStatusCancelled,
		Results:     ar.results,
		StartedAt:   startedAt,
		CompletedAt: &now,
	}
}

func asEngineError(err error) *schema.EngineError {
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return engErr
	}
	return schema.NewErrorf(schema.ErrCodeExecution, "%s", err.Error()).WithCause(err)
}

func marshalError(err error) []byte {
	payload, merr := json.Marshal(asEngineError(err))
	if merr != nil {
		payload, _ = json.Marshal(map[string]string{"message": err.Error()})
	}
	return payload
}
