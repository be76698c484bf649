package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/strandhq/strand/internal/logging"
	"github.com/strandhq/strand/internal/store"
	"github.com/strandhq/strand/internal/streaming"
	"github.com/strandhq/strand/pkg/schema"
)

// Coordinator drives workflow runs: it walks the execution order, dispatches
// nodes by type, and owns suspension, resumption, signals, and cancellation.
type Coordinator interface {
	// Run starts a new run from a persisted record.
	Run(ctx context.Context, run *store.Run, trigger map[string]any) (*RunResult, error)

	// Resume continues a suspended or interrupted run from its event log.
	// Completed nodes are never re-dispatched.
	Resume(ctx context.Context, runID string) (*RunResult, error)

	// Signal delivers an out-of-band event to a run. Signals for runs past
	// their wait are recorded and ignored, so redelivery is harmless.
	Signal(ctx context.Context, runID string, sig schema.Signal) error

	// Cancel terminates a run with a reason, skipping its pending nodes.
	Cancel(ctx context.Context, runID, reason string) error

	// Status returns a store-backed snapshot, valid for terminal runs too.
	Status(ctx context.Context, runID string) (*StatusSnapshot, error)
}

// StatusSnapshot is the queryable view of a run at a point in time.
type StatusSnapshot struct {
	RunID        string                      `json:"run_id"`
	Status       schema.RunStatus            `json:"status"`
	Nodes        map[string]*store.NodeState `json:"nodes,omitempty"`
	PendingWaits []*store.PendingWait        `json:"pending_waits,omitempty"`
	Error        json.RawMessage             `json:"error,omitempty"`
	ErrorNodeID  string                      `json:"error_node_id,omitempty"`
}

// Invoker executes side-effecting activity calls for action and agent nodes.
// The coordinator does not know what an activity does; it only applies the
// retry policy around the call.
type Invoker interface {
	InvokeAction(ctx context.Context, runID string, cfg schema.ActionConfig, input map[string]any) (map[string]any, error)
	InvokeAgent(ctx context.Context, runID string, cfg schema.ActionConfig, input map[string]any) (map[string]any, error)
}

// DefaultPoolSize is the default max number of concurrent runs.
const DefaultPoolSize = 10

// defaultEventTimeout applies when an event wait has no timeoutHours.
const defaultEventTimeout = 24 * time.Hour

// signalBufferSize is the per-run in-process signal channel capacity.
const signalBufferSize = 16

// CoordinatorConfig holds coordinator tunables.
type CoordinatorConfig struct {
	PoolSize int
}

type coordinatorImpl struct {
	store    store.Store
	eventLog *store.EventLog
	runFSM   *RunFSM
	nodeFSM  *NodeFSM
	invoker  Invoker
	hub      streaming.EventHub
	pool     *WorkerPool
	logger   *slog.Logger

	// mu guards running.
	mu      sync.Mutex
	running map[string]*activeRun
}

// activeRun tracks one in-flight run. Its fields are only touched by the
// goroutine driving the run, except cancel and signals.
type activeRun struct {
	runID   string
	graph   *Graph
	ec      *ExecutionContext
	cancel  context.CancelFunc
	signals chan schema.Signal
	results []StepResult
	// waits holds unresolved pending_waits rows loaded at resume, by node id.
	waits map[string]*store.PendingWait
	// reported tracks skipped nodes whose node_skipped event is already in
	// the log, so replayed skips are not re-emitted.
	reported map[string]struct{}
}

// NewCoordinator creates a Coordinator. hub may be nil to disable streaming.
func NewCoordinator(s store.Store, invoker Invoker, hub streaming.EventHub, cfg CoordinatorConfig, logger *slog.Logger) Coordinator {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &coordinatorImpl{
		store:    s,
		eventLog: store.NewEventLog(s),
		runFSM:   NewRunFSM(s),
		nodeFSM:  NewNodeFSM(s),
		invoker:  invoker,
		hub:      hub,
		pool:     NewWorkerPool(cfg.PoolSize),
		logger:   logger,
		running:  make(map[string]*activeRun),
	}
}

// Pool exposes the run pool, mainly for metrics.
func (c *coordinatorImpl) Pool() *WorkerPool { return c.pool }

func (c *coordinatorImpl) Run(ctx context.Context, run *store.Run, trigger map[string]any) (*RunResult, error) {
	if run == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "run is nil")
	}
	ctx = logging.WithRunID(ctx, run.ID)
	return c.dispatch(ctx, func(runCtx context.Context) (*RunResult, error) {
		return c.startRun(runCtx, run, trigger)
	})
}

// dispatch executes fn on a pool worker and waits for it, so PoolSize bounds
// how many runs execute at once across every entrypoint. A run parked on a
// wait still holds its slot.
func (c *coordinatorImpl) dispatch(ctx context.Context, fn func(ctx context.Context) (*RunResult, error)) (*RunResult, error) {
	var (
		result *RunResult
		runErr error
	)
	done := make(chan struct{})
	if err := c.pool.Submit(ctx, func(runCtx context.Context) error {
		defer close(done)
		result, runErr = fn(runCtx)
		return runErr
	}); err != nil {
		if errors.Is(err, ErrPoolShutdown) {
			return nil, schema.NewError(schema.ErrCodeConflict, "engine is shutting down")
		}
		return nil, schema.NewErrorf(schema.ErrCodeCancelled, "run not started: %s", err.Error()).WithCause(err)
	}
	<-done
	if result == nil && runErr == nil {
		// The pool recovered a panic before fn returned.
		return nil, schema.NewError(schema.ErrCodeExecution, "run worker exited unexpectedly")
	}
	return result, runErr
}

func (c *coordinatorImpl) startRun(ctx context.Context, run *store.Run, trigger map[string]any) (*RunResult, error) {
	graph, err := CompileGraph(&run.Definition)
	if err != nil {
		return nil, err
	}

	if err := c.runFSM.Transition(ctx, run.ID, run.Status, schema.RunStatusActive); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	active := schema.RunStatusActive
	if err := c.store.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &active, StartedAt: &now}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "update run status: %s", err.Error()).WithCause(err)
	}

	if trigger == nil {
		trigger = run.Trigger
	}
	execCtx, execCancel := context.WithCancel(ctx)
	ar := &activeRun{
		runID:    run.ID,
		graph:    graph,
		ec:       NewExecutionContext(run.RecordData, trigger),
		cancel:   execCancel,
		signals:  make(chan schema.Signal, signalBufferSize),
		waits:    make(map[string]*store.PendingWait),
		reported: make(map[string]struct{}),
	}
	c.register(ar)

	c.logger.InfoContext(ctx, "run started", "nodes", len(graph.Nodes))
	result := c.executeRun(execCtx, ar, now)

	execCancel()
	c.unregister(run.ID)
	return result, nil
}

func (c *coordinatorImpl) Resume(ctx context.Context, runID string) (*RunResult, error) {
	ctx = logging.WithRunID(ctx, runID)
	return c.dispatch(ctx, func(runCtx context.Context) (*RunResult, error) {
		return c.resumeRun(runCtx, runID)
	})
}

func (c *coordinatorImpl) resumeRun(ctx context.Context, runID string) (*RunResult, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "cannot resume run in status %s", run.Status)
	}

	graph, err := CompileGraph(&run.Definition)
	if err != nil {
		return nil, err
	}

	snap, err := c.eventLog.Replay(ctx, runID)
	if err != nil {
		return nil, err
	}

	ec := NewExecutionContext(run.RecordData, run.Trigger)
	var results []StepResult
	for _, nodeID := range graph.Order {
		ns, ok := snap.NodeStates[nodeID]
		if !ok {
			continue
		}
		switch ns.Status {
		case schema.NodeStatusSkipped:
			ec.SkipSet[nodeID] = struct{}{}
		case schema.NodeStatusCompleted:
			ec.MarkExecuted(nodeID)
			sr := StepResult{NodeID: nodeID, Status: schema.NodeStatusCompleted}
			if ns.CompletedAt != nil {
				sr.Timestamp = *ns.CompletedAt
			}
			var output map[string]any
			if len(ns.Output) > 0 {
				_ = json.Unmarshal(ns.Output, &output)
			}
			decorateReplayedResult(&sr, graph.Node(nodeID), output)
			ec.Variables[nodeID] = output
			results = append(results, sr)
		}
	}

	// Skipped nodes recorded via cancel or branch closure may not appear in
	// graph order events yet; fold in everything the log says was skipped.
	for nodeID, ns := range snap.NodeStates {
		if ns.Status == schema.NodeStatusSkipped {
			ec.SkipSet[nodeID] = struct{}{}
		}
	}

	waits, err := c.store.ListWaits(ctx, store.WaitFilter{RunID: runID})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list waits: %s", err.Error()).WithCause(err)
	}
	waitsByNode := make(map[string]*store.PendingWait)
	for _, w := range waits {
		waitsByNode[w.NodeID] = w
	}

	startedAt := time.Now().UTC()
	if run.StartedAt != nil {
		startedAt = *run.StartedAt
	}

	if run.Status != schema.RunStatusActive {
		if err := c.runFSM.Transition(ctx, runID, run.Status, schema.RunStatusActive); err != nil {
			return nil, err
		}
		active := schema.RunStatusActive
		if err := c.store.UpdateRun(ctx, runID, store.RunUpdate{Status: &active}); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "update run status: %s", err.Error()).WithCause(err)
		}
		if run.Status == schema.RunStatusWaiting {
			if err := c.store.AppendEvent(ctx, &store.Event{RunID: runID, Type: schema.EventRunResumed}); err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeStore, "emit resume event: %s", err.Error()).WithCause(err)
			}
		}
	}

	reported := make(map[string]struct{}, len(ec.SkipSet))
	for id := range ec.SkipSet {
		reported[id] = struct{}{}
	}

	execCtx, execCancel := context.WithCancel(ctx)
	ar := &activeRun{
		runID:    runID,
		graph:    graph,
		ec:       ec,
		cancel:   execCancel,
		signals:  make(chan schema.Signal, signalBufferSize),
		results:  results,
		waits:    waitsByNode,
		reported: reported,
	}
	c.register(ar)

	c.logger.InfoContext(ctx, "run resumed", "executed", len(ec.ExecutedNodes), "skipped", len(ec.SkipSet))
	result := c.executeRun(execCtx, ar, startedAt)

	execCancel()
	c.unregister(runID)
	return result, nil
}

// decorateReplayedResult restores the condition/branch fields of a replayed
// step result from the node's stored output payload.
func decorateReplayedResult(sr *StepResult, node *schema.Node, output map[string]any) {
	if node == nil {
		sr.Output = output
		return
	}
	switch node.Type {
	case schema.NodeTypeCondition:
		if v, ok := output["conditionResult"].(bool); ok {
			sr.ConditionResult = &v
		}
	case schema.NodeTypeBranch:
		if v, ok := output["selectedBranch"].(string); ok {
			sr.SelectedBranch = v
		}
	default:
		sr.Output = output
	}
}

func (c *coordinatorImpl) Signal(ctx context.Context, runID string, sig schema.Signal) error {
	ctx = logging.WithRunID(ctx, runID)

	payload, _ := json.Marshal(sig)
	if err := c.store.AppendEvent(ctx, &store.Event{
		RunID:   runID,
		Type:    schema.EventSignalReceived,
		Payload: payload,
	}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit signal event: %s", err.Error()).WithCause(err)
	}

	// In-process delivery first: the waiting goroutine consumes directly.
	c.mu.Lock()
	ar, inProcess := c.running[runID]
	c.mu.Unlock()
	if inProcess {
		select {
		case ar.signals <- sig:
			return nil
		default:
			return schema.NewError(schema.ErrCodeSignalFailed, "signal channel full")
		}
	}

	// Out-of-process: resolve a matching pending wait so the next Resume
	// consumes the payload.
	waits, err := c.store.ListWaits(ctx, store.WaitFilter{
		RunID:     runID,
		EventType: sig.EventType,
		Status:    store.WaitStatusPending,
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "list waits: %s", err.Error()).WithCause(err)
	}
	if len(waits) > 0 {
		sigPayload, _ := json.Marshal(sig.Payload)
		if err := c.store.ResolveWait(ctx, waits[0].ID, store.WaitStatusResolved, sigPayload); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "resolve wait: %s", err.Error()).WithCause(err)
		}
		return nil
	}

	// No one is listening. Record and ignore so redelivery stays a no-op.
	c.logger.InfoContext(ctx, "signal ignored", "event_type", sig.EventType)
	return c.store.AppendEvent(ctx, &store.Event{
		RunID:   runID,
		Type:    schema.EventSignalIgnored,
		Payload: payload,
	})
}

func (c *coordinatorImpl) Cancel(ctx context.Context, runID, reason string) error {
	ctx = logging.WithRunID(ctx, runID)

	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return schema.NewErrorf(schema.ErrCodeConflict, "run already %s", run.Status)
	}

	nodeStates, err := c.store.ListNodeStates(ctx, runID)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "list node states: %s", err.Error()).WithCause(err)
	}
	stateMap := make(map[string]schema.NodeStatus, len(nodeStates))
	for _, ns := range nodeStates {
		stateMap[ns.NodeID] = ns.Status
	}

	if err := CancelRun(ctx, c.runFSM, c.nodeFSM, runID, run.Status, stateMap); err != nil {
		return err
	}

	cancelled := schema.RunStatusCancelled
	now := time.Now().UTC()
	errPayload, _ := json.Marshal(map[string]string{"reason": reason})
	if err := c.store.UpdateRun(ctx, runID, store.RunUpdate{
		Status:      &cancelled,
		Error:       errPayload,
		CompletedAt: &now,
	}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update run status: %s", err.Error()).WithCause(err)
	}

	for _, ns := range nodeStates {
		if isValidNodeTransition(ns.Status, schema.NodeStatusSkipped) {
			ns.Status = schema.NodeStatusSkipped
			if err := c.store.UpsertNodeState(ctx, ns); err != nil {
				return schema.NewErrorf(schema.ErrCodeStore, "update node state %s: %s", ns.NodeID, err.Error()).WithCause(err)
			}
		}
	}

	// Wake the driving goroutine if the run is in flight here.
	c.mu.Lock()
	if ar, ok := c.running[runID]; ok {
		ar.cancel()
	}
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "run cancelled", "reason", reason)
	return nil
}

func (c *coordinatorImpl) Status(ctx context.Context, runID string) (*StatusSnapshot, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	nodeStates, err := c.store.ListNodeStates(ctx, runID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list node states: %s", err.Error()).WithCause(err)
	}
	nodes := make(map[string]*store.NodeState, len(nodeStates))
	for _, ns := range nodeStates {
		nodes[ns.NodeID] = ns
	}

	snapshot := &StatusSnapshot{
		RunID:       runID,
		Status:      run.Status,
		Nodes:       nodes,
		Error:       run.Error,
		ErrorNodeID: run.ErrorNodeID,
	}

	if run.Status == schema.RunStatusWaiting {
		waits, err := c.store.ListWaits(ctx, store.WaitFilter{RunID: runID, Status: store.WaitStatusPending})
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "list waits: %s", err.Error()).WithCause(err)
		}
		snapshot.PendingWaits = waits
	}

	return snapshot, nil
}

func (c *coordinatorImpl) register(ar *activeRun) {
	c.mu.Lock()
	c.running[ar.runID] = ar
	c.mu.Unlock()
}

func (c *coordinatorImpl) unregister(runID string) {
	c.mu.Lock()
	delete(c.running, runID)
	c.mu.Unlock()
}

func (c *coordinatorImpl) publish(ctx context.Context, runID, nodeID, eventType string, payload any) {
	if c.hub == nil {
		return
	}
	_ = c.hub.Publish(ctx, streaming.StreamEvent{
		RunID:     runID,
		NodeID:    nodeID,
		EventType: eventType,
		Payload:   payload,
	})
}
