package engine

import (
	"context"
	"sync"

	"github.com/strandhq/strand/internal/store"
	"github.com/strandhq/strand/pkg/schema"
)

// EventAppender is satisfied by the Store; FSMs emit log events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending:   {schema.RunStatusActive, schema.RunStatusCancelled},
	schema.RunStatusActive:    {schema.RunStatusWaiting, schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusCancelled},
	schema.RunStatusWaiting:   {schema.RunStatusActive, schema.RunStatusFailed, schema.RunStatusCancelled},
	schema.RunStatusCompleted: {},
	schema.RunStatusFailed:    {},
	schema.RunStatusCancelled: {},
}

// ValidNodeTransitions defines the allowed state transitions for nodes.
var ValidNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusPending:   {schema.NodeStatusRunning, schema.NodeStatusSkipped},
	schema.NodeStatusRunning:   {schema.NodeStatusCompleted, schema.NodeStatusFailed, schema.NodeStatusWaiting, schema.NodeStatusRetrying},
	schema.NodeStatusWaiting:   {schema.NodeStatusRunning, schema.NodeStatusCompleted, schema.NodeStatusFailed, schema.NodeStatusSkipped},
	schema.NodeStatusRetrying:  {schema.NodeStatusRunning, schema.NodeStatusFailed},
	schema.NodeStatusCompleted: {},
	schema.NodeStatusFailed:    {},
	schema.NodeStatusSkipped:   {},
}

// RunFSM manages run lifecycle state transitions.
type RunFSM struct {
	mu       sync.Mutex
	appender EventAppender
}

// NewRunFSM creates a RunFSM that emits events via the given appender.
func NewRunFSM(appender EventAppender) *RunFSM {
	return &RunFSM{appender: appender}
}

// Transition validates and executes a run state transition, emitting the
// corresponding event. The caller persists the new status to the store.
func (f *RunFSM) Transition(ctx context.Context, runID string, from, to schema.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	if eventType := runEventType(to); eventType != "" {
		event := &store.Event{RunID: runID, Type: eventType}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).WithCause(err)
		}
	}
	return nil
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusActive:
		return schema.EventRunStarted
	case schema.RunStatusWaiting:
		return schema.EventRunSuspended
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	case schema.RunStatusCancelled:
		return schema.EventRunCancelled
	default:
		return ""
	}
}

// NodeFSM manages node lifecycle state transitions within a run.
type NodeFSM struct {
	mu       sync.Mutex
	appender EventAppender
}

// NewNodeFSM creates a NodeFSM that emits events via the given appender.
func NewNodeFSM(appender EventAppender) *NodeFSM {
	return &NodeFSM{appender: appender}
}

// Transition validates and executes a node state transition, emitting the
// corresponding event with the given payload.
func (f *NodeFSM) Transition(ctx context.Context, runID, nodeID string, from, to schema.NodeStatus, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidNodeTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid node transition: %s -> %s", from, to).
			WithNode(nodeID).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	if eventType := nodeEventType(to); eventType != "" {
		event := &store.Event{RunID: runID, NodeID: nodeID, Type: eventType, Payload: payload}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit node event: %s", err.Error()).
				WithNode(nodeID).WithCause(err)
		}
	}
	return nil
}

func isValidNodeTransition(from, to schema.NodeStatus) bool {
	for _, a := range ValidNodeTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func nodeEventType(to schema.NodeStatus) string {
	switch to {
	case schema.NodeStatusRunning:
		return schema.EventNodeStarted
	case schema.NodeStatusCompleted:
		return schema.EventNodeCompleted
	case schema.NodeStatusFailed:
		return schema.EventNodeFailed
	case schema.NodeStatusSkipped:
		return schema.EventNodeSkipped
	case schema.NodeStatusRetrying:
		return schema.EventNodeRetrying
	case schema.NodeStatusWaiting:
		return schema.EventNodeWaiting
	default:
		return ""
	}
}

// CancelRun transitions a run to cancelled and skips its non-terminal nodes.
// nodeStates maps node id to the current status of every known node.
func CancelRun(ctx context.Context, runFSM *RunFSM, nodeFSM *NodeFSM, runID string, currentStatus schema.RunStatus, nodeStates map[string]schema.NodeStatus) error {
	if err := runFSM.Transition(ctx, runID, currentStatus, schema.RunStatusCancelled); err != nil {
		return err
	}
	for nodeID, status := range nodeStates {
		if isTerminalNode(status) {
			continue
		}
		if isValidNodeTransition(status, schema.NodeStatusSkipped) {
			if err := nodeFSM.Transition(ctx, runID, nodeID, status, schema.NodeStatusSkipped, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func isTerminalNode(s schema.NodeStatus) bool {
	return s == schema.NodeStatusCompleted || s == schema.NodeStatusFailed || s == schema.NodeStatusSkipped
}
