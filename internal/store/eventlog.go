package store

import (
	"context"
	"fmt"

	"github.com/strandhq/strand/pkg/schema"
)

// EventLog provides replay operations on top of a Store's append-only log.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store to provide event-sourcing replay.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// Append appends an event to the log.
func (el *EventLog) Append(ctx context.Context, event *Event) error {
	return el.store.AppendEvent(ctx, event)
}

// Events returns events for a run with sequence > since, ordered by sequence ASC.
func (el *EventLog) Events(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// ReplaySnapshot is the reconstructed state of a run derived purely from
// its event log.
type ReplaySnapshot struct {
	RunID        string
	NodeStates   map[string]*NodeState
	LastSequence int64
	Events       []*Event
}

// Completed reports whether the given node finished successfully.
func (rs *ReplaySnapshot) Completed(nodeID string) bool {
	st, ok := rs.NodeStates[nodeID]
	return ok && st.Status == schema.NodeStatusCompleted
}

// Skipped reports whether the given node was skipped.
func (rs *ReplaySnapshot) Skipped(nodeID string) bool {
	st, ok := rs.NodeStates[nodeID]
	return ok && st.Status == schema.NodeStatusSkipped
}

// Replay rebuilds node states for a run from its event log. It validates
// that sequences are contiguous starting at 1; a gap means the log was
// corrupted and the run cannot be trusted for resumption.
func (el *EventLog) Replay(ctx context.Context, runID string) (*ReplaySnapshot, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	snap := &ReplaySnapshot{
		RunID:      runID,
		NodeStates: make(map[string]*NodeState),
		Events:     events,
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}
	if n := len(events); n > 0 {
		snap.LastSequence = events[n-1].Sequence
	}

	for _, e := range events {
		if e.NodeID == "" {
			continue
		}

		ns, ok := snap.NodeStates[e.NodeID]
		if !ok {
			ns = &NodeState{
				RunID:  runID,
				NodeID: e.NodeID,
				Status: schema.NodeStatusPending,
			}
			snap.NodeStates[e.NodeID] = ns
		}

		switch e.Type {
		case schema.EventNodeStarted:
			ns.Status = schema.NodeStatusRunning
			ts := e.Timestamp
			ns.StartedAt = &ts

		case schema.EventNodeCompleted:
			ns.Status = schema.NodeStatusCompleted
			ts := e.Timestamp
			ns.CompletedAt = &ts
			ns.Output = e.Payload
			if ns.StartedAt != nil {
				ns.DurationMs = ts.Sub(*ns.StartedAt).Milliseconds()
			}

		case schema.EventNodeFailed:
			ns.Status = schema.NodeStatusFailed
			ns.Error = e.Payload

		case schema.EventNodeSkipped:
			ns.Status = schema.NodeStatusSkipped

		case schema.EventNodeRetrying:
			ns.Status = schema.NodeStatusRetrying
			ns.RetryCount++

		case schema.EventNodeWaiting, schema.EventWaitStarted:
			ns.Status = schema.NodeStatusWaiting

		case schema.EventWaitCompleted:
			ns.Status = schema.NodeStatusCompleted
			ts := e.Timestamp
			ns.CompletedAt = &ts
			ns.Output = e.Payload

		case schema.EventWaitTimedOut:
			ns.Status = schema.NodeStatusFailed
			ns.Error = e.Payload
		}
	}

	return snap, nil
}
