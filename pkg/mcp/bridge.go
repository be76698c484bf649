package mcp

import (
	"context"
	"fmt"

	"github.com/strandhq/strand/internal/streaming"
	"github.com/strandhq/strand/pkg/schema"
)

// lifecycleEvents are the run-level transitions forwarded to clients.
var lifecycleEvents = []string{
	schema.EventRunCompleted,
	schema.EventRunFailed,
	schema.EventRunCancelled,
	schema.EventRunSuspended,
	schema.EventRunResumed,
}

// startEventBridge subscribes to the run event hub and forwards lifecycle
// events to the client that started each run, for clients that passed a
// client_id. Without a hub the bridge is disabled.
func (s *StrandServer) startEventBridge(ctx context.Context) error {
	if s.hub == nil {
		return nil
	}
	events, cancel, err := s.hub.Subscribe(ctx, streaming.EventFilter{EventTypes: lifecycleEvents})
	if err != nil {
		return fmt.Errorf("subscribe to run events: %w", err)
	}
	go func() {
		defer cancel()
		s.forwardEvents(ctx, events)
	}()
	return nil
}

func (s *StrandServer) forwardEvents(ctx context.Context, events <-chan streaming.StreamEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			clientID, tracked := s.clientForRun(ev.RunID)
			if !tracked {
				continue
			}
			payload := map[string]any{
				"run_id":     ev.RunID,
				"event_type": ev.EventType,
			}
			if ev.NodeID != "" {
				payload["node_id"] = ev.NodeID
			}
			if ev.Payload != nil {
				payload["payload"] = ev.Payload
			}
			if err := s.notifier.Notify(ctx, clientID, payload); err != nil {
				s.logger.Warn("push notification failed",
					"run_id", ev.RunID,
					"client_id", clientID,
					"error", err.Error(),
				)
			}
			if terminalEvent(ev.EventType) {
				s.untrackRun(ev.RunID)
			}
		}
	}
}

func terminalEvent(eventType string) bool {
	switch eventType {
	case schema.EventRunCompleted, schema.EventRunFailed, schema.EventRunCancelled:
		return true
	}
	return false
}

// trackRun records which client should receive push notifications for a run.
func (s *StrandServer) trackRun(runID, clientID string) {
	if runID == "" || clientID == "" {
		return
	}
	s.runsMu.Lock()
	s.runClients[runID] = clientID
	s.runsMu.Unlock()
}

func (s *StrandServer) clientForRun(runID string) (string, bool) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	clientID, ok := s.runClients[runID]
	return clientID, ok
}

func (s *StrandServer) untrackRun(runID string) {
	s.runsMu.Lock()
	delete(s.runClients, runID)
	s.runsMu.Unlock()
}
