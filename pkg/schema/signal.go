package schema

// Signal is an externally delivered event that can wake a waiting run.
// EventType is matched against the event type a wait node registered
// interest in; Payload becomes the wait node's output on a match.
type Signal struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Source    string         `json:"source,omitempty"`
}
