package store

import (
	"encoding/json"
	"time"

	"github.com/strandhq/strand/pkg/schema"
)

// Run is the persisted representation of a workflow run.
type Run struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name,omitempty"`
	Definition  schema.WorkflowDefinition `json:"definition"`
	Status      schema.RunStatus          `json:"status"`
	Trigger     map[string]any            `json:"trigger,omitempty"`
	RecordData  map[string]any            `json:"record_data,omitempty"`
	Error       json.RawMessage           `json:"error,omitempty"`
	ErrorNodeID string                    `json:"error_node_id,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	StartedAt   *time.Time                `json:"started_at,omitempty"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// Event is an immutable entry in the event sourcing log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// NodeState is the materialized view of a node's current execution state.
type NodeState struct {
	RunID       string            `json:"run_id"`
	NodeID      string            `json:"node_id"`
	Status      schema.NodeStatus `json:"status"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	RetryCount  int               `json:"retry_count"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}

// Wait kinds.
const (
	WaitKindDuration = "duration"
	WaitKindEvent    = "event"
)

// Wait statuses.
const (
	WaitStatusPending  = "pending"
	WaitStatusResolved = "resolved"
	WaitStatusExpired  = "expired"
)

// PendingWait is a durable record of a suspended wait node. For duration
// waits Deadline is the wake time; for event waits it is the timeout. A
// resuming worker reads this row to continue the wait with the remaining
// time instead of restarting it.
type PendingWait struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	NodeID     string          `json:"node_id"`
	Kind       string          `json:"kind"`
	EventType  string          `json:"event_type,omitempty"`
	Deadline   *time.Time      `json:"deadline,omitempty"`
	Status     string          `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// ScheduledJob is a cron-triggered workflow run.
type ScheduledJob struct {
	ID             string                    `json:"id"`
	Name           string                    `json:"name,omitempty"`
	CronExpression string                    `json:"cron_expression"`
	Definition     schema.WorkflowDefinition `json:"definition"`
	Trigger        map[string]any            `json:"trigger,omitempty"`
	Enabled        bool                      `json:"enabled"`
	LastRunAt      *time.Time                `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time                `json:"next_run_at,omitempty"`
	LastRunStatus  string                    `json:"last_run_status,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
}

// --- Filter and update types ---

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status *schema.RunStatus `json:"status,omitempty"`
	Name   string            `json:"name,omitempty"`
	Since  *time.Time        `json:"since,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status      *schema.RunStatus `json:"status,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	ErrorNodeID *string           `json:"error_node_id,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	RunID     string     `json:"run_id,omitempty"`
	NodeID    string     `json:"node_id,omitempty"`
	EventType string     `json:"event_type,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// WaitFilter specifies criteria for listing pending waits.
type WaitFilter struct {
	RunID     string `json:"run_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Status    string `json:"status,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled *bool `json:"enabled,omitempty"`
	Limit   int   `json:"limit,omitempty"`
}
