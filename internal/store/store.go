package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// Event sourcing (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Node state (materialized view)
	UpsertNodeState(ctx context.Context, state *NodeState) error
	GetNodeState(ctx context.Context, runID, nodeID string) (*NodeState, error)
	ListNodeStates(ctx context.Context, runID string) ([]*NodeState, error)

	// Pending waits
	CreateWait(ctx context.Context, wait *PendingWait) error
	GetWait(ctx context.Context, id string) (*PendingWait, error)
	ListWaits(ctx context.Context, filter WaitFilter) ([]*PendingWait, error)
	ResolveWait(ctx context.Context, id string, status string, payload []byte) error

	// Scheduled jobs
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) (created bool, err error)
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
