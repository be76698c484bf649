package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/strandhq/strand/internal/engine"
	"github.com/strandhq/strand/internal/store"
	"github.com/strandhq/strand/pkg/schema"
)

// scheduledRunner starts a coordinator run for a due scheduled job.
type scheduledRunner struct {
	coordinator engine.Coordinator
	store       store.Store
	logger      *slog.Logger
}

func (r *scheduledRunner) TriggerScheduled(ctx context.Context, job *store.ScheduledJob) error {
	now := time.Now().UTC()
	trigger := make(map[string]any, len(job.Trigger)+2)
	for k, v := range job.Trigger {
		trigger[k] = v
	}
	trigger["source"] = "schedule"
	trigger["scheduled_job_id"] = job.ID

	run := &store.Run{
		ID:         uuid.New().String(),
		Name:       job.Name,
		Definition: job.Definition,
		Status:     schema.RunStatusPending,
		Trigger:    trigger,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return err
	}

	result, err := r.coordinator.Run(ctx, run, trigger)
	if err != nil {
		return err
	}
	if result.Status == schema.RunStatusFailed {
		r.logger.Warn("scheduled run failed", "run_id", run.ID, "job_id", job.ID, "node_id", result.ErrorNodeID)
		if result.Error != nil {
			return result.Error
		}
		return schema.NewError(schema.ErrCodeExecution, "scheduled run failed")
	}
	r.logger.Info("scheduled run finished", "run_id", run.ID, "job_id", job.ID, "status", result.Status)
	return nil
}
