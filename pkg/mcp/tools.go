package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/strandhq/strand/internal/store"
	"github.com/strandhq/strand/pkg/schema"
)

// handleRun executes a workflow from an inline definition. When a cron
// expression is supplied the workflow is registered as a scheduled job
// instead of being run immediately.
func (s *StrandServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	// Marshal then unmarshal the definition to get a proper WorkflowDefinition.
	defBytes, marshalErr := json.Marshal(defRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", marshalErr)), nil
	}
	var def schema.WorkflowDefinition
	if unmarshalErr := json.Unmarshal(defBytes, &def); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", unmarshalErr)), nil
	}

	if s.validator != nil {
		if valErr := s.validator.ValidateDefinition(&def); valErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("definition rejected: %v", valErr)), nil
		}
	}

	name := req.GetString("name", "")
	trigger := mcp.ParseStringMap(req, "trigger", nil)
	record := mcp.ParseStringMap(req, "record_data", nil)

	clientID := req.GetString("client_id", "")
	if clientID != "" {
		s.captureSession(ctx, clientID)
	}

	if cron := req.GetString("cron", ""); cron != "" {
		return s.scheduleRun(ctx, name, cron, def, trigger)
	}

	now := time.Now().UTC()
	run := &store.Run{
		ID:         uuid.New().String(),
		Name:       name,
		Definition: def,
		Status:     schema.RunStatusPending,
		Trigger:    trigger,
		RecordData: record,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if createErr := s.store.CreateRun(ctx, run); createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create run: %v", createErr)), nil
	}
	s.trackRun(run.ID, clientID)

	result, runErr := s.coordinator.Run(ctx, run, trigger)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed to start: %v", runErr)), nil
	}

	return marshalResult(result)
}

// scheduleRun registers the definition as a cron-triggered job.
func (s *StrandServer) scheduleRun(ctx context.Context, name, cron string, def schema.WorkflowDefinition, trigger map[string]any) (*mcp.CallToolResult, error) {
	if s.scheduler == nil {
		return mcp.NewToolResultError("scheduling is not enabled"), nil
	}

	job := &store.ScheduledJob{
		ID:             uuid.New().String(),
		Name:           name,
		CronExpression: cron,
		Definition:     def,
		Trigger:        trigger,
		Enabled:        true,
		CreatedAt:      time.Now().UTC(),
	}

	created, regErr := s.scheduler.Register(ctx, job)
	if regErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to schedule: %v", regErr)), nil
	}

	return marshalResult(map[string]any{
		"job_id":  job.ID,
		"cron":    cron,
		"created": created,
	})
}

// handleStatus returns the current state of a run.
func (s *StrandServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	status, statusErr := s.coordinator.Status(ctx, runID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}

	return marshalResult(status)
}

// handleSignal delivers an external event to a run.
func (s *StrandServer) handleSignal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	eventType, err := req.RequireString("event_type")
	if err != nil {
		return mcp.NewToolResultError("event_type is required"), nil
	}

	payload := mcp.ParseStringMap(req, "payload", nil)
	source := req.GetString("source", "")

	if clientID := req.GetString("client_id", ""); clientID != "" {
		s.captureSession(ctx, clientID)
		s.trackRun(runID, clientID)
	}

	sig := schema.Signal{
		EventType: eventType,
		Payload:   payload,
		Source:    source,
	}

	if sigErr := s.coordinator.Signal(ctx, runID, sig); sigErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("signal failed: %v", sigErr)), nil
	}

	// Resume on request so a run suspended across a restart continues
	// without a separate call. Runs with an in-flight worker consume the
	// signal directly and must not be resumed here.
	if req.GetString("resume", "") == "true" {
		result, resumeErr := s.coordinator.Resume(ctx, runID)
		if resumeErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("signal accepted but resume failed: %v", resumeErr)), nil
		}
		return marshalResult(map[string]any{
			"ok":         true,
			"run_id":     runID,
			"event_type": eventType,
			"resumed":    true,
			"status":     result.Status,
		})
	}

	return marshalResult(map[string]any{
		"ok":         true,
		"run_id":     runID,
		"event_type": eventType,
	})
}

// handleCancel terminates a run.
func (s *StrandServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	reason := req.GetString("reason", "cancelled via mcp")

	if cancelErr := s.coordinator.Cancel(ctx, runID, reason); cancelErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", cancelErr)), nil
	}

	return marshalResult(map[string]any{
		"ok":     true,
		"run_id": runID,
		"status": schema.RunStatusCancelled,
		"reason": reason,
	})
}

// handleQuery lists runs, events, or scheduled jobs based on filters.
func (s *StrandServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "runs":
		return s.queryRuns(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	case "jobs":
		return s.queryJobs(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *StrandServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rs := schema.RunStatus(status)
		rf.Status = &rs
	}
	if name, ok := filter["name"].(string); ok {
		rf.Name = name
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			rf.Since = &t
		}
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *StrandServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.EventFilter{
		Limit: extractInt(filter, "limit", 100),
	}
	if runID, ok := filter["run_id"].(string); ok {
		ef.RunID = runID
	}
	if nodeID, ok := filter["node_id"].(string); ok {
		ef.NodeID = nodeID
	}
	if eventType, ok := filter["event_type"].(string); ok {
		ef.EventType = eventType
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			ef.Since = &t
		}
	}

	if ef.EventType != "" {
		events, err := s.store.GetEventsByType(ctx, ef.EventType, ef)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"events": events})
	}

	// No event type filter, so the whole run log is wanted.
	if ef.RunID == "" {
		return mcp.NewToolResultError("event query requires either 'event_type' or 'run_id' in filter"), nil
	}
	events, err := s.store.GetEvents(ctx, ef.RunID, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

func (s *StrandServer) queryJobs(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	jf := store.ScheduledJobFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if enabled, ok := filter["enabled"].(bool); ok {
		jf.Enabled = &enabled
	}

	jobs, err := s.store.ListScheduledJobs(ctx, jf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"jobs": jobs})
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession maps the client ID to its current MCP session for notifications.
func (s *StrandServer) captureSession(ctx context.Context, clientID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(clientID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
