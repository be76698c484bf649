package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/strandhq/strand/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	def, err := json.Marshal(run.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	trigger, err := marshalMapOrDefault(run.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	recordData, err := marshalMapOrDefault(run.RecordData)
	if err != nil {
		return fmt.Errorf("marshal record_data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, definition, status, trigger, record_data, error, error_node_id, created_at, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, nullStr(run.Name), string(def), string(run.Status),
		string(trigger), string(recordData), nullRaw(run.Error), nullStr(run.ErrorNodeID),
		timeOrNow(run.CreatedAt), nullTime(run.StartedAt), nullTime(run.CompletedAt), timeOrNow(run.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, definition, status, trigger, record_data, error, error_node_id, created_at, started_at, completed_at, updated_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	return run, err
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.ErrorNodeID != nil {
		sets = append(sets, "error_node_id = ?")
		args = append(args, nullStr(*update.ErrorNodeID))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT id, name, definition, status, trigger, record_data, error, error_node_id, created_at, started_at, completed_at, updated_at FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(scan func(...any) error) (*Run, error) {
	run := &Run{}
	var (
		name, errorNodeID      sql.NullString
		defJSON                string
		triggerJSON, dataJSON  sql.NullString
		errorJSON              sql.NullString
		startedAt, completedAt sql.NullTime
		status                 string
	)
	err := scan(&run.ID, &name, &defJSON, &status, &triggerJSON, &dataJSON,
		&errorJSON, &errorNodeID, &run.CreatedAt, &startedAt, &completedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	run.Name = name.String
	run.ErrorNodeID = errorNodeID.String
	run.Status = schema.RunStatus(status)
	if err := json.Unmarshal([]byte(defJSON), &run.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	if triggerJSON.Valid && triggerJSON.String != "" {
		_ = json.Unmarshal([]byte(triggerJSON.String), &run.Trigger)
	}
	if dataJSON.Valid && dataJSON.String != "" {
		_ = json.Unmarshal([]byte(dataJSON.String), &run.RecordData)
	}
	run.Error = rawOrNil(errorJSON)
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// --- Events ---

// AppendEvent assigns the next contiguous per-run sequence number and inserts
// the event. The read-increment-insert runs inside a transaction so concurrent
// appenders cannot produce gaps or duplicates.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	ts := timeOrNow(event.Timestamp)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (run_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.NodeID), event.Type, nullRaw(event.Payload), ts, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	event.Sequence = seq
	event.Timestamp = ts
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, node_id, event_type, payload, timestamp, sequence
		 FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	where := []string{"event_type = ?"}
	args := []any{eventType}

	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.NodeID != "" {
		where = append(where, "node_id = ?")
		args = append(args, filter.NodeID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT id, run_id, node_id, event_type, payload, timestamp, sequence FROM events WHERE " +
		strings.Join(where, " AND ") + " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		ev := &Event{}
		var nodeID, payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.RunID, &nodeID, &ev.Type, &payload, &ev.Timestamp, &ev.Sequence); err != nil {
			return nil, err
		}
		ev.NodeID = nodeID.String
		ev.Payload = rawOrNil(payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Node states ---

func (s *LibSQLStore) UpsertNodeState(ctx context.Context, state *NodeState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO node_states (run_id, node_id, status, output, error, retry_count, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, node_id) DO UPDATE SET
		   status=excluded.status, output=excluded.output, error=excluded.error,
		   retry_count=excluded.retry_count, started_at=excluded.started_at,
		   completed_at=excluded.completed_at, duration_ms=excluded.duration_ms`,
		state.RunID, state.NodeID, string(state.Status), nullRaw(state.Output), nullRaw(state.Error),
		state.RetryCount, nullTime(state.StartedAt), nullTime(state.CompletedAt), state.DurationMs,
	)
	return err
}

func (s *LibSQLStore) GetNodeState(ctx context.Context, runID, nodeID string) (*NodeState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, node_id, status, output, error, retry_count, started_at, completed_at, duration_ms
		 FROM node_states WHERE run_id = ? AND node_id = ?`, runID, nodeID)
	st, err := scanNodeState(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("node state", runID+"/"+nodeID)
	}
	return st, err
}

func (s *LibSQLStore) ListNodeStates(ctx context.Context, runID string) ([]*NodeState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, node_id, status, output, error, retry_count, started_at, completed_at, duration_ms
		 FROM node_states WHERE run_id = ? ORDER BY node_id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*NodeState
	for rows.Next() {
		st, err := scanNodeState(rows.Scan)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func scanNodeState(scan func(...any) error) (*NodeState, error) {
	st := &NodeState{}
	var (
		output, errJSON        sql.NullString
		startedAt, completedAt sql.NullTime
		status                 string
	)
	err := scan(&st.RunID, &st.NodeID, &status, &output, &errJSON,
		&st.RetryCount, &startedAt, &completedAt, &st.DurationMs)
	if err != nil {
		return nil, err
	}
	st.Status = schema.NodeStatus(status)
	st.Output = rawOrNil(output)
	st.Error = rawOrNil(errJSON)
	if startedAt.Valid {
		st.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		st.CompletedAt = &completedAt.Time
	}
	return st, nil
}

// --- Pending waits ---

func (s *LibSQLStore) CreateWait(ctx context.Context, wait *PendingWait) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_waits (id, run_id, node_id, kind, event_type, deadline, status, payload, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wait.ID, wait.RunID, wait.NodeID, wait.Kind, nullStr(wait.EventType),
		nullTime(wait.Deadline), wait.Status, nullRaw(wait.Payload),
		timeOrNow(wait.CreatedAt), nullTime(wait.ResolvedAt),
	)
	return err
}

func (s *LibSQLStore) GetWait(ctx context.Context, id string) (*PendingWait, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, node_id, kind, event_type, deadline, status, payload, created_at, resolved_at
		 FROM pending_waits WHERE id = ?`, id)
	w, err := scanWait(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("pending wait", id)
	}
	return w, err
}

func (s *LibSQLStore) ListWaits(ctx context.Context, filter WaitFilter) ([]*PendingWait, error) {
	var where []string
	var args []any

	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := "SELECT id, run_id, node_id, kind, event_type, deadline, status, payload, created_at, resolved_at FROM pending_waits"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var waits []*PendingWait
	for rows.Next() {
		w, err := scanWait(rows.Scan)
		if err != nil {
			return nil, err
		}
		waits = append(waits, w)
	}
	return waits, rows.Err()
}

// ResolveWait marks a pending wait as resolved or expired. It only touches
// rows still in pending status, so a second delivery of the same signal is
// a no-op at the storage level.
func (s *LibSQLStore) ResolveWait(ctx context.Context, id string, status string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_waits SET status = ?, payload = ?, resolved_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		status, nullRaw(payload), id, WaitStatusPending,
	)
	return err
}

func scanWait(scan func(...any) error) (*PendingWait, error) {
	w := &PendingWait{}
	var (
		eventType, payload   sql.NullString
		deadline, resolvedAt sql.NullTime
	)
	err := scan(&w.ID, &w.RunID, &w.NodeID, &w.Kind, &eventType,
		&deadline, &w.Status, &payload, &w.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	w.EventType = eventType.String
	w.Payload = rawOrNil(payload)
	if deadline.Valid {
		w.Deadline = &deadline.Time
	}
	if resolvedAt.Valid {
		w.ResolvedAt = &resolvedAt.Time
	}
	return w, nil
}

// --- Scheduled jobs ---

// CreateScheduledJob inserts the job if no row with the same id exists.
// It reports whether a new row was created, so repeated registrations of
// the same schedule are idempotent.
func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) (bool, error) {
	def, err := json.Marshal(job.Definition)
	if err != nil {
		return false, fmt.Errorf("marshal definition: %w", err)
	}
	trigger, err := marshalMapOrDefault(job.Trigger)
	if err != nil {
		return false, fmt.Errorf("marshal trigger: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, name, cron_expression, definition, trigger, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		job.ID, nullStr(job.Name), job.CronExpression, string(def), string(trigger),
		boolInt(job.Enabled), nullTime(job.LastRunAt), nullTime(job.NextRunAt),
		nullStr(job.LastRunStatus), timeOrNow(job.CreatedAt),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, cron_expression, definition, trigger, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM scheduled_jobs WHERE id = ?`, id)
	job, err := scanScheduledJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled job", id)
	}
	return job, err
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_jobs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*filter.Enabled))
	}

	query := "SELECT id, name, cron_expression, definition, trigger, enabled, last_run_at, next_run_at, last_run_status, created_at FROM scheduled_jobs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job, err := scanScheduledJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func scanScheduledJob(scan func(...any) error) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	var (
		name, lastStatus     sql.NullString
		defJSON              string
		triggerJSON          sql.NullString
		enabled              int
		lastRunAt, nextRunAt sql.NullTime
	)
	err := scan(&job.ID, &name, &job.CronExpression, &defJSON, &triggerJSON,
		&enabled, &lastRunAt, &nextRunAt, &lastStatus, &job.CreatedAt)
	if err != nil {
		return nil, err
	}
	job.Name = name.String
	job.LastRunStatus = lastStatus.String
	job.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(defJSON), &job.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	if triggerJSON.Valid && triggerJSON.String != "" {
		_ = json.Unmarshal([]byte(triggerJSON.String), &job.Trigger)
	}
	if lastRunAt.Valid {
		job.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		job.NextRunAt = &nextRunAt.Time
	}
	return job, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
