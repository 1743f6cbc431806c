package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"automationhub/internal/enum"
	"automationhub/internal/store"
)

type runRow struct {
	ID              string         `db:"id"`
	RobotID         string         `db:"robot_id"`
	RobotVersionID  string         `db:"robot_version_id"`
	ServiceID       sql.NullString `db:"service_id"`
	ScheduleID      sql.NullString `db:"schedule_id"`
	EnvName         string         `db:"env_name"`
	TriggerType     string         `db:"trigger_type"`
	Attempt         int            `db:"attempt"`
	Parameters      string         `db:"parameters"`
	RuntimeEnv      string         `db:"runtime_env"`
	Status          string         `db:"status"`
	QueuedAt        time.Time      `db:"queued_at"`
	StartedAt       sql.NullTime   `db:"started_at"`
	FinishedAt      sql.NullTime   `db:"finished_at"`
	DurationSeconds sql.NullFloat64 `db:"duration_seconds"`
	TriggeredBy     string         `db:"triggered_by"`
	HostName        string         `db:"host_name"`
	ProcessID       int            `db:"process_id"`
	ErrorMessage    string         `db:"error_message"`
	CancelRequested bool           `db:"cancel_requested"`
	CancelRequestedAt sql.NullTime `db:"cancel_requested_at"`
	CanceledAt      sql.NullTime   `db:"canceled_at"`
	CanceledBy      string         `db:"canceled_by"`
	FireTime        sql.NullTime   `db:"fire_time"`
	NotBefore       time.Time      `db:"not_before"`
	ClaimWorkerID   sql.NullString `db:"claim_worker_id"`
}

func (r runRow) toDomain() *store.Run {
	out := &store.Run{
		ID: uuid.MustParse(r.ID), RobotID: uuid.MustParse(r.RobotID), RobotVersionID: uuid.MustParse(r.RobotVersionID),
		EnvName: enum.EnvName(r.EnvName), TriggerType: enum.TriggerType(r.TriggerType), Attempt: r.Attempt,
		Status: enum.RunStatus(r.Status), QueuedAt: r.QueuedAt, TriggeredBy: r.TriggeredBy, HostName: r.HostName,
		ProcessID: r.ProcessID, ErrorMessage: r.ErrorMessage, CancelRequested: r.CancelRequested,
		CanceledBy: r.CanceledBy, NotBefore: r.NotBefore,
	}
	fromJSON(r.Parameters, &out.Parameters)
	fromJSON(r.RuntimeEnv, &out.RuntimeEnv)
	if r.ServiceID.Valid {
		id := uuid.MustParse(r.ServiceID.String)
		out.ServiceID = &id
	}
	if r.ScheduleID.Valid {
		id := uuid.MustParse(r.ScheduleID.String)
		out.ScheduleID = &id
	}
	out.StartedAt = timePtr(r.StartedAt)
	out.FinishedAt = timePtr(r.FinishedAt)
	out.CancelRequestedAt = timePtr(r.CancelRequestedAt)
	out.CanceledAt = timePtr(r.CanceledAt)
	out.FireTime = timePtr(r.FireTime)
	if r.DurationSeconds.Valid {
		d := r.DurationSeconds.Float64
		out.DurationSeconds = &d
	}
	out.ClaimWorkerID = uuidPtr(r.ClaimWorkerID)
	return out
}

const runCols = `id, robot_id, robot_version_id, service_id, schedule_id, env_name, trigger_type, attempt,
	parameters, runtime_env, status, queued_at, started_at, finished_at, duration_seconds, triggered_by,
	host_name, process_id, error_message, cancel_requested, cancel_requested_at, canceled_at, canceled_by,
	fire_time, not_before, claim_worker_id`

func runArgs(r *store.Run) []interface{} {
	var serviceID, scheduleID interface{}
	if r.ServiceID != nil {
		serviceID = r.ServiceID.String()
	}
	if r.ScheduleID != nil {
		scheduleID = r.ScheduleID.String()
	}
	var fireTime interface{}
	if r.FireTime != nil {
		fireTime = *r.FireTime
	}
	var duration interface{}
	if r.DurationSeconds != nil {
		duration = *r.DurationSeconds
	}
	var claimWorker interface{}
	if r.ClaimWorkerID != nil {
		claimWorker = r.ClaimWorkerID.String()
	}
	notBefore := r.NotBefore
	if notBefore.IsZero() {
		notBefore = r.QueuedAt
	}
	return []interface{}{
		r.ID.String(), r.RobotID.String(), r.RobotVersionID.String(), serviceID, scheduleID, string(r.EnvName),
		string(r.TriggerType), r.Attempt, toJSON(r.Parameters), toJSON(r.RuntimeEnv), string(r.Status), r.QueuedAt,
		nullTime(r.StartedAt), nullTime(r.FinishedAt), duration, r.TriggeredBy, r.HostName, r.ProcessID,
		r.ErrorMessage, r.CancelRequested, nullTime(r.CancelRequestedAt), nullTime(r.CanceledAt), r.CanceledBy,
		fireTime, notBefore, claimWorker,
	}
}

func (s *Store) CreateRun(ctx context.Context, r *store.Run) error {
	q := s.conn.Rebind(fmt.Sprintf(`INSERT INTO runs (%s) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, runCols))
	_, err := s.conn.ExecContext(ctx, q, runArgs(r)...)
	if err != nil && isUniqueViolation(err) {
		return store.ErrDuplicateSchedule
	}
	return err
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*store.Run, error) {
	var row runRow
	q := s.conn.Rebind(`SELECT ` + runCols + ` FROM runs WHERE id = ?`)
	if err := s.conn.GetContext(ctx, &row, q, id.String()); err != nil {
		return nil, mapSQLErr(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListRuns(ctx context.Context, f store.RunFilter) ([]*store.Run, error) {
	where := "WHERE 1=1"
	args := make([]interface{}, 0, 6)
	if f.RobotID != uuid.Nil {
		where += " AND robot_id = ?"
		args = append(args, f.RobotID.String())
	}
	if f.EnvName != "" {
		where += " AND env_name = ?"
		args = append(args, f.EnvName)
	}
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		where += " AND queued_at >= ?"
		args = append(args, f.Since)
	}
	q := `SELECT ` + runCols + ` FROM runs ` + where + ` ORDER BY queued_at DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		q += fmt.Sprintf(" OFFSET %d", f.Offset)
	}
	q = s.conn.Rebind(q)

	var rows []runRow
	if err := s.conn.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]*store.Run, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (s *Store) UpdateRun(ctx context.Context, r *store.Run) error {
	q := s.conn.Rebind(`UPDATE runs SET robot_id=?, robot_version_id=?, service_id=?, schedule_id=?, env_name=?,
		trigger_type=?, attempt=?, parameters=?, runtime_env=?, status=?, queued_at=?, started_at=?, finished_at=?,
		duration_seconds=?, triggered_by=?, host_name=?, process_id=?, error_message=?, cancel_requested=?,
		cancel_requested_at=?, canceled_at=?, canceled_by=?, fire_time=?, not_before=?, claim_worker_id=? WHERE id=?`)
	args := runArgs(r)
	// drop leading id, append at end for the WHERE clause
	args = append(args[1:], args[0])
	res, err := s.conn.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *Store) ClaimableRuns(ctx context.Context, now time.Time, limit int) ([]*store.Run, error) {
	q := s.conn.Rebind(`SELECT ` + runCols + ` FROM runs WHERE status = ? AND not_before <= ? ORDER BY queued_at ASC`)
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	var rows []runRow
	if err := s.conn.SelectContext(ctx, &rows, q, string(enum.RunPending), now); err != nil {
		return nil, err
	}
	out := make([]*store.Run, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (s *Store) CountRunningByRobot(ctx context.Context, robotID uuid.UUID) (int, error) {
	var n int
	q := s.conn.Rebind(`SELECT COUNT(*) FROM runs WHERE robot_id = ? AND status = ?`)
	if err := s.conn.GetContext(ctx, &n, q, robotID.String(), string(enum.RunRunning)); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) FindByScheduleFire(ctx context.Context, scheduleID uuid.UUID, fireTime time.Time) (*store.Run, error) {
	var row runRow
	q := s.conn.Rebind(`SELECT ` + runCols + ` FROM runs WHERE schedule_id = ? AND fire_time = ?`)
	if err := s.conn.GetContext(ctx, &row, q, scheduleID.String(), fireTime); err != nil {
		return nil, mapSQLErr(err)
	}
	return row.toDomain(), nil
}

func (s *Store) StaleRunningRuns(ctx context.Context, cutoff time.Time) ([]*store.Run, error) {
	q := s.conn.Rebind(`SELECT ` + runCols + ` FROM runs WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`)
	var rows []runRow
	if err := s.conn.SelectContext(ctx, &rows, q, string(enum.RunRunning), cutoff); err != nil {
		return nil, err
	}
	out := make([]*store.Run, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// --- Run logs ---

type runLogRow struct {
	ID           string    `db:"id"`
	RunID        string    `db:"run_id"`
	Sequence     int64     `db:"sequence"`
	Timestamp    time.Time `db:"timestamp"`
	Level        string    `db:"level"`
	Message      string    `db:"message"`
	PostTerminal bool      `db:"post_terminal"`
}

func (r runLogRow) toDomain() *store.RunLog {
	return &store.RunLog{
		ID: uuid.MustParse(r.ID), RunID: uuid.MustParse(r.RunID), Sequence: r.Sequence, Timestamp: r.Timestamp,
		Level: enum.LogLevel(r.Level), Message: r.Message, PostTerminal: r.PostTerminal,
	}
}

func (s *Store) AppendRunLog(ctx context.Context, l *store.RunLog) error {
	q := s.conn.Rebind(`INSERT INTO run_logs (id, run_id, sequence, timestamp, level, message, post_terminal)
		VALUES (?,?,?,?,?,?,?)`)
	_, err := s.conn.ExecContext(ctx, q, l.ID.String(), l.RunID.String(), l.Sequence, l.Timestamp, string(l.Level),
		l.Message, l.PostTerminal)
	return err
}

func (s *Store) LogsSince(ctx context.Context, runID uuid.UUID, afterSeq int64, limit int) ([]*store.RunLog, error) {
	q := `SELECT id, run_id, sequence, timestamp, level, message, post_terminal FROM run_logs
		WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	q = s.conn.Rebind(q)
	var rows []runLogRow
	if err := s.conn.SelectContext(ctx, &rows, q, runID.String(), afterSeq); err != nil {
		return nil, err
	}
	out := make([]*store.RunLog, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (s *Store) NextLogSequence(ctx context.Context, runID uuid.UUID) (int64, error) {
	var maxSeq sql.NullInt64
	q := s.conn.Rebind(`SELECT MAX(sequence) FROM run_logs WHERE run_id = ?`)
	if err := s.conn.GetContext(ctx, &maxSeq, q, runID.String()); err != nil {
		return 0, err
	}
	return maxSeq.Int64 + 1, nil
}

// --- Artifacts ---

type artifactRow struct {
	ID          string `db:"id"`
	RunID       string `db:"run_id"`
	Name        string `db:"name"`
	Path        string `db:"path"`
	SizeBytes   int64  `db:"size_bytes"`
	ContentType string `db:"content_type"`
}

func (r artifactRow) toDomain() *store.Artifact {
	return &store.Artifact{
		ID: uuid.MustParse(r.ID), RunID: uuid.MustParse(r.RunID), Name: r.Name, Path: r.Path,
		SizeBytes: r.SizeBytes, ContentType: r.ContentType,
	}
}

func (s *Store) CreateArtifact(ctx context.Context, a *store.Artifact) error {
	q := s.conn.Rebind(`INSERT INTO artifacts (id, run_id, name, path, size_bytes, content_type) VALUES (?,?,?,?,?,?)`)
	_, err := s.conn.ExecContext(ctx, q, a.ID.String(), a.RunID.String(), a.Name, a.Path, a.SizeBytes, a.ContentType)
	return err
}

func (s *Store) ListArtifacts(ctx context.Context, runID uuid.UUID) ([]*store.Artifact, error) {
	q := s.conn.Rebind(`SELECT id, run_id, name, path, size_bytes, content_type FROM artifacts WHERE run_id = ?`)
	var rows []artifactRow
	if err := s.conn.SelectContext(ctx, &rows, q, runID.String()); err != nil {
		return nil, err
	}
	out := make([]*store.Artifact, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// --- Workers ---

type workerRow struct {
	ID            string    `db:"id"`
	Hostname      string    `db:"hostname"`
	Status        string    `db:"status"`
	LastHeartbeat time.Time `db:"last_heartbeat"`
	Version       string    `db:"version"`
}

func (r workerRow) toDomain() *store.Worker {
	return &store.Worker{
		ID: uuid.MustParse(r.ID), Hostname: r.Hostname, Status: enum.WorkerStatus(r.Status),
		LastHeartbeat: r.LastHeartbeat, Version: r.Version,
	}
}

func (s *Store) UpsertWorker(ctx context.Context, w *store.Worker) error {
	q := s.conn.Rebind(`INSERT INTO workers (id, hostname, status, last_heartbeat, version) VALUES (?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET hostname=excluded.hostname, status=excluded.status,
			last_heartbeat=excluded.last_heartbeat, version=excluded.version`)
	_, err := s.conn.ExecContext(ctx, q, w.ID.String(), w.Hostname, string(w.Status), w.LastHeartbeat, w.Version)
	return err
}

func (s *Store) GetWorker(ctx context.Context, id uuid.UUID) (*store.Worker, error) {
	var row workerRow
	q := s.conn.Rebind(`SELECT id, hostname, status, last_heartbeat, version FROM workers WHERE id = ?`)
	if err := s.conn.GetContext(ctx, &row, q, id.String()); err != nil {
		return nil, mapSQLErr(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListWorkers(ctx context.Context) ([]*store.Worker, error) {
	q := `SELECT id, hostname, status, last_heartbeat, version FROM workers ORDER BY hostname`
	var rows []workerRow
	if err := s.conn.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	out := make([]*store.Worker, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// --- Alerts ---

type alertRow struct {
	ID         string       `db:"id"`
	RobotID    string       `db:"robot_id"`
	RunID      sql.NullString `db:"run_id"`
	Type       string       `db:"type"`
	Severity   string       `db:"severity"`
	Message    string       `db:"message"`
	Metadata   string       `db:"metadata"`
	CreatedAt  time.Time    `db:"created_at"`
	ResolvedAt sql.NullTime `db:"resolved_at"`
}

func (r alertRow) toDomain() *store.AlertEvent {
	out := &store.AlertEvent{
		ID: uuid.MustParse(r.ID), RobotID: uuid.MustParse(r.RobotID), Type: enum.AlertType(r.Type),
		Severity: enum.AlertSeverity(r.Severity), Message: r.Message, CreatedAt: r.CreatedAt,
	}
	fromJSON(r.Metadata, &out.Metadata)
	out.RunID = uuidPtr(r.RunID)
	out.ResolvedAt = timePtr(r.ResolvedAt)
	return out
}

func (s *Store) CreateAlert(ctx context.Context, a *store.AlertEvent) error {
	q := s.conn.Rebind(`INSERT INTO alert_events (id, robot_id, run_id, type, severity, message, metadata, created_at, resolved_at)
		VALUES (?,?,?,?,?,?,?,?,?)`)
	_, err := s.conn.ExecContext(ctx, q, a.ID.String(), a.RobotID.String(), nullUUID(a.RunID), string(a.Type),
		string(a.Severity), a.Message, toJSON(a.Metadata), a.CreatedAt, nullTime(a.ResolvedAt))
	return err
}

func (s *Store) GetOpenAlert(ctx context.Context, robotID uuid.UUID, alertType string) (*store.AlertEvent, error) {
	var row alertRow
	q := s.conn.Rebind(`SELECT id, robot_id, run_id, type, severity, message, metadata, created_at, resolved_at
		FROM alert_events WHERE robot_id = ? AND type = ? AND resolved_at IS NULL ORDER BY created_at DESC LIMIT 1`)
	if err := s.conn.GetContext(ctx, &row, q, robotID.String(), alertType); err != nil {
		return nil, mapSQLErr(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ResolveAlert(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := s.conn.Rebind(`UPDATE alert_events SET resolved_at = ? WHERE id = ?`)
	res, err := s.conn.ExecContext(ctx, q, at, id.String())
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *Store) ListOpenAlerts(ctx context.Context) ([]*store.AlertEvent, error) {
	q := `SELECT id, robot_id, run_id, type, severity, message, metadata, created_at, resolved_at
		FROM alert_events WHERE resolved_at IS NULL ORDER BY created_at DESC`
	var rows []alertRow
	if err := s.conn.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	out := make([]*store.AlertEvent, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// --- Retention ---

func (s *Store) DeleteRunsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.WithTx(ctx, func(txStore store.Store) error {
		tx := txStore.(*Store)
		sel := tx.conn.Rebind(`SELECT id FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?`)
		var ids []string
		if err := tx.conn.SelectContext(ctx, &ids, sel, cutoff); err != nil {
			return err
		}
		for _, id := range ids {
			for _, q := range []string{
				`DELETE FROM artifacts WHERE run_id = ?`,
				`DELETE FROM run_logs WHERE run_id = ?`,
				`DELETE FROM runs WHERE id = ?`,
			} {
				if _, err := tx.conn.ExecContext(ctx, tx.conn.Rebind(q), id); err != nil {
					return err
				}
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// DeleteRunLogsOlderThan prunes RunLogs belonging to terminal runs whose
// FinishedAt predates cutoff, independent of the Run's own retention.
func (s *Store) DeleteRunLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	q := s.conn.Rebind(`DELETE FROM run_logs WHERE run_id IN (SELECT id FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?)`)
	res, err := s.conn.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteArtifactsOlderThan prunes Artifacts belonging to terminal runs
// whose FinishedAt predates cutoff, independent of the Run's own retention.
func (s *Store) DeleteArtifactsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	q := s.conn.Rebind(`DELETE FROM artifacts WHERE run_id IN (SELECT id FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?)`)
	res, err := s.conn.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
