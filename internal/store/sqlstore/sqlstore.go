// Package sqlstore is the production store.Store backend, dialing either
// sqlite3 or postgres through jmoiron/sqlx the same way the teacher's
// cmd/server/main.go parseDatabase dials lib/pq or mattn/go-sqlite3 for
// ent — here hand-written instead of ent-generated, since ent's client
// requires a `go generate` step this module cannot run (see DESIGN.md).
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"automationhub/internal/enum"
	"automationhub/internal/store"
)

// dbtx is the subset of *sqlx.DB and *sqlx.Tx that Store's methods need,
// letting WithTx hand callers a transaction-scoped Store built on the same
// code path as the top-level one.
type dbtx interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Rebind(query string) string
}

// Store is the sqlx-backed store.Store.
type Store struct {
	db     *sqlx.DB
	conn   dbtx
	driver string

	mu         sync.Mutex
	robotLocks map[uuid.UUID]*sync.Mutex
	runLocks   map[uuid.UUID]*sync.Mutex
}

var _ store.Store = (*Store)(nil)

// ParseDatabaseURL maps a "sqlite://path" or "postgres(ql)://..." URL to a
// (driver, dsn) pair, exactly as the teacher's parseDatabase does for ent.
func ParseDatabaseURL(dbURL string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(dbURL, "sqlite://"):
		driver = "sqlite3"
		dsn = strings.TrimPrefix(dbURL, "sqlite://")
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", "", fmt.Errorf("sqlstore: create database directory: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_fk=1"
		}
		return driver, dsn, nil
	case strings.HasPrefix(dbURL, "postgresql://"), strings.HasPrefix(dbURL, "postgres://"):
		return "postgres", dbURL, nil
	default:
		return "", "", fmt.Errorf("sqlstore: unsupported database URL %q (use sqlite:// or postgresql://)", dbURL)
	}
}

// Open dials the database and ensures the schema exists.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	driver, dsn, err := ParseDatabaseURL(dbURL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}

	s := &Store{
		db:         db,
		conn:       db,
		driver:     driver,
		robotLocks: make(map[uuid.UUID]*sync.Mutex),
		runLocks:   make(map[uuid.UUID]*sync.Mutex),
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: apply schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn against a Store scoped to a single transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin tx: %w", err)
	}
	scoped := &Store{db: s.db, conn: tx, driver: s.driver, robotLocks: s.robotLocks, runLocks: s.runLocks}
	if err := fn(scoped); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit tx: %w", err)
	}
	return nil
}

func toJSON(v interface{}) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func fromJSON(raw string, v interface{}) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), v)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func nullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func uuidPtr(n sql.NullString) *uuid.UUID {
	if !n.Valid || n.String == "" {
		return nil
	}
	id, err := uuid.Parse(n.String)
	if err != nil {
		return nil
	}
	return &id
}

func mapSQLErr(err error) error {
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	return err
}

// --- Robots ---

type robotRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Tags      string    `db:"tags"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r robotRow) toDomain() *store.Robot {
	out := &store.Robot{ID: uuid.MustParse(r.ID), Name: r.Name, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
	fromJSON(r.Tags, &out.Tags)
	return out
}

func (s *Store) CreateRobot(ctx context.Context, r *store.Robot) error {
	q := s.conn.Rebind(`INSERT INTO robots (id, name, tags, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`)
	_, err := s.conn.ExecContext(ctx, q, r.ID.String(), r.Name, toJSON(r.Tags), r.CreatedAt, r.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) GetRobot(ctx context.Context, id uuid.UUID) (*store.Robot, error) {
	var row robotRow
	q := s.conn.Rebind(`SELECT id, name, tags, created_at, updated_at FROM robots WHERE id = ?`)
	if err := s.conn.GetContext(ctx, &row, q, id.String()); err != nil {
		return nil, mapSQLErr(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetRobotByName(ctx context.Context, name string) (*store.Robot, error) {
	var row robotRow
	q := s.conn.Rebind(`SELECT id, name, tags, created_at, updated_at FROM robots WHERE name = ?`)
	if err := s.conn.GetContext(ctx, &row, q, name); err != nil {
		return nil, mapSQLErr(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListRobots(ctx context.Context) ([]*store.Robot, error) {
	var rows []robotRow
	q := `SELECT id, name, tags, created_at, updated_at FROM robots ORDER BY name`
	if err := s.conn.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	out := make([]*store.Robot, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (s *Store) UpdateRobot(ctx context.Context, r *store.Robot) error {
	q := s.conn.Rebind(`UPDATE robots SET name = ?, tags = ?, updated_at = ? WHERE id = ?`)
	res, err := s.conn.ExecContext(ctx, q, r.Name, toJSON(r.Tags), r.UpdatedAt, r.ID.String())
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *Store) DeleteRobot(ctx context.Context, id uuid.UUID) error {
	q := s.conn.Rebind(`DELETE FROM robots WHERE id = ?`)
	res, err := s.conn.ExecContext(ctx, q, id.String())
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}

// --- RobotVersions ---

type robotVersionRow struct {
	ID               string    `db:"id"`
	RobotID          string    `db:"robot_id"`
	Version          string    `db:"version"`
	Channel          string    `db:"channel"`
	ArtifactKind     string    `db:"artifact_kind"`
	ArtifactDigest   string    `db:"artifact_digest"`
	EntrypointKind   string    `db:"entrypoint_kind"`
	EntrypointPath   string    `db:"entrypoint_path"`
	DefaultArguments string    `db:"default_arguments"`
	DefaultEnv       string    `db:"default_env"`
	WorkingDir       string    `db:"working_dir"`
	RequiredEnvKeys  string    `db:"required_env_keys"`
	SourceCommit     string    `db:"source_commit"`
	SourceBranch     string    `db:"source_branch"`
	SourceBuildURL   string    `db:"source_build_url"`
	SourceCreated    string    `db:"source_created"`
	IsActive         bool      `db:"is_active"`
	CreatedAt        time.Time `db:"created_at"`
}

func (r robotVersionRow) toDomain() *store.RobotVersion {
	out := &store.RobotVersion{
		ID: uuid.MustParse(r.ID), RobotID: uuid.MustParse(r.RobotID), Version: r.Version,
		Channel: enum.Channel(r.Channel), ArtifactKind: enum.ArtifactKind(r.ArtifactKind),
		ArtifactDigest: r.ArtifactDigest, EntrypointKind: enum.EntrypointKind(r.EntrypointKind),
		EntrypointPath: r.EntrypointPath, WorkingDir: r.WorkingDir, SourceCommit: r.SourceCommit,
		SourceBranch: r.SourceBranch, SourceBuildURL: r.SourceBuildURL,
		SourceCreated: enum.SourceCreated(r.SourceCreated), IsActive: r.IsActive, CreatedAt: r.CreatedAt,
	}
	fromJSON(r.DefaultArguments, &out.DefaultArguments)
	fromJSON(r.DefaultEnv, &out.DefaultEnv)
	fromJSON(r.RequiredEnvKeys, &out.RequiredEnvKeys)
	return out
}

func (s *Store) CreateRobotVersion(ctx context.Context, v *store.RobotVersion) error {
	q := s.conn.Rebind(`INSERT INTO robot_versions
		(id, robot_id, version, channel, artifact_kind, artifact_digest, entrypoint_kind, entrypoint_path,
		 default_arguments, default_env, working_dir, required_env_keys, source_commit, source_branch,
		 source_build_url, source_created, is_active, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	_, err := s.conn.ExecContext(ctx, q,
		v.ID.String(), v.RobotID.String(), v.Version, string(v.Channel), string(v.ArtifactKind), v.ArtifactDigest,
		string(v.EntrypointKind), v.EntrypointPath, toJSON(v.DefaultArguments), toJSON(v.DefaultEnv), v.WorkingDir,
		toJSON(v.RequiredEnvKeys), v.SourceCommit, v.SourceBranch, v.SourceBuildURL, string(v.SourceCreated),
		v.IsActive, v.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

const robotVersionCols = `id, robot_id, version, channel, artifact_kind, artifact_digest, entrypoint_kind,
	entrypoint_path, default_arguments, default_env, working_dir, required_env_keys, source_commit,
	source_branch, source_build_url, source_created, is_active, created_at`

func (s *Store) GetRobotVersion(ctx context.Context, id uuid.UUID) (*store.RobotVersion, error) {
	var row robotVersionRow
	q := s.conn.Rebind(`SELECT ` + robotVersionCols + ` FROM robot_versions WHERE id = ?`)
	if err := s.conn.GetContext(ctx, &row, q, id.String()); err != nil {
		return nil, mapSQLErr(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetActiveRobotVersion(ctx context.Context, robotID uuid.UUID, channel string) (*store.RobotVersion, error) {
	var row robotVersionRow
	q := s.conn.Rebind(`SELECT ` + robotVersionCols + ` FROM robot_versions WHERE robot_id = ? AND channel = ? AND is_active = TRUE`)
	if err := s.conn.GetContext(ctx, &row, q, robotID.String(), channel); err != nil {
		return nil, mapSQLErr(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListRobotVersions(ctx context.Context, robotID uuid.UUID) ([]*store.RobotVersion, error) {
	var rows []robotVersionRow
	q := s.conn.Rebind(`SELECT ` + robotVersionCols + ` FROM robot_versions WHERE robot_id = ? ORDER BY created_at`)
	if err := s.conn.SelectContext(ctx, &rows, q, robotID.String()); err != nil {
		return nil, err
	}
	out := make([]*store.RobotVersion, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (s *Store) SetActiveRobotVersion(ctx context.Context, robotID uuid.UUID, channel string, versionID uuid.UUID) error {
	return s.WithTx(ctx, func(txStore store.Store) error {
		tx := txStore.(*Store)
		clear := tx.conn.Rebind(`UPDATE robot_versions SET is_active = FALSE WHERE robot_id = ? AND channel = ?`)
		if _, err := tx.conn.ExecContext(ctx, clear, robotID.String(), channel); err != nil {
			return err
		}
		set := tx.conn.Rebind(`UPDATE robot_versions SET is_active = TRUE WHERE id = ? AND robot_id = ?`)
		res, err := tx.conn.ExecContext(ctx, set, versionID.String(), robotID.String())
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

// --- Schedules ---

type scheduleRow struct {
	ID                  string       `db:"id"`
	RobotID             string       `db:"robot_id"`
	Enabled             bool         `db:"enabled"`
	CronExpr            string       `db:"cron_expr"`
	Timezone            string       `db:"timezone"`
	WindowStart         string       `db:"window_start"`
	WindowEnd           string       `db:"window_end"`
	MaxConcurrency      int          `db:"max_concurrency"`
	TimeoutSeconds      int          `db:"timeout_seconds"`
	RetryCount          int          `db:"retry_count"`
	RetryBackoffSeconds int          `db:"retry_backoff_seconds"`
	LastTickAt          sql.NullTime `db:"last_tick_at"`
	CreatedAt           time.Time    `db:"created_at"`
}

func (r scheduleRow) toDomain() *store.Schedule {
	out := &store.Schedule{
		ID: uuid.MustParse(r.ID), RobotID: uuid.MustParse(r.RobotID), Enabled: r.Enabled, CronExpr: r.CronExpr,
		Timezone: r.Timezone, WindowStart: r.WindowStart, WindowEnd: r.WindowEnd, MaxConcurrency: r.MaxConcurrency,
		TimeoutSeconds: r.TimeoutSeconds, RetryCount: r.RetryCount, RetryBackoffSeconds: r.RetryBackoffSeconds,
		CreatedAt: r.CreatedAt,
	}
	if t := timePtr(r.LastTickAt); t != nil {
		out.LastTickAt = *t
	}
	return out
}

const scheduleCols = `id, robot_id, enabled, cron_expr, timezone, window_start, window_end, max_concurrency,
	timeout_seconds, retry_count, retry_backoff_seconds, last_tick_at, created_at`

func (s *Store) UpsertSchedule(ctx context.Context, sc *store.Schedule) error {
	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	q := s.conn.Rebind(`INSERT INTO schedules (` + scheduleCols + `) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (robot_id) DO UPDATE SET enabled=excluded.enabled, cron_expr=excluded.cron_expr,
			timezone=excluded.timezone, window_start=excluded.window_start, window_end=excluded.window_end,
			max_concurrency=excluded.max_concurrency, timeout_seconds=excluded.timeout_seconds,
			retry_count=excluded.retry_count, retry_backoff_seconds=excluded.retry_backoff_seconds`)
	var lastTick interface{}
	if !sc.LastTickAt.IsZero() {
		lastTick = sc.LastTickAt
	}
	_, err := s.conn.ExecContext(ctx, q, sc.ID.String(), sc.RobotID.String(), sc.Enabled, sc.CronExpr, sc.Timezone,
		sc.WindowStart, sc.WindowEnd, sc.MaxConcurrency, sc.TimeoutSeconds, sc.RetryCount, sc.RetryBackoffSeconds,
		lastTick, sc.CreatedAt)
	return err
}

func (s *Store) GetSchedule(ctx context.Context, robotID uuid.UUID) (*store.Schedule, error) {
	var row scheduleRow
	q := s.conn.Rebind(`SELECT ` + scheduleCols + ` FROM schedules WHERE robot_id = ?`)
	if err := s.conn.GetContext(ctx, &row, q, robotID.String()); err != nil {
		return nil, mapSQLErr(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListEnabledSchedules(ctx context.Context) ([]*store.Schedule, error) {
	var rows []scheduleRow
	q := `SELECT ` + scheduleCols + ` FROM schedules WHERE enabled = TRUE`
	if err := s.conn.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	out := make([]*store.Schedule, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (s *Store) TouchScheduleTick(ctx context.Context, scheduleID uuid.UUID, at time.Time) error {
	q := s.conn.Rebind(`UPDATE schedules SET last_tick_at = ? WHERE id = ?`)
	res, err := s.conn.ExecContext(ctx, q, at, scheduleID.String())
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

// --- SLA rules ---

type slaRuleRow struct {
	ID                   string `db:"id"`
	RobotID              string `db:"robot_id"`
	ExpectedEveryMinutes int    `db:"expected_every_minutes"`
	ExpectedDailyTime    string `db:"expected_daily_time"`
	LateAfterMinutes     int    `db:"late_after_minutes"`
	AlertOnFailure       bool   `db:"alert_on_failure"`
	AlertOnLate          bool   `db:"alert_on_late"`
	NotifyChannels       string `db:"notify_channels"`
}

func (r slaRuleRow) toDomain() *store.SLARule {
	out := &store.SLARule{
		ID: uuid.MustParse(r.ID), RobotID: uuid.MustParse(r.RobotID), ExpectedEveryMinutes: r.ExpectedEveryMinutes,
		ExpectedDailyTime: r.ExpectedDailyTime, LateAfterMinutes: r.LateAfterMinutes,
		AlertOnFailure: r.AlertOnFailure, AlertOnLate: r.AlertOnLate,
	}
	fromJSON(r.NotifyChannels, &out.NotifyChannels)
	return out
}

const slaRuleCols = `id, robot_id, expected_every_minutes, expected_daily_time, late_after_minutes,
	alert_on_failure, alert_on_late, notify_channels`

func (s *Store) UpsertSLARule(ctx context.Context, rule *store.SLARule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	q := s.conn.Rebind(`INSERT INTO sla_rules (` + slaRuleCols + `) VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (robot_id) DO UPDATE SET expected_every_minutes=excluded.expected_every_minutes,
			expected_daily_time=excluded.expected_daily_time, late_after_minutes=excluded.late_after_minutes,
			alert_on_failure=excluded.alert_on_failure, alert_on_late=excluded.alert_on_late,
			notify_channels=excluded.notify_channels`)
	_, err := s.conn.ExecContext(ctx, q, rule.ID.String(), rule.RobotID.String(), rule.ExpectedEveryMinutes,
		rule.ExpectedDailyTime, rule.LateAfterMinutes, rule.AlertOnFailure, rule.AlertOnLate, toJSON(rule.NotifyChannels))
	return err
}

func (s *Store) GetSLARule(ctx context.Context, robotID uuid.UUID) (*store.SLARule, error) {
	var row slaRuleRow
	q := s.conn.Rebind(`SELECT ` + slaRuleCols + ` FROM sla_rules WHERE robot_id = ?`)
	if err := s.conn.GetContext(ctx, &row, q, robotID.String()); err != nil {
		return nil, mapSQLErr(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListSLARules(ctx context.Context) ([]*store.SLARule, error) {
	var rows []slaRuleRow
	q := `SELECT ` + slaRuleCols + ` FROM sla_rules`
	if err := s.conn.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	out := make([]*store.SLARule, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// --- Env bindings ---

type envBindingRow struct {
	RobotID  string `db:"robot_id"`
	EnvName  string `db:"env_name"`
	Key      string `db:"key"`
	Value    string `db:"value"`
	IsSecret bool   `db:"is_secret"`
}

func (r envBindingRow) toDomain() *store.RobotEnvBinding {
	return &store.RobotEnvBinding{
		RobotID: uuid.MustParse(r.RobotID), EnvName: enum.EnvName(r.EnvName), Key: r.Key, Value: r.Value, IsSecret: r.IsSecret,
	}
}

func (s *Store) UpsertEnvBinding(ctx context.Context, b *store.RobotEnvBinding) error {
	q := s.conn.Rebind(`INSERT INTO robot_env_bindings (robot_id, env_name, key, value, is_secret) VALUES (?,?,?,?,?)
		ON CONFLICT (robot_id, env_name, key) DO UPDATE SET value=excluded.value, is_secret=excluded.is_secret`)
	_, err := s.conn.ExecContext(ctx, q, b.RobotID.String(), string(b.EnvName), b.Key, b.Value, b.IsSecret)
	return err
}

func (s *Store) ListEnvBindings(ctx context.Context, robotID uuid.UUID, envName string) ([]*store.RobotEnvBinding, error) {
	var rows []envBindingRow
	q := s.conn.Rebind(`SELECT robot_id, env_name, key, value, is_secret FROM robot_env_bindings
		WHERE robot_id = ? AND env_name = ? ORDER BY key`)
	if err := s.conn.SelectContext(ctx, &rows, q, robotID.String(), envName); err != nil {
		return nil, err
	}
	out := make([]*store.RobotEnvBinding, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (s *Store) DeleteEnvBinding(ctx context.Context, robotID uuid.UUID, envName, key string) error {
	q := s.conn.Rebind(`DELETE FROM robot_env_bindings WHERE robot_id = ? AND env_name = ? AND key = ?`)
	res, err := s.conn.ExecContext(ctx, q, robotID.String(), envName, key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}
