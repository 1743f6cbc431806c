package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by every Store implementation so callers can
// branch with errors.Is regardless of backend (memstore or sqlstore).
var (
	ErrNotFound          = errors.New("store: not found")
	ErrConflict          = errors.New("store: conflict")
	ErrAlreadyClaimed    = errors.New("store: run already claimed")
	ErrConcurrencyLimit  = errors.New("store: robot concurrency limit reached")
	ErrDuplicateSchedule = errors.New("store: duplicate (schedule_id, fire_time)")
)

// RunFilter narrows ListRuns. Zero values are "no filter" for that field.
type RunFilter struct {
	RobotID uuid.UUID
	EnvName string
	Status  string
	Since   time.Time
	Limit   int
	Offset  int
}

// Store is the full repository surface the engine depends on. Every method
// that mutates shared state must be safe for concurrent callers; the
// Lock* methods exist specifically to let callers serialize a
// read-modify-write sequence without racing another process (spec §4.1,
// §9 — "claim semantics must be atomic even under concurrent dispatchers").
type Store interface {
	// WithTx runs fn inside a transaction-scoped Store; returning an error
	// rolls back. memstore has no transactions: it calls fn directly, with
	// no lock held across fn and no rollback.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// Robots
	CreateRobot(ctx context.Context, r *Robot) error
	GetRobot(ctx context.Context, id uuid.UUID) (*Robot, error)
	GetRobotByName(ctx context.Context, name string) (*Robot, error)
	ListRobots(ctx context.Context) ([]*Robot, error)
	UpdateRobot(ctx context.Context, r *Robot) error
	DeleteRobot(ctx context.Context, id uuid.UUID) error

	// RobotVersions
	CreateRobotVersion(ctx context.Context, v *RobotVersion) error
	GetRobotVersion(ctx context.Context, id uuid.UUID) (*RobotVersion, error)
	GetActiveRobotVersion(ctx context.Context, robotID uuid.UUID, channel string) (*RobotVersion, error)
	ListRobotVersions(ctx context.Context, robotID uuid.UUID) ([]*RobotVersion, error)
	SetActiveRobotVersion(ctx context.Context, robotID uuid.UUID, channel string, versionID uuid.UUID) error

	// Schedules
	UpsertSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, robotID uuid.UUID) (*Schedule, error)
	ListEnabledSchedules(ctx context.Context) ([]*Schedule, error)
	TouchScheduleTick(ctx context.Context, scheduleID uuid.UUID, at time.Time) error

	// SLA rules
	UpsertSLARule(ctx context.Context, rule *SLARule) error
	GetSLARule(ctx context.Context, robotID uuid.UUID) (*SLARule, error)
	ListSLARules(ctx context.Context) ([]*SLARule, error)

	// Env bindings
	UpsertEnvBinding(ctx context.Context, b *RobotEnvBinding) error
	ListEnvBindings(ctx context.Context, robotID uuid.UUID, envName string) ([]*RobotEnvBinding, error)
	DeleteEnvBinding(ctx context.Context, robotID uuid.UUID, envName, key string) error

	// Runs
	CreateRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, f RunFilter) ([]*Run, error)
	UpdateRun(ctx context.Context, r *Run) error
	// ClaimableRuns returns PENDING runs eligible for dispatch ordered by
	// queued_at, oldest first, capped at limit (spec §4.1).
	ClaimableRuns(ctx context.Context, now time.Time, limit int) ([]*Run, error)
	// CountRunningByRobot returns the number of RUNNING runs for robotID,
	// used to enforce Schedule.MaxConcurrency.
	CountRunningByRobot(ctx context.Context, robotID uuid.UUID) (int, error)
	// FindByScheduleFire looks up a run already created for
	// (scheduleID, fireTime) so the Scheduler can no-op on a duplicate tick.
	FindByScheduleFire(ctx context.Context, scheduleID uuid.UUID, fireTime time.Time) (*Run, error)
	// StaleRunningRuns returns RUNNING runs whose started_at is before
	// cutoff; worker heartbeats are not consulted.
	StaleRunningRuns(ctx context.Context, cutoff time.Time) ([]*Run, error)

	// Locks: advisory, held for the lifetime of the caller-supplied
	// critical section. Implementations must block concurrent holders of
	// the same key rather than silently proceed.
	LockRobot(ctx context.Context, robotID uuid.UUID, fn func() error) error
	LockRun(ctx context.Context, runID uuid.UUID, fn func() error) error

	// Run logs
	AppendRunLog(ctx context.Context, l *RunLog) error
	LogsSince(ctx context.Context, runID uuid.UUID, afterSeq int64, limit int) ([]*RunLog, error)
	NextLogSequence(ctx context.Context, runID uuid.UUID) (int64, error)

	// Artifacts
	CreateArtifact(ctx context.Context, a *Artifact) error
	ListArtifacts(ctx context.Context, runID uuid.UUID) ([]*Artifact, error)

	// Workers
	UpsertWorker(ctx context.Context, w *Worker) error
	GetWorker(ctx context.Context, id uuid.UUID) (*Worker, error)
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// Alerts
	CreateAlert(ctx context.Context, a *AlertEvent) error
	GetOpenAlert(ctx context.Context, robotID uuid.UUID, alertType string) (*AlertEvent, error)
	ResolveAlert(ctx context.Context, id uuid.UUID, at time.Time) error
	ListOpenAlerts(ctx context.Context) ([]*AlertEvent, error)

	// Retention (spec §4.8). DeleteRunsOlderThan removes whole terminal Run
	// rows (cascading their RunLogs/Artifacts); DeleteRunLogsOlderThan and
	// DeleteArtifactsOlderThan independently prune RunLogs/Artifacts
	// belonging to terminal runs whose own, typically shorter, retention
	// window has elapsed without deleting the Run row itself.
	DeleteRunsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteRunLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteArtifactsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
