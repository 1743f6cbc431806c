// Package store is the durable repository for robots, versions, schedules,
// SLA rules, runs, run logs, artifacts, workers, and alerts (spec §2, §3).
// It exposes transactional operations only — no business rules live here;
// those belong to runengine, dispatch, scheduler, slamonitor and cleanup.
package store

import (
	"time"

	"github.com/google/uuid"

	"automationhub/internal/enum"
)

// Robot is a named, versioned automation unit.
type Robot struct {
	ID        uuid.UUID
	Name      string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RobotVersion is one published, immutable build of a Robot.
type RobotVersion struct {
	ID               uuid.UUID
	RobotID          uuid.UUID
	Version          string
	Channel          enum.Channel
	ArtifactKind     enum.ArtifactKind
	ArtifactDigest   string
	EntrypointKind   enum.EntrypointKind
	EntrypointPath   string
	DefaultArguments []string
	DefaultEnv       map[string]string
	WorkingDir       string
	RequiredEnvKeys  []string
	SourceCommit     string
	SourceBranch     string
	SourceBuildURL   string
	SourceCreated    enum.SourceCreated
	IsActive         bool
	CreatedAt        time.Time
}

// Schedule is the one-per-robot cron policy driving SCHEDULED runs.
type Schedule struct {
	ID                  uuid.UUID
	RobotID             uuid.UUID
	Enabled             bool
	CronExpr            string
	Timezone            string
	WindowStart         string // HH:MM, "" if unset
	WindowEnd           string
	MaxConcurrency      int
	TimeoutSeconds      int
	RetryCount          int
	RetryBackoffSeconds int
	LastTickAt          time.Time
	CreatedAt           time.Time
}

// SLARule is the one-per-robot lateness/failure-streak alerting policy.
type SLARule struct {
	ID                   uuid.UUID
	RobotID              uuid.UUID
	ExpectedEveryMinutes int // 0 = unset
	ExpectedDailyTime    string
	LateAfterMinutes     int
	AlertOnFailure       bool
	AlertOnLate          bool
	NotifyChannels       map[string]interface{}
}

// RobotEnvBinding supplies one config or secret value to a run's child
// process environment for a given (robot, env_name).
type RobotEnvBinding struct {
	RobotID  uuid.UUID
	EnvName  enum.EnvName
	Key      string
	Value    string // ciphertext when IsSecret
	IsSecret bool
}

// Run is one attempt to execute a specific RobotVersion with specific params.
type Run struct {
	ID              uuid.UUID
	RobotID         uuid.UUID
	RobotVersionID  uuid.UUID
	ServiceID       *uuid.UUID
	ScheduleID      *uuid.UUID
	EnvName         enum.EnvName
	TriggerType     enum.TriggerType
	Attempt         int
	Parameters      map[string]interface{}
	RuntimeEnv      map[string]string
	Status          enum.RunStatus
	QueuedAt        time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	DurationSeconds *float64
	TriggeredBy     string
	HostName        string
	ProcessID       int
	ErrorMessage    string
	CancelRequested bool
	CancelRequestedAt *time.Time
	CanceledAt      *time.Time
	CanceledBy      string

	// FireTime is set for SCHEDULED runs and, together with ScheduleID,
	// forms the uniqueness key that makes the Scheduler idempotent across
	// restarts (spec §4.5, invariant 6).
	FireTime *time.Time

	// NotBefore is the earliest time this run may be claimed: used for
	// retry backoff and for the N-ineligibility claim backoff (spec §4.1).
	NotBefore time.Time

	// ClaimWorkerID is the worker currently holding the run (set on
	// transition to RUNNING), used for stale-worker reclaim (spec §9).
	ClaimWorkerID *uuid.UUID
}

// RunLog is one line of a run's output, totally ordered by Sequence.
type RunLog struct {
	ID           uuid.UUID
	RunID        uuid.UUID
	Sequence     int64
	Timestamp    time.Time
	Level        enum.LogLevel
	Message      string
	PostTerminal bool
}

// Artifact is one output file a run declared, addressed by digest in the
// external artifact bytes store.
type Artifact struct {
	ID          uuid.UUID
	RunID       uuid.UUID
	Name        string
	Path        string
	SizeBytes   int64
	ContentType string
}

// Worker is one host process that claims and executes runs.
type Worker struct {
	ID            uuid.UUID
	Hostname      string
	Status        enum.WorkerStatus
	LastHeartbeat time.Time
	Version       string
}

// GlobalAlertRobot is the sentinel robot id used for alerts that are not
// scoped to any single robot (QUEUE_BACKLOG, spec §4.6).
var GlobalAlertRobot = uuid.Nil

// AlertEvent is an open or resolved SLA/health notification.
type AlertEvent struct {
	ID         uuid.UUID
	RobotID    uuid.UUID
	RunID      *uuid.UUID
	Type       enum.AlertType
	Severity   enum.AlertSeverity
	Message    string
	Metadata   map[string]interface{}
	CreatedAt  time.Time
	ResolvedAt *time.Time
}
