// Package enum holds the small closed value sets shared across the run
// lifecycle engine: statuses, trigger types, channels, and the like.
package enum

import "fmt"

// Channel is the deployment environment a run executes against.
type Channel string

const (
	ChannelStable Channel = "stable"
	ChannelBeta   Channel = "beta"
	ChannelHotfix Channel = "hotfix"
)

// ArtifactKind is the shape of the published artifact bytes.
type ArtifactKind string

const (
	ArtifactKindZip ArtifactKind = "zip"
	ArtifactKindExe ArtifactKind = "exe"
)

// EntrypointKind selects how the worker invokes the artifact.
type EntrypointKind string

const (
	EntrypointKindScript EntrypointKind = "script"
	EntrypointKindBinary EntrypointKind = "binary"
)

// SourceCreated records whether a RobotVersion was published by a human or CI.
type SourceCreated string

const (
	SourceCreatedUser SourceCreated = "user"
	SourceCreatedCI   SourceCreated = "ci"
)

// EnvName is the target environment a run executes in.
type EnvName string

const (
	EnvProd EnvName = "PROD"
	EnvHml  EnvName = "HML"
	EnvTest EnvName = "TEST"
)

// Valid reports whether e is one of the three known environments.
func (e EnvName) Valid() bool {
	switch e {
	case EnvProd, EnvHml, EnvTest:
		return true
	}
	return false
}

// TriggerType is the origin of a Run.
type TriggerType string

const (
	TriggerManual    TriggerType = "MANUAL"
	TriggerScheduled TriggerType = "SCHEDULED"
	TriggerRetry     TriggerType = "RETRY"
)

// RunStatus is a Run's position in the state machine (spec §4.4).
type RunStatus string

const (
	RunPending  RunStatus = "PENDING"
	RunRunning  RunStatus = "RUNNING"
	RunSuccess  RunStatus = "SUCCESS"
	RunFailed   RunStatus = "FAILED"
	RunCanceled RunStatus = "CANCELED"
)

// Terminal reports whether s is one of the three terminal states.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSuccess, RunFailed, RunCanceled:
		return true
	}
	return false
}

// LogLevel is the severity of a RunLog line.
type LogLevel string

const (
	LogDebug LogLevel = "DEBUG"
	LogInfo  LogLevel = "INFO"
	LogWarn  LogLevel = "WARN"
	LogError LogLevel = "ERROR"
)

// WorkerStatus is a Worker's lifecycle state.
type WorkerStatus string

const (
	WorkerRunning WorkerStatus = "RUNNING"
	WorkerPaused  WorkerStatus = "PAUSED"
	WorkerStopped WorkerStatus = "STOPPED"
)

// AlertType is the category of an AlertEvent.
type AlertType string

const (
	AlertLate          AlertType = "LATE"
	AlertFailureStreak AlertType = "FAILURE_STREAK"
	AlertWorkerDown    AlertType = "WORKER_DOWN"
	AlertQueueBacklog  AlertType = "QUEUE_BACKLOG"
)

// AlertSeverity is how urgently an AlertEvent should be surfaced.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarn     AlertSeverity = "WARN"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// DefaultSeverity returns the spec §4.6 default severity for an alert type.
func DefaultSeverity(t AlertType) AlertSeverity {
	switch t {
	case AlertLate:
		return SeverityWarn
	case AlertFailureStreak:
		return SeverityCritical
	case AlertWorkerDown:
		return SeverityCritical
	case AlertQueueBacklog:
		return SeverityWarn
	default:
		return SeverityInfo
	}
}

// BackendType selects which worker.Backend executes a run's process.
type BackendType string

const (
	BackendLocal      BackendType = "local"
	BackendDocker     BackendType = "docker"
	BackendKubernetes BackendType = "kubernetes"
)

// ParseBackendType validates a raw backend type string.
func ParseBackendType(s string) (BackendType, error) {
	switch BackendType(s) {
	case BackendLocal, BackendDocker, BackendKubernetes:
		return BackendType(s), nil
	default:
		return "", fmt.Errorf("unsupported backend type: %s", s)
	}
}
