package runengine

import (
	"time"

	"github.com/google/uuid"

	"automationhub/internal/enum"
)

// ExecuteRequest is the single input shape for CreateRun. It accepts a
// version reference as either version_id or robot_version_id — both JSON
// tags decode into the two fields below, which CreateRun compares before
// resolving, so a caller that sends both must send the same id (spec §9
// open question: "accept either version_id or robot_version_id").
type ExecuteRequest struct {
	RobotID        uuid.UUID
	VersionID      *uuid.UUID `json:"version_id"`
	RobotVersionID *uuid.UUID `json:"robot_version_id"`
	Channel        enum.Channel
	EnvName        enum.EnvName
	Parameters     map[string]interface{}
	RuntimeEnv     map[string]string
	TriggerType    enum.TriggerType
	TriggeredBy    string
	Attempt        int
	ScheduleID     *uuid.UUID
	ServiceID      *uuid.UUID

	// FireTime and NotBefore are set by the Scheduler (exact cron fire
	// instant, for the (schedule_id, fire_time) dedup key) and by retry
	// creation (backoff delay) respectively. Zero values mean "now".
	FireTime  *time.Time
	NotBefore time.Time
}

func (r ExecuteRequest) resolvedVersionRef() (*uuid.UUID, error) {
	switch {
	case r.VersionID != nil && r.RobotVersionID != nil:
		if *r.VersionID != *r.RobotVersionID {
			return nil, newErr(KindValidation, "CreateRun", "version_id and robot_version_id disagree", nil)
		}
		return r.VersionID, nil
	case r.VersionID != nil:
		return r.VersionID, nil
	case r.RobotVersionID != nil:
		return r.RobotVersionID, nil
	default:
		return nil, nil
	}
}

// FinishOutcome is the terminal status ReportFinish transitions a run to.
type FinishOutcome enum.RunStatus

const (
	OutcomeSuccess  FinishOutcome = FinishOutcome(enum.RunSuccess)
	OutcomeFailed   FinishOutcome = FinishOutcome(enum.RunFailed)
	OutcomeCanceled FinishOutcome = FinishOutcome(enum.RunCanceled)
)

// FinishedArtifact is one output file a worker reports at ReportFinish.
type FinishedArtifact struct {
	Name        string
	Path        string
	SizeBytes   int64
	ContentType string
}

// Params bundles operator-configured thresholds (spec §4.1, §4.3, §9).
type Params struct {
	// MaxIneligibleAttempts is how many consecutive failed eligibility
	// checks a run tolerates before ClaimNext backs it off instead of
	// re-queuing it immediately at the tail (spec §4.1, default 3).
	MaxIneligibleAttempts int
	IneligibilityBackoff  time.Duration
	CancelGraceSeconds    time.Duration
	DefaultTimeoutSeconds int
	WorkerStaleAfter      time.Duration
	WatchdogMargin        time.Duration
}

// DefaultParams returns the spec-named defaults.
func DefaultParams() Params {
	return Params{
		MaxIneligibleAttempts: 3,
		IneligibilityBackoff:  30 * time.Second,
		CancelGraceSeconds:    30 * time.Second,
		DefaultTimeoutSeconds: 3600,
		WorkerStaleAfter:      180 * time.Second,
		WatchdogMargin:        30 * time.Second,
	}
}
