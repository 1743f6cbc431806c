// Package runengine is the authoritative state machine for every Run
// (spec §4.1, §4.4): every transition funnels through the Engine's
// operations, which emit log lines at lifecycle boundaries and hold the
// per-run and per-robot locks that keep concurrent callers serializable.
package runengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"automationhub/internal/clock"
	"automationhub/internal/dispatch"
	"automationhub/internal/enum"
	"automationhub/internal/logbus"
	"automationhub/internal/queue"
	"automationhub/internal/store"
)

// Engine is the RunEngine: every public method is safe for concurrent use.
type Engine struct {
	store store.Store
	queue queue.Queue
	bus   *logbus.LogBus
	clock clock.Clock
	params Params

	mu               sync.Mutex
	ineligibleCounts map[uuid.UUID]int
}

// New builds an Engine over the given collaborators.
func New(st store.Store, q queue.Queue, bus *logbus.LogBus, clk clock.Clock, params Params) *Engine {
	return &Engine{
		store: st, queue: q, bus: bus, clock: clk, params: params,
		ineligibleCounts: make(map[uuid.UUID]int),
	}
}

// CreateRun resolves the robot/version/env, persists a PENDING run, emits
// the initial "enqueued" log line, and enqueues it (spec §4.1).
func (e *Engine) CreateRun(ctx context.Context, req ExecuteRequest) (*store.Run, error) {
	versionRef, err := req.resolvedVersionRef()
	if err != nil {
		return nil, err
	}

	if !req.EnvName.Valid() {
		return nil, newErr(KindValidation, "CreateRun", fmt.Sprintf("invalid env_name %q", req.EnvName), nil)
	}
	if req.TriggerType == enum.TriggerScheduled && req.ScheduleID == nil {
		return nil, newErr(KindValidation, "CreateRun", "SCHEDULED trigger requires schedule_id", nil)
	}
	if req.TriggerType == enum.TriggerRetry && req.Attempt < 2 {
		return nil, newErr(KindValidation, "CreateRun", "RETRY trigger requires attempt >= 2", nil)
	}

	robot, err := e.store.GetRobot(ctx, req.RobotID)
	if err != nil {
		return nil, newErr(KindNotFound, "CreateRun", "robot not found", err)
	}

	var version *store.RobotVersion
	if versionRef != nil {
		version, err = e.store.GetRobotVersion(ctx, *versionRef)
		if err != nil {
			return nil, newErr(KindNotFound, "CreateRun", "version not found", err)
		}
		if version.RobotID != robot.ID {
			return nil, newErr(KindValidation, "CreateRun", "version does not belong to robot", nil)
		}
	} else {
		channel := req.Channel
		if channel == "" {
			channel = enum.ChannelStable
		}
		version, err = e.store.GetActiveRobotVersion(ctx, robot.ID, string(channel))
		if err != nil {
			return nil, newErr(KindFatal, "CreateRun", "no active version", ErrNoActiveVersion)
		}
	}

	attempt := req.Attempt
	if attempt == 0 {
		attempt = 1
	}

	run := &store.Run{
		ID:             uuid.New(),
		RobotID:        robot.ID,
		RobotVersionID: version.ID,
		ServiceID:      req.ServiceID,
		ScheduleID:     req.ScheduleID,
		EnvName:        req.EnvName,
		TriggerType:    req.TriggerType,
		Attempt:        attempt,
		Parameters:     req.Parameters,
		RuntimeEnv:     req.RuntimeEnv,
		Status:         enum.RunPending,
		QueuedAt:       e.clock.Now(),
		TriggeredBy:    req.TriggeredBy,
		CancelRequested: false,
		FireTime:       req.FireTime,
		NotBefore:      req.NotBefore,
	}
	if run.NotBefore.IsZero() {
		run.NotBefore = run.QueuedAt
	}

	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, newErr(KindConflict, "CreateRun", "create run", err)
	}

	if err := e.bus.Publish(ctx, run.ID, &store.RunLog{Level: enum.LogInfo, Message: "enqueued"}); err != nil {
		return nil, newErr(KindTransient, "CreateRun", "publish initial log", err)
	}

	// A crash between CreateRun and Enqueue leaves a PENDING run invisible
	// to Queue: this call does not retry, and neither Watchdog nor any other
	// loop re-enqueues such a run.
	if err := e.queue.Enqueue(ctx, run.ID, run.NotBefore); err != nil {
		return nil, newErr(KindTransient, "CreateRun", "enqueue", err)
	}

	return run, nil
}

// ClaimNext atomically pops the next eligible run for worker and
// transitions it to RUNNING, or returns (nil, nil) if nothing is claimable
// right now (spec §4.1, §4.2).
func (e *Engine) ClaimNext(ctx context.Context, workerID uuid.UUID) (*store.Run, error) {
	worker, err := e.store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, newErr(KindNotFound, "ClaimNext", "worker not found", err)
	}

	// Bounded by queue depth so a backlog of persistently-ineligible runs
	// cannot spin this call forever; callers simply try again next poll.
	depth, err := e.queue.Depth(ctx)
	if err != nil {
		return nil, newErr(KindTransient, "ClaimNext", "queue depth", err)
	}
	maxAttempts := depth + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for i := 0; i < maxAttempts; i++ {
		runID, ok, err := e.queue.Claim(ctx)
		if err != nil {
			return nil, newErr(KindTransient, "ClaimNext", "queue claim", err)
		}
		if !ok {
			return nil, nil
		}

		run, err := e.store.GetRun(ctx, runID)
		if err != nil {
			continue // vanished run, try the next queue item
		}
		if run.Status != enum.RunPending {
			continue // already handled by another path (e.g. cancel)
		}

		var claimed *store.Run
		lockErr := e.store.LockRobot(ctx, run.RobotID, func() error {
			// Re-read inside the lock: another worker's ClaimNext may have
			// already transitioned this run between the checks above.
			fresh, err := e.store.GetRun(ctx, runID)
			if err != nil || fresh.Status != enum.RunPending {
				return nil
			}

			eligible, reason, err := dispatch.Eligible(ctx, e.store, e.clock, dispatch.Params{WorkerStaleAfter: e.params.WorkerStaleAfter}, fresh, worker)
			if err != nil {
				return err
			}
			if !eligible {
				e.requeueIneligible(ctx, runID, reason)
				return nil
			}

			fresh.Status = enum.RunRunning
			fresh.ClaimWorkerID = &workerID
			if err := e.store.UpdateRun(ctx, fresh); err != nil {
				return err
			}
			e.clearIneligible(runID)
			if err := e.bus.PublishStatus(ctx, runID, enum.RunRunning); err != nil {
				return err
			}
			claimed = fresh
			return nil
		})
		if lockErr != nil {
			return nil, newErr(KindTransient, "ClaimNext", "lock robot", lockErr)
		}
		if claimed != nil {
			return claimed, nil
		}
	}
	return nil, nil
}

// requeueIneligible implements the spec §4.1 N-ineligibility-then-backoff
// rule: the first N-1 failed eligibility checks requeue at the tail
// immediately; the Nth and beyond hold the run out for IneligibilityBackoff.
func (e *Engine) requeueIneligible(ctx context.Context, runID uuid.UUID, reason dispatch.Reason) {
	e.mu.Lock()
	e.ineligibleCounts[runID]++
	count := e.ineligibleCounts[runID]
	e.mu.Unlock()

	notBefore := e.clock.Now()
	if count >= e.params.MaxIneligibleAttempts {
		notBefore = notBefore.Add(e.params.IneligibilityBackoff)
	}
	_ = e.queue.Requeue(ctx, runID, notBefore)
	_ = reason // surfaced via logs at a higher level if ever needed
}

func (e *Engine) clearIneligible(runID uuid.UUID) {
	e.mu.Lock()
	delete(e.ineligibleCounts, runID)
	e.mu.Unlock()
}

// ReportStart records where a claimed run actually executes. Idempotent if
// called again with the same host/pid (spec §4.1).
func (e *Engine) ReportStart(ctx context.Context, runID uuid.UUID, host string, pid int) error {
	return e.store.LockRun(ctx, runID, func() error {
		run, err := e.store.GetRun(ctx, runID)
		if err != nil {
			return newErr(KindNotFound, "ReportStart", "run not found", err)
		}
		if run.Status != enum.RunRunning {
			return newErr(KindPreconditionFailed, "ReportStart", "run is not RUNNING", nil)
		}
		if run.StartedAt != nil && run.HostName == host && run.ProcessID == pid {
			return nil
		}
		now := e.clock.Now()
		run.StartedAt = &now
		run.HostName = host
		run.ProcessID = pid
		return e.store.UpdateRun(ctx, run)
	})
}

// AppendLog persists and fans out one log line. A line appended after a
// run reaches a terminal state is tagged PostTerminal rather than rejected
// (spec §9).
func (e *Engine) AppendLog(ctx context.Context, runID uuid.UUID, level enum.LogLevel, message string) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return newErr(KindNotFound, "AppendLog", "run not found", err)
	}
	l := &store.RunLog{Level: level, Message: message, PostTerminal: run.Status.Terminal()}
	if err := e.bus.Publish(ctx, runID, l); err != nil {
		return newErr(KindTransient, "AppendLog", "publish", err)
	}
	return nil
}

// GetLogsSince returns every log line with sequence > seq, in order.
func (e *Engine) GetLogsSince(ctx context.Context, runID uuid.UUID, seq int64) ([]*store.RunLog, error) {
	logs, err := e.store.LogsSince(ctx, runID, seq, 0)
	if err != nil {
		return nil, newErr(KindTransient, "GetLogsSince", "logs since", err)
	}
	return logs, nil
}

// ReportFinish transitions a RUNNING run to a terminal state, records
// artifacts, and — for non-MANUAL triggers that have retries left —
// schedules a RETRY run (spec §4.1, §4.4).
func (e *Engine) ReportFinish(ctx context.Context, runID uuid.UUID, outcome FinishOutcome, errorMessage string, artifacts []FinishedArtifact) error {
	var finished *store.Run
	err := e.store.LockRun(ctx, runID, func() error {
		run, err := e.store.GetRun(ctx, runID)
		if err != nil {
			return newErr(KindNotFound, "ReportFinish", "run not found", err)
		}
		if run.Status != enum.RunRunning {
			return newErr(KindPreconditionFailed, "ReportFinish", "run is not RUNNING", nil)
		}

		now := e.clock.Now()
		run.Status = enum.RunStatus(outcome)
		run.FinishedAt = &now
		run.ErrorMessage = errorMessage
		if run.StartedAt != nil {
			d := now.Sub(*run.StartedAt).Seconds()
			run.DurationSeconds = &d
		}
		if err := e.store.UpdateRun(ctx, run); err != nil {
			return newErr(KindTransient, "ReportFinish", "update run", err)
		}
		for _, a := range artifacts {
			art := &store.Artifact{ID: uuid.New(), RunID: runID, Name: a.Name, Path: a.Path, SizeBytes: a.SizeBytes, ContentType: a.ContentType}
			if err := e.store.CreateArtifact(ctx, art); err != nil {
				return newErr(KindTransient, "ReportFinish", "create artifact", err)
			}
		}
		finished = run
		return nil
	})
	if err != nil {
		return err
	}

	msg := fmt.Sprintf("finished: %s", outcome)
	if errorMessage != "" {
		msg = fmt.Sprintf("%s (%s)", msg, errorMessage)
	}
	_ = e.bus.Publish(ctx, runID, &store.RunLog{Level: enum.LogInfo, Message: msg})
	if err := e.bus.PublishStatus(ctx, runID, finished.Status); err != nil {
		return newErr(KindTransient, "ReportFinish", "publish status", err)
	}

	if finished.Status == enum.RunFailed && finished.TriggerType != enum.TriggerManual {
		e.maybeRetry(ctx, finished)
	}
	return nil
}

func (e *Engine) maybeRetry(ctx context.Context, run *store.Run) {
	sched, err := e.store.GetSchedule(ctx, run.RobotID)
	if err != nil || sched.RetryCount <= 0 || run.Attempt > sched.RetryCount {
		return
	}
	notBefore := e.clock.Now().Add(time.Duration(sched.RetryBackoffSeconds) * time.Second)
	_, _ = e.CreateRun(ctx, ExecuteRequest{
		RobotID:        run.RobotID,
		RobotVersionID: &run.RobotVersionID,
		EnvName:        run.EnvName,
		Parameters:     run.Parameters,
		RuntimeEnv:     run.RuntimeEnv,
		TriggerType:    enum.TriggerRetry,
		TriggeredBy:    run.TriggeredBy,
		Attempt:        run.Attempt + 1,
		ScheduleID:     run.ScheduleID,
		ServiceID:      run.ServiceID,
		NotBefore:      notBefore,
	})
}

// RequestCancel marks a run for cancellation. A PENDING run is canceled
// immediately; a RUNNING run is flagged for the Worker to observe and
// cooperatively terminate, backstopped by Watchdog's grace-timeout force
// (spec §4.1).
func (e *Engine) RequestCancel(ctx context.Context, runID uuid.UUID, user string) error {
	return e.store.LockRun(ctx, runID, func() error {
		run, err := e.store.GetRun(ctx, runID)
		if err != nil {
			return newErr(KindNotFound, "RequestCancel", "run not found", err)
		}
		if run.Status.Terminal() {
			return nil // idempotent no-op
		}

		now := e.clock.Now()
		run.CancelRequested = true
		run.CancelRequestedAt = &now
		run.CanceledBy = user

		if run.Status == enum.RunPending {
			run.Status = enum.RunCanceled
			run.FinishedAt = &now
			run.CanceledAt = &now
			if err := e.store.UpdateRun(ctx, run); err != nil {
				return newErr(KindTransient, "RequestCancel", "update run", err)
			}
			_ = e.bus.Publish(ctx, runID, &store.RunLog{Level: enum.LogInfo, Message: "canceled before dispatch"})
			return e.bus.PublishStatus(ctx, runID, enum.RunCanceled)
		}

		if err := e.store.UpdateRun(ctx, run); err != nil {
			return newErr(KindTransient, "RequestCancel", "update run", err)
		}
		return e.bus.Publish(ctx, runID, &store.RunLog{Level: enum.LogInfo, Message: "cancel requested by " + user})
	})
}
