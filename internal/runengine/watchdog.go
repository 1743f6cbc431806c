package runengine

import (
	"context"
	"time"

	"automationhub/internal/enum"
	"automationhub/internal/logger"
	"automationhub/internal/store"
	"go.uber.org/zap"
)

// Watchdog is the RunEngine-owned backup safety net (spec §5, §9): it
// forces a RUNNING run to FAILED when its timeout has elapsed or its
// claiming worker has gone silent for too long. It shares the Engine's
// Store handle and keeps no state of its own, so cmd/hub ticks it inline
// rather than running it as a separate process.
type Watchdog struct {
	engine *Engine
}

// NewWatchdog builds a Watchdog over engine.
func NewWatchdog(engine *Engine) *Watchdog {
	return &Watchdog{engine: engine}
}

// Tick scans every RUNNING run once and force-finishes the ones that have
// outlived their timeout or whose worker has gone stale.
func (w *Watchdog) Tick(ctx context.Context) error {
	log := logger.GetLogger(ctx)
	runs, err := w.engine.store.ListRuns(ctx, store.RunFilter{Status: string(enum.RunRunning)})
	if err != nil {
		return newErr(KindTransient, "Watchdog.Tick", "list running runs", err)
	}

	now := w.engine.clock.Now()
	for _, run := range runs {
		if forced := w.forceIfTimedOut(ctx, run, now); forced {
			log.Warn("watchdog forced TIMEOUT", zap.String("run_id", run.ID.String()))
			continue
		}
		if forced := w.forceIfWorkerLost(ctx, run, now); forced {
			log.Warn("watchdog forced worker-lost", zap.String("run_id", run.ID.String()))
		}
	}
	return nil
}

func (w *Watchdog) forceIfTimedOut(ctx context.Context, run *store.Run, now time.Time) bool {
	if run.StartedAt == nil {
		return false
	}
	timeoutSeconds := w.engine.params.DefaultTimeoutSeconds
	if sched, err := w.engine.store.GetSchedule(ctx, run.RobotID); err == nil && sched.TimeoutSeconds > 0 {
		timeoutSeconds = sched.TimeoutSeconds
	}
	deadline := run.StartedAt.Add(time.Duration(timeoutSeconds)*time.Second + w.engine.params.WatchdogMargin)
	if now.Before(deadline) {
		return false
	}
	_ = w.engine.ReportFinish(ctx, run.ID, OutcomeFailed, "TIMEOUT", nil)
	return true
}

func (w *Watchdog) forceIfWorkerLost(ctx context.Context, run *store.Run, now time.Time) bool {
	if run.ClaimWorkerID == nil {
		return false
	}
	worker, err := w.engine.store.GetWorker(ctx, *run.ClaimWorkerID)
	if err != nil {
		return false
	}
	if now.Sub(worker.LastHeartbeat) <= 2*w.engine.params.WorkerStaleAfter {
		return false
	}
	_ = w.engine.ReportFinish(ctx, run.ID, OutcomeFailed, "worker lost", nil)
	return true
}

// ForceCancel is invoked by the Worker-facing cancel-grace-timeout path:
// a RUNNING run whose CancelRequestedAt predates now by more than grace
// seconds is forcibly marked CANCELED rather than FAILED (spec §4.1).
func (w *Watchdog) ForceCancel(ctx context.Context, run *store.Run, now time.Time) bool {
	if run.CancelRequestedAt == nil {
		return false
	}
	if now.Sub(*run.CancelRequestedAt) < w.engine.params.CancelGraceSeconds {
		return false
	}
	_ = w.engine.ReportFinish(ctx, run.ID, OutcomeCanceled, "", nil)
	return true
}

// TickCancelGrace scans RUNNING runs with an expired cancel grace period
// and forces them CANCELED, complementing Tick's timeout/worker-lost scan.
func (w *Watchdog) TickCancelGrace(ctx context.Context) error {
	runs, err := w.engine.store.ListRuns(ctx, store.RunFilter{Status: string(enum.RunRunning)})
	if err != nil {
		return newErr(KindTransient, "Watchdog.TickCancelGrace", "list running runs", err)
	}
	now := w.engine.clock.Now()
	for _, run := range runs {
		if !run.CancelRequested {
			continue
		}
		w.ForceCancel(ctx, run, now)
	}
	return nil
}
