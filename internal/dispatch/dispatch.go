// Package dispatch implements the eligibility filter ClaimNext consults
// before handing a claimed run id to a worker (spec §4.2). Dispatch is
// pull-based: this package owns no loop of its own, just the three checks
// a candidate run must pass.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"automationhub/internal/clock"
	"automationhub/internal/enum"
	"automationhub/internal/store"
)

// Params bundles the operator-configured thresholds the eligibility checks
// need, kept out of Store so tests can vary them without touching fixtures.
type Params struct {
	WorkerStaleAfter time.Duration // default 180s
}

// DefaultParams returns the spec §4.2 defaults.
func DefaultParams() Params {
	return Params{WorkerStaleAfter: 180 * time.Second}
}

// Reason explains a negative Eligible verdict; the zero value means eligible.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonWorkerNotRunning   Reason = "worker not running"
	ReasonWorkerStale        Reason = "worker heartbeat stale"
	ReasonConcurrencyLimit   Reason = "robot concurrency limit reached"
	ReasonOutsideWindow      Reason = "outside schedule window"
)

// Eligible runs the three spec §4.2 checks for run against worker, under
// the assumption the caller already holds Store.LockRobot(run.RobotID) —
// CountRunningByRobot must observe a consistent snapshot while the caller
// decides whether to transition run to RUNNING.
func Eligible(ctx context.Context, st store.Store, clk clock.Clock, params Params, run *store.Run, worker *store.Worker) (bool, Reason, error) {
	if worker.Status != enum.WorkerRunning {
		return false, ReasonWorkerNotRunning, nil
	}
	if clk.Now().Sub(worker.LastHeartbeat) > params.WorkerStaleAfter {
		return false, ReasonWorkerStale, nil
	}

	maxConcurrency := 1
	sched, err := st.GetSchedule(ctx, run.RobotID)
	if err != nil && err != store.ErrNotFound {
		return false, ReasonNone, fmt.Errorf("dispatch: get schedule: %w", err)
	}
	if sched != nil && sched.MaxConcurrency > 0 {
		maxConcurrency = sched.MaxConcurrency
	}
	running, err := st.CountRunningByRobot(ctx, run.RobotID)
	if err != nil {
		return false, ReasonNone, fmt.Errorf("dispatch: count running: %w", err)
	}
	if running >= maxConcurrency {
		return false, ReasonConcurrencyLimit, nil
	}

	// Window check applies only to SCHEDULED runs; MANUAL and RETRY bypass it.
	if run.TriggerType == enum.TriggerScheduled && sched != nil && sched.WindowStart != "" && sched.WindowEnd != "" {
		loc, err := clk.ResolveLocation(sched.Timezone)
		if err != nil {
			return false, ReasonNone, fmt.Errorf("dispatch: resolve timezone: %w", err)
		}
		if !inWindow(clk.Now().In(loc), sched.WindowStart, sched.WindowEnd) {
			return false, ReasonOutsideWindow, nil
		}
	}

	return true, ReasonNone, nil
}

// inWindow reports whether now's local HH:MM falls within [start, end]
// inclusive. A window that wraps past midnight (end < start) is treated as
// spanning the night, e.g. 22:00-06:00.
func inWindow(now time.Time, start, end string) bool {
	cur := now.Hour()*60 + now.Minute()
	s, errS := parseHHMM(start)
	e, errE := parseHHMM(end)
	if errS != nil || errE != nil {
		return true // malformed window is not this package's job to reject
	}
	if s <= e {
		return cur >= s && cur <= e
	}
	return cur >= s || cur <= e
}

func parseHHMM(v string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	return h*60 + m, nil
}
