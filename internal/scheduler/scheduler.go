// Package scheduler implements the periodic cron-firing loop (spec §4.5):
// for every enabled Schedule it walks fire times since the schedule's
// last successful tick and asks RunEngine to create a SCHEDULED run for
// each one. Loop shape is grounded on the teacher's monitor.BotMonitor
// (ticker + select over stop/context, immediate first tick).
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"automationhub/internal/clock"
	"automationhub/internal/enum"
	"automationhub/internal/runengine"
	"automationhub/internal/store"
)

// DefaultInterval is spec §4.5's default SCHEDULER_INTERVAL_SECONDS.
const DefaultInterval = 30 * time.Second

// Scheduler runs the single periodic loop described in spec §4.5.
type Scheduler struct {
	store    store.Store
	engine   *runengine.Engine
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger

	stopChan chan struct{}
	doneChan chan struct{}
}

// New builds a Scheduler. interval defaults to DefaultInterval if zero.
func New(st store.Store, engine *runengine.Engine, clk clock.Clock, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store: st, engine: engine, clock: clk, interval: interval, logger: logger,
		stopChan: make(chan struct{}), doneChan: make(chan struct{}),
	}
}

// Start launches the loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop signals the loop to exit and blocks until it has.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	<-s.doneChan
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneChan)

	s.tickAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.tickAll(ctx)
		}
	}
}

func (s *Scheduler) tickAll(ctx context.Context) {
	schedules, err := s.store.ListEnabledSchedules(ctx)
	if err != nil {
		s.logger.Error("list enabled schedules failed", zap.Error(err))
		return
	}
	for _, sched := range schedules {
		s.tickOne(ctx, sched)
	}
}

// tickOne implements spec §4.5 steps 1-3 for a single schedule.
func (s *Scheduler) tickOne(ctx context.Context, sched *store.Schedule) {
	log := s.logger.With(zap.String("schedule_id", sched.ID.String()), zap.String("robot_id", sched.RobotID.String()))

	loc, err := s.clock.ResolveLocation(sched.Timezone)
	if err != nil {
		log.Error("resolve timezone failed", zap.Error(err))
		return
	}

	now := s.clock.Now()
	lastTick := sched.LastTickAt
	if lastTick.IsZero() {
		lastTick = now.Add(-s.interval)
	}

	fires, err := s.clock.NextFires(sched.CronExpr, loc, lastTick, now)
	if err != nil {
		log.Error("evaluate cron expression failed", zap.Error(err))
		return
	}

	for _, fireTime := range fires {
		s.fireOne(ctx, sched, fireTime, loc, log)
	}

	if err := s.store.TouchScheduleTick(ctx, sched.ID, now); err != nil {
		log.Error("advance last_tick_at failed", zap.Error(err))
	}
}

func (s *Scheduler) fireOne(ctx context.Context, sched *store.Schedule, fireTime time.Time, loc *time.Location, log *zap.Logger) {
	if sched.WindowStart != "" && sched.WindowEnd != "" && !inWindow(fireTime.In(loc), sched.WindowStart, sched.WindowEnd) {
		return
	}

	if existing, err := s.store.FindByScheduleFire(ctx, sched.ID, fireTime); err == nil && existing != nil {
		return // already created this fire, crash-safe idempotency (spec invariant 6)
	}

	if s.concurrencySaturated(ctx, sched, log) {
		log.Info("skipped schedule fire: max_concurrency saturated", zap.Time("fire_time", fireTime))
		return
	}

	fire := fireTime
	_, err := s.engine.CreateRun(ctx, runengine.ExecuteRequest{
		RobotID:     sched.RobotID,
		EnvName:     enum.EnvProd,
		TriggerType: enum.TriggerScheduled,
		TriggeredBy: "scheduler",
		ScheduleID:  &sched.ID,
		FireTime:    &fire,
	})
	if err == nil {
		return
	}

	if rerr, ok := err.(*runengine.Error); ok && rerr.Kind == runengine.KindConflict {
		return // concurrent create lost the (schedule_id, fire_time) race
	}
	log.Info("skipped schedule fire", zap.Time("fire_time", fireTime), zap.Error(err))
}

// concurrencySaturated reports whether this (one-per-robot) schedule already
// has max_concurrency runs outstanding, counting both RUNNING runs and
// PENDING runs still awaiting claim (spec §4.5 step 2).
func (s *Scheduler) concurrencySaturated(ctx context.Context, sched *store.Schedule, log *zap.Logger) bool {
	maxConcurrency := 1
	if sched.MaxConcurrency > 0 {
		maxConcurrency = sched.MaxConcurrency
	}

	running, err := s.store.CountRunningByRobot(ctx, sched.RobotID)
	if err != nil {
		log.Error("count running runs failed", zap.Error(err))
		return false
	}
	if running >= maxConcurrency {
		return true
	}

	pending, err := s.store.ListRuns(ctx, store.RunFilter{RobotID: sched.RobotID, Status: string(enum.RunPending)})
	if err != nil {
		log.Error("list pending runs failed", zap.Error(err))
		return false
	}
	return running+len(pending) >= maxConcurrency
}

// inWindow reports whether t's local HH:MM falls within [start, end]
// inclusive, matching dispatch.inWindow's midnight-wrap handling.
func inWindow(t time.Time, start, end string) bool {
	cur := t.Hour()*60 + t.Minute()
	s, errS := parseHHMM(start)
	e, errE := parseHHMM(end)
	if errS != nil || errE != nil {
		return true
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
