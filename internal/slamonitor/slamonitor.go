// Package slamonitor implements the SLA/health alerting loop (spec §4.6):
// for every robot with an SLARule it evaluates LATE and FAILURE_STREAK,
// plus the global WORKER_DOWN and QUEUE_BACKLOG checks, opening or
// auto-resolving AlertEvents as conditions change. Loop shape is grounded
// on the teacher's monitor.BotMonitor ticker loop; alert delivery reuses
// the teacher's internal/alert/channel.Channel interface.
package slamonitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"automationhub/internal/alert/channel"
	"automationhub/internal/clock"
	"automationhub/internal/enum"
	"automationhub/internal/queue"
	"automationhub/internal/store"
)

// DefaultInterval is spec §4.6's default SLA_MONITOR_INTERVAL_SECONDS.
const DefaultInterval = 60 * time.Second

// Params bundles the operator-configured thresholds spec §4.6 and §6 name.
type Params struct {
	FailureStreakThreshold int           // default 3
	WorkerStaleAfter       time.Duration // WORKER_STALE_SECONDS
	QueueBacklogThreshold  int           // QUEUE_BACKLOG_ALERT_THRESHOLD
}

// DefaultParams returns the spec-named defaults.
func DefaultParams() Params {
	return Params{
		FailureStreakThreshold: 3,
		WorkerStaleAfter:       180 * time.Second,
		QueueBacklogThreshold:  100,
	}
}

// Monitor runs the single periodic loop described in spec §4.6.
type Monitor struct {
	store    store.Store
	queue    queue.Queue
	clock    clock.Clock
	params   Params
	channels []channel.Channel
	interval time.Duration
	logger   *zap.Logger

	stopChan chan struct{}
	doneChan chan struct{}
}

// New builds a Monitor. channels may be empty — alerts are still recorded
// in Store even with no delivery channel configured.
func New(st store.Store, q queue.Queue, clk clock.Clock, params Params, channels []channel.Channel, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		store: st, queue: q, clock: clk, params: params, channels: channels, interval: interval, logger: logger,
		stopChan: make(chan struct{}), doneChan: make(chan struct{}),
	}
}

// Start launches the loop in the background.
func (m *Monitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

// Stop signals the loop to exit and blocks until it has.
func (m *Monitor) Stop() {
	close(m.stopChan)
	<-m.doneChan
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.doneChan)

	m.tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	m.checkSLARules(ctx)
	m.checkWorkers(ctx)
	m.checkQueueBacklog(ctx)
}

func (m *Monitor) checkSLARules(ctx context.Context) {
	rules, err := m.store.ListSLARules(ctx)
	if err != nil {
		m.logger.Error("list SLA rules failed", zap.Error(err))
		return
	}
	for _, rule := range rules {
		m.checkLate(ctx, rule)
		if rule.AlertOnFailure {
			m.checkFailureStreak(ctx, rule)
		}
	}
}

// checkLate implements spec §4.6's LATE rule for one robot.
func (m *Monitor) checkLate(ctx context.Context, rule *store.SLARule) {
	if !rule.AlertOnLate {
		m.resolveIfOpen(ctx, rule.RobotID, enum.AlertLate)
		return
	}

	now := m.clock.Now()
	late, detail := m.isLate(ctx, rule, now)
	if late {
		m.openOrKeep(ctx, rule.RobotID, enum.AlertLate, detail, rule.NotifyChannels)
	} else {
		m.resolveIfOpen(ctx, rule.RobotID, enum.AlertLate)
	}
}

func (m *Monitor) isLate(ctx context.Context, rule *store.SLARule, now time.Time) (bool, string) {
	lastSuccess, hasSuccess := m.lastSuccessfulFinish(ctx, rule.RobotID)

	if rule.ExpectedEveryMinutes > 0 {
		deadline := time.Duration(rule.ExpectedEveryMinutes+rule.LateAfterMinutes) * time.Minute
		if !hasSuccess || now.Sub(lastSuccess) > deadline {
			return true, fmt.Sprintf("no successful run in the last %d minutes", rule.ExpectedEveryMinutes+rule.LateAfterMinutes)
		}
	}

	// SLARule carries no per-rule timezone (spec §4.6 names only a clock
	// time, not a zone), so "today's local time" resolves against UTC,
	// matching Clock.Now()'s own zone.
	if rule.ExpectedDailyTime != "" {
		deadline := dailyDeadline(now, rule.ExpectedDailyTime, rule.LateAfterMinutes)
		ranToday := hasSuccess && sameDay(lastSuccess, now)
		if now.After(deadline) && !ranToday {
			return true, fmt.Sprintf("no successful run today by %s", rule.ExpectedDailyTime)
		}
	}

	return false, ""
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func dailyDeadline(now time.Time, hhmm string, lateAfterMinutes int) time.Time {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil {
		return now // malformed config never trips the rule
	}
	y, mo, d := now.Date()
	base := time.Date(y, mo, d, h, m, 0, 0, now.Location())
	return base.Add(time.Duration(lateAfterMinutes) * time.Minute)
}

func (m *Monitor) lastSuccessfulFinish(ctx context.Context, robotID uuid.UUID) (time.Time, bool) {
	runs, err := m.store.ListRuns(ctx, store.RunFilter{RobotID: robotID, Status: string(enum.RunSuccess)})
	if err != nil || len(runs) == 0 {
		return time.Time{}, false
	}
	latest := runs[0]
	for _, r := range runs[1:] {
		if r.FinishedAt != nil && (latest.FinishedAt == nil || r.FinishedAt.After(*latest.FinishedAt)) {
			latest = r
		}
	}
	if latest.FinishedAt == nil {
		return time.Time{}, false
	}
	return *latest.FinishedAt, true
}

// checkFailureStreak implements spec §4.6's FAILURE_STREAK rule.
func (m *Monitor) checkFailureStreak(ctx context.Context, rule *store.SLARule) {
	// ListRuns is ordered newest-first but includes non-terminal runs, so a
	// limit of exactly the threshold could undercount terminal runs if a
	// PENDING/RUNNING run sits in between; fetch a wider window instead.
	runs, err := m.store.ListRuns(ctx, store.RunFilter{RobotID: rule.RobotID, Limit: m.params.FailureStreakThreshold * 4})
	if err != nil {
		m.logger.Error("list runs for failure streak failed", zap.Error(err), zap.String("robot_id", rule.RobotID.String()))
		return
	}

	terminal := make([]*store.Run, 0, len(runs))
	for _, r := range runs {
		if r.Status.Terminal() {
			terminal = append(terminal, r)
		}
	}

	if len(terminal) < m.params.FailureStreakThreshold {
		m.resolveIfOpen(ctx, rule.RobotID, enum.AlertFailureStreak)
		return
	}

	allFailed := true
	for _, r := range terminal[:m.params.FailureStreakThreshold] {
		if r.Status != enum.RunFailed {
			allFailed = false
			break
		}
	}

	if allFailed {
		detail := fmt.Sprintf("last %d runs all failed", m.params.FailureStreakThreshold)
		m.openOrKeep(ctx, rule.RobotID, enum.AlertFailureStreak, detail, rule.NotifyChannels)
	} else {
		m.resolveIfOpen(ctx, rule.RobotID, enum.AlertFailureStreak)
	}
}

// checkWorkers implements spec §4.6's WORKER_DOWN rule. Because AlertEvent
// keys its one-open-alert-per-type uniqueness on RobotID alone, a
// WORKER_DOWN alert reuses that field to carry the worker's id rather than
// a robot id — the alert is genuinely per-worker, not per-robot.
func (m *Monitor) checkWorkers(ctx context.Context) {
	workers, err := m.store.ListWorkers(ctx)
	if err != nil {
		m.logger.Error("list workers failed", zap.Error(err))
		return
	}
	now := m.clock.Now()
	for _, w := range workers {
		down := w.Status != enum.WorkerStopped && now.Sub(w.LastHeartbeat) > m.params.WorkerStaleAfter
		if down {
			detail := fmt.Sprintf("worker %s (%s) last heartbeat %s ago", w.ID, w.Hostname, now.Sub(w.LastHeartbeat).Round(time.Second))
			m.openOrKeep(ctx, w.ID, enum.AlertWorkerDown, detail, nil)
		} else {
			m.resolveIfOpen(ctx, w.ID, enum.AlertWorkerDown)
		}
	}
}

// checkQueueBacklog implements spec §4.6's QUEUE_BACKLOG rule, scoped to
// the sentinel robot id (spec §4.6, "emitted globally").
func (m *Monitor) checkQueueBacklog(ctx context.Context) {
	depth, err := m.queue.Depth(ctx)
	if err != nil {
		m.logger.Error("queue depth failed", zap.Error(err))
		return
	}
	if depth >= m.params.QueueBacklogThreshold {
		detail := fmt.Sprintf("queue depth %d >= threshold %d", depth, m.params.QueueBacklogThreshold)
		m.openOrKeep(ctx, store.GlobalAlertRobot, enum.AlertQueueBacklog, detail, nil)
	} else {
		m.resolveIfOpen(ctx, store.GlobalAlertRobot, enum.AlertQueueBacklog)
	}
}

// openOrKeep upserts the one open alert for (robotID, alertType) (spec
// invariant 4): a no-op if an open alert already exists, otherwise creates
// one and, when channels are configured, delivers it.
func (m *Monitor) openOrKeep(ctx context.Context, robotID uuid.UUID, alertType enum.AlertType, message string, notifyChannels map[string]interface{}) {
	if existing, err := m.store.GetOpenAlert(ctx, robotID, string(alertType)); err == nil && existing != nil {
		return
	}

	event := &store.AlertEvent{
		ID:        uuid.New(),
		RobotID:   robotID,
		Type:      alertType,
		Severity:  enum.DefaultSeverity(alertType),
		Message:   message,
		CreatedAt: m.clock.Now(),
	}
	if err := m.store.CreateAlert(ctx, event); err != nil {
		m.logger.Error("create alert failed", zap.Error(err), zap.String("type", string(alertType)))
		return
	}
	m.deliver(ctx, event, notifyChannels)
}

func (m *Monitor) resolveIfOpen(ctx context.Context, robotID uuid.UUID, alertType enum.AlertType) {
	existing, err := m.store.GetOpenAlert(ctx, robotID, string(alertType))
	if err != nil || existing == nil {
		return
	}
	if err := m.store.ResolveAlert(ctx, existing.ID, m.clock.Now()); err != nil {
		m.logger.Error("resolve alert failed", zap.Error(err), zap.String("alert_id", existing.ID.String()))
	}
}

func (m *Monitor) deliver(ctx context.Context, event *store.AlertEvent, notifyChannels map[string]interface{}) {
	if len(m.channels) == 0 {
		return
	}
	recipients := emailRecipients(notifyChannels)
	if len(recipients) == 0 {
		return
	}

	robotName := event.RobotID.String()
	if robot, err := m.store.GetRobot(ctx, event.RobotID); err == nil && robot != nil {
		robotName = robot.Name
	}

	subject, body, htmlBody, err := channel.AlertEmail(robotName, string(event.Type), string(event.Severity), event.Message, event.CreatedAt)
	if err != nil {
		m.logger.Error("render alert email failed", zap.Error(err))
		subject, body, htmlBody = fmt.Sprintf("[%s] %s alert", event.Severity, event.Type), event.Message, ""
	}

	msg := channel.Message{
		Subject:    subject,
		Body:       body,
		HTMLBody:   htmlBody,
		Recipients: recipients,
		Metadata:   map[string]interface{}{"alert_id": event.ID.String(), "robot_id": event.RobotID.String()},
	}
	for _, ch := range m.channels {
		if ch.Type() != channel.ChannelTypeEmail {
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			m.logger.Error("alert delivery failed", zap.Error(err), zap.String("channel", string(ch.Type())))
		}
	}
}

func emailRecipients(notifyChannels map[string]interface{}) []string {
	raw, ok := notifyChannels["email"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}
