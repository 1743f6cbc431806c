package slamonitor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"automationhub/internal/clock"
	"automationhub/internal/enum"
	"automationhub/internal/queue/memqueue"
	"automationhub/internal/store"
	"automationhub/internal/store/memstore"
)

func newTestMonitor(t *testing.T, params Params) (*Monitor, store.Store, *clock.Fake) {
	t.Helper()
	st := memstore.New()
	q := memqueue.New()
	clk := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	return New(st, q, clk, params, nil, time.Minute, zap.NewNop()), st, clk
}

func seedRobot(t *testing.T, st store.Store) *store.Robot {
	t.Helper()
	robot := &store.Robot{ID: uuid.New(), Name: "invoice-bot"}
	require.NoError(t, st.CreateRobot(context.Background(), robot))
	return robot
}

func seedRun(t *testing.T, st store.Store, robotID uuid.UUID, status enum.RunStatus, finishedAt time.Time, queuedAt time.Time) *store.Run {
	t.Helper()
	run := &store.Run{
		ID: uuid.New(), RobotID: robotID, RobotVersionID: uuid.New(), EnvName: enum.EnvProd,
		TriggerType: enum.TriggerManual, Status: status, QueuedAt: queuedAt,
	}
	if status.Terminal() {
		run.FinishedAt = &finishedAt
	}
	require.NoError(t, st.CreateRun(context.Background(), run))
	return run
}

func TestCheckLateOpensAlertWhenOverdue(t *testing.T) {
	m, st, clk := newTestMonitor(t, DefaultParams())
	robot := seedRobot(t, st)

	lastSuccess := clk.Now().Add(-2 * time.Hour)
	seedRun(t, st, robot.ID, enum.RunSuccess, lastSuccess, lastSuccess)

	rule := &store.SLARule{ID: uuid.New(), RobotID: robot.ID, ExpectedEveryMinutes: 60, LateAfterMinutes: 10, AlertOnLate: true}
	require.NoError(t, st.UpsertSLARule(context.Background(), rule))

	m.checkLate(context.Background(), rule)

	alert, err := st.GetOpenAlert(context.Background(), robot.ID, string(enum.AlertLate))
	require.NoError(t, err)
	require.NotNil(t, alert)
	require.Equal(t, enum.SeverityWarn, alert.Severity)
}

func TestCheckLateResolvesAlertWhenRecentSuccessExists(t *testing.T) {
	m, st, clk := newTestMonitor(t, DefaultParams())
	robot := seedRobot(t, st)

	lastSuccess := clk.Now().Add(-5 * time.Minute)
	seedRun(t, st, robot.ID, enum.RunSuccess, lastSuccess, lastSuccess)

	rule := &store.SLARule{ID: uuid.New(), RobotID: robot.ID, ExpectedEveryMinutes: 60, LateAfterMinutes: 10, AlertOnLate: true}
	require.NoError(t, st.UpsertSLARule(context.Background(), rule))

	require.NoError(t, st.CreateAlert(context.Background(), &store.AlertEvent{
		ID: uuid.New(), RobotID: robot.ID, Type: enum.AlertLate, Severity: enum.SeverityWarn, CreatedAt: clk.Now().Add(-time.Hour),
	}))

	m.checkLate(context.Background(), rule)

	alert, err := st.GetOpenAlert(context.Background(), robot.ID, string(enum.AlertLate))
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Nil(t, alert)
}

func TestCheckFailureStreakOpensAlertOnThreeConsecutiveFailures(t *testing.T) {
	m, st, clk := newTestMonitor(t, DefaultParams())
	robot := seedRobot(t, st)

	base := clk.Now().Add(-30 * time.Minute)
	seedRun(t, st, robot.ID, enum.RunFailed, base, base)
	seedRun(t, st, robot.ID, enum.RunFailed, base.Add(10*time.Minute), base.Add(10*time.Minute))
	seedRun(t, st, robot.ID, enum.RunFailed, base.Add(20*time.Minute), base.Add(20*time.Minute))

	rule := &store.SLARule{ID: uuid.New(), RobotID: robot.ID, AlertOnFailure: true}
	require.NoError(t, st.UpsertSLARule(context.Background(), rule))

	m.checkFailureStreak(context.Background(), rule)

	alert, err := st.GetOpenAlert(context.Background(), robot.ID, string(enum.AlertFailureStreak))
	require.NoError(t, err)
	require.NotNil(t, alert)
	require.Equal(t, enum.SeverityCritical, alert.Severity)
}

func TestCheckFailureStreakDoesNotOpenWhenStreakBroken(t *testing.T) {
	m, st, clk := newTestMonitor(t, DefaultParams())
	robot := seedRobot(t, st)

	base := clk.Now().Add(-30 * time.Minute)
	seedRun(t, st, robot.ID, enum.RunFailed, base, base)
	seedRun(t, st, robot.ID, enum.RunSuccess, base.Add(10*time.Minute), base.Add(10*time.Minute))
	seedRun(t, st, robot.ID, enum.RunFailed, base.Add(20*time.Minute), base.Add(20*time.Minute))

	rule := &store.SLARule{ID: uuid.New(), RobotID: robot.ID, AlertOnFailure: true}
	require.NoError(t, st.UpsertSLARule(context.Background(), rule))

	m.checkFailureStreak(context.Background(), rule)

	alert, err := st.GetOpenAlert(context.Background(), robot.ID, string(enum.AlertFailureStreak))
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Nil(t, alert)
}

func TestCheckWorkersOpensWorkerDownAlert(t *testing.T) {
	m, st, clk := newTestMonitor(t, DefaultParams())

	staleWorker := &store.Worker{ID: uuid.New(), Hostname: "host-1", Status: enum.WorkerRunning, LastHeartbeat: clk.Now().Add(-10 * time.Minute)}
	require.NoError(t, st.UpsertWorker(context.Background(), staleWorker))

	freshWorker := &store.Worker{ID: uuid.New(), Hostname: "host-2", Status: enum.WorkerRunning, LastHeartbeat: clk.Now()}
	require.NoError(t, st.UpsertWorker(context.Background(), freshWorker))

	m.checkWorkers(context.Background())

	staleAlert, err := st.GetOpenAlert(context.Background(), staleWorker.ID, string(enum.AlertWorkerDown))
	require.NoError(t, err)
	require.NotNil(t, staleAlert)

	freshAlert, err := st.GetOpenAlert(context.Background(), freshWorker.ID, string(enum.AlertWorkerDown))
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Nil(t, freshAlert)
}

func TestCheckQueueBacklogOpensAlertAtThreshold(t *testing.T) {
	params := DefaultParams()
	params.QueueBacklogThreshold = 2
	m, st, clk := newTestMonitor(t, params)

	for i := 0; i < 2; i++ {
		require.NoError(t, m.queue.Enqueue(context.Background(), uuid.New(), clk.Now()))
	}

	m.checkQueueBacklog(context.Background())

	alert, err := st.GetOpenAlert(context.Background(), store.GlobalAlertRobot, string(enum.AlertQueueBacklog))
	require.NoError(t, err)
	require.NotNil(t, alert)
}
