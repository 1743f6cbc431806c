package runengine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"automationhub/internal/clock"
	"automationhub/internal/enum"
	"automationhub/internal/logbus"
	"automationhub/internal/pubsub"
	"automationhub/internal/queue/memqueue"
	"automationhub/internal/store"
	"automationhub/internal/store/memstore"
)

func newTestEngine(t *testing.T) (*Engine, store.Store, *clock.Fake) {
	t.Helper()
	st := memstore.New()
	q := memqueue.New()
	bus := logbus.New(st, pubsub.NewMemoryPubSub())
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	return New(st, q, bus, clk, DefaultParams()), st, clk
}

func seedRobotAndVersion(t *testing.T, st store.Store) (*store.Robot, *store.RobotVersion) {
	t.Helper()
	ctx := context.Background()
	robot := &store.Robot{ID: uuid.New(), Name: "invoice-bot"}
	require.NoError(t, st.CreateRobot(ctx, robot))
	version := &store.RobotVersion{
		ID: uuid.New(), RobotID: robot.ID, Version: "1.0.0", Channel: enum.ChannelStable,
		ArtifactKind: enum.ArtifactKindZip, EntrypointKind: enum.EntrypointKindScript, IsActive: true,
	}
	require.NoError(t, st.CreateRobotVersion(ctx, version))
	require.NoError(t, st.SetActiveRobotVersion(ctx, robot.ID, string(enum.ChannelStable), version.ID))
	return robot, version
}

func TestCreateRunResolvesActiveVersion(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newTestEngine(t)
	robot, version := seedRobotAndVersion(t, st)

	run, err := eng.CreateRun(ctx, ExecuteRequest{
		RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerManual, TriggeredBy: "alice",
	})
	require.NoError(t, err)
	require.Equal(t, version.ID, run.RobotVersionID)
	require.Equal(t, enum.RunPending, run.Status)

	logs, err := st.LogsSince(ctx, run.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "enqueued", logs[0].Message)
}

func TestCreateRunRejectsConflictingVersionRefs(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newTestEngine(t)
	robot, version := seedRobotAndVersion(t, st)
	other := uuid.New()

	_, err := eng.CreateRun(ctx, ExecuteRequest{
		RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerManual,
		VersionID: &version.ID, RobotVersionID: &other,
	})
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, KindValidation, rerr.Kind)
}

func TestCreateRunRejectsInvalidEnv(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newTestEngine(t)
	robot, _ := seedRobotAndVersion(t, st)

	_, err := eng.CreateRun(ctx, ExecuteRequest{RobotID: robot.ID, EnvName: "BOGUS", TriggerType: enum.TriggerManual})
	require.Error(t, err)
}

func TestCreateRunNoActiveVersion(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newTestEngine(t)
	robot := &store.Robot{ID: uuid.New(), Name: "no-version-bot"}
	require.NoError(t, st.CreateRobot(ctx, robot))

	_, err := eng.CreateRun(ctx, ExecuteRequest{RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerManual})
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, KindFatal, rerr.Kind)
}

func TestClaimNextTransitionsToRunningWhenEligible(t *testing.T) {
	ctx := context.Background()
	eng, st, clk := newTestEngine(t)
	robot, _ := seedRobotAndVersion(t, st)
	worker := &store.Worker{ID: uuid.New(), Status: enum.WorkerRunning, LastHeartbeat: clk.Now()}
	require.NoError(t, st.UpsertWorker(ctx, worker))

	run, err := eng.CreateRun(ctx, ExecuteRequest{RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerManual})
	require.NoError(t, err)

	claimed, err := eng.ClaimNext(ctx, worker.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, run.ID, claimed.ID)
	require.Equal(t, enum.RunRunning, claimed.Status)
	require.Equal(t, worker.ID, *claimed.ClaimWorkerID)
}

func TestClaimNextReturnsNilWhenQueueEmpty(t *testing.T) {
	ctx := context.Background()
	eng, st, clk := newTestEngine(t)
	worker := &store.Worker{ID: uuid.New(), Status: enum.WorkerRunning, LastHeartbeat: clk.Now()}
	require.NoError(t, st.UpsertWorker(ctx, worker))

	claimed, err := eng.ClaimNext(ctx, worker.ID)
	require.NoError(t, err)
	require.Nil(t, claimed)
}

func TestClaimNextRequeuesIneligibleRunAndLeavesItPending(t *testing.T) {
	ctx := context.Background()
	eng, st, clk := newTestEngine(t)
	robot, _ := seedRobotAndVersion(t, st)
	// worker paused: never eligible
	worker := &store.Worker{ID: uuid.New(), Status: enum.WorkerPaused, LastHeartbeat: clk.Now()}
	require.NoError(t, st.UpsertWorker(ctx, worker))

	run, err := eng.CreateRun(ctx, ExecuteRequest{RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerManual})
	require.NoError(t, err)

	claimed, err := eng.ClaimNext(ctx, worker.ID)
	require.NoError(t, err)
	require.Nil(t, claimed)

	fresh, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, enum.RunPending, fresh.Status)
}

func TestReportStartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	eng, st, clk := newTestEngine(t)
	robot, _ := seedRobotAndVersion(t, st)
	worker := &store.Worker{ID: uuid.New(), Status: enum.WorkerRunning, LastHeartbeat: clk.Now()}
	require.NoError(t, st.UpsertWorker(ctx, worker))
	run, err := eng.CreateRun(ctx, ExecuteRequest{RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerManual})
	require.NoError(t, err)
	_, err = eng.ClaimNext(ctx, worker.ID)
	require.NoError(t, err)

	require.NoError(t, eng.ReportStart(ctx, run.ID, "host-1", 4242))
	require.NoError(t, eng.ReportStart(ctx, run.ID, "host-1", 4242))

	fresh, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, "host-1", fresh.HostName)
	require.Equal(t, 4242, fresh.ProcessID)
}

func TestReportStartRejectsNonRunning(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newTestEngine(t)
	robot, _ := seedRobotAndVersion(t, st)
	run, err := eng.CreateRun(ctx, ExecuteRequest{RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerManual})
	require.NoError(t, err)

	err = eng.ReportStart(ctx, run.ID, "host-1", 1)
	require.Error(t, err)
}

func TestAppendLogTagsPostTerminal(t *testing.T) {
	ctx := context.Background()
	eng, st, clk := newTestEngine(t)
	robot, _ := seedRobotAndVersion(t, st)
	worker := &store.Worker{ID: uuid.New(), Status: enum.WorkerRunning, LastHeartbeat: clk.Now()}
	require.NoError(t, st.UpsertWorker(ctx, worker))
	run, err := eng.CreateRun(ctx, ExecuteRequest{RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerManual})
	require.NoError(t, err)
	_, err = eng.ClaimNext(ctx, worker.ID)
	require.NoError(t, err)
	require.NoError(t, eng.ReportStart(ctx, run.ID, "host-1", 1))
	require.NoError(t, eng.ReportFinish(ctx, run.ID, OutcomeSuccess, "", nil))

	require.NoError(t, eng.AppendLog(ctx, run.ID, enum.LogInfo, "late line"))

	logs, err := st.LogsSince(ctx, run.ID, 0, 0)
	require.NoError(t, err)
	last := logs[len(logs)-1]
	require.Equal(t, "late line", last.Message)
	require.True(t, last.PostTerminal)
}

func TestReportFinishSuccessSetsDurationAndStatus(t *testing.T) {
	ctx := context.Background()
	eng, st, clk := newTestEngine(t)
	robot, _ := seedRobotAndVersion(t, st)
	worker := &store.Worker{ID: uuid.New(), Status: enum.WorkerRunning, LastHeartbeat: clk.Now()}
	require.NoError(t, st.UpsertWorker(ctx, worker))
	run, err := eng.CreateRun(ctx, ExecuteRequest{RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerManual})
	require.NoError(t, err)
	_, err = eng.ClaimNext(ctx, worker.ID)
	require.NoError(t, err)
	require.NoError(t, eng.ReportStart(ctx, run.ID, "host-1", 1))

	clk.Advance(5 * time.Second)
	require.NoError(t, eng.ReportFinish(ctx, run.ID, OutcomeSuccess, "", nil))

	fresh, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, enum.RunSuccess, fresh.Status)
	require.NotNil(t, fresh.FinishedAt)
	require.NotNil(t, fresh.DurationSeconds)
	require.InDelta(t, 5.0, *fresh.DurationSeconds, 0.01)
}

func TestReportFinishFailureCreatesRetryWhenScheduleAllows(t *testing.T) {
	ctx := context.Background()
	eng, st, clk := newTestEngine(t)
	robot, _ := seedRobotAndVersion(t, st)
	require.NoError(t, st.UpsertSchedule(ctx, &store.Schedule{
		ID: uuid.New(), RobotID: robot.ID, Enabled: true, CronExpr: "*/5 * * * *",
		MaxConcurrency: 1, RetryCount: 2, RetryBackoffSeconds: 60,
	}))
	worker := &store.Worker{ID: uuid.New(), Status: enum.WorkerRunning, LastHeartbeat: clk.Now()}
	require.NoError(t, st.UpsertWorker(ctx, worker))

	scheduleID := uuid.New()
	run, err := eng.CreateRun(ctx, ExecuteRequest{
		RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerScheduled,
		ScheduleID: &scheduleID,
	})
	require.NoError(t, err)
	_, err = eng.ClaimNext(ctx, worker.ID)
	require.NoError(t, err)
	require.NoError(t, eng.ReportStart(ctx, run.ID, "host-1", 1))

	require.NoError(t, eng.ReportFinish(ctx, run.ID, OutcomeFailed, "boom", nil))

	all, err := st.ListRuns(ctx, store.RunFilter{RobotID: robot.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)

	var retryRun *store.Run
	for _, r := range all {
		if r.TriggerType == enum.TriggerRetry {
			retryRun = r
		}
	}
	require.NotNil(t, retryRun)
	require.Equal(t, 2, retryRun.Attempt)
}

func TestReportFinishManualFailureDoesNotRetry(t *testing.T) {
	ctx := context.Background()
	eng, st, clk := newTestEngine(t)
	robot, _ := seedRobotAndVersion(t, st)
	require.NoError(t, st.UpsertSchedule(ctx, &store.Schedule{
		ID: uuid.New(), RobotID: robot.ID, Enabled: true, MaxConcurrency: 1, RetryCount: 2, RetryBackoffSeconds: 60,
	}))
	worker := &store.Worker{ID: uuid.New(), Status: enum.WorkerRunning, LastHeartbeat: clk.Now()}
	require.NoError(t, st.UpsertWorker(ctx, worker))

	run, err := eng.CreateRun(ctx, ExecuteRequest{RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerManual})
	require.NoError(t, err)
	_, err = eng.ClaimNext(ctx, worker.ID)
	require.NoError(t, err)
	require.NoError(t, eng.ReportStart(ctx, run.ID, "host-1", 1))
	require.NoError(t, eng.ReportFinish(ctx, run.ID, OutcomeFailed, "boom", nil))

	all, err := st.ListRuns(ctx, store.RunFilter{RobotID: robot.ID})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestRequestCancelPendingRunTerminatesImmediately(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newTestEngine(t)
	robot, _ := seedRobotAndVersion(t, st)
	run, err := eng.CreateRun(ctx, ExecuteRequest{RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerManual})
	require.NoError(t, err)

	require.NoError(t, eng.RequestCancel(ctx, run.ID, "bob"))

	fresh, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, enum.RunCanceled, fresh.Status)
	require.Equal(t, "bob", fresh.CanceledBy)
}

func TestRequestCancelRunningRunOnlyFlags(t *testing.T) {
	ctx := context.Background()
	eng, st, clk := newTestEngine(t)
	robot, _ := seedRobotAndVersion(t, st)
	worker := &store.Worker{ID: uuid.New(), Status: enum.WorkerRunning, LastHeartbeat: clk.Now()}
	require.NoError(t, st.UpsertWorker(ctx, worker))
	run, err := eng.CreateRun(ctx, ExecuteRequest{RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerManual})
	require.NoError(t, err)
	_, err = eng.ClaimNext(ctx, worker.ID)
	require.NoError(t, err)

	require.NoError(t, eng.RequestCancel(ctx, run.ID, "bob"))

	fresh, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, enum.RunRunning, fresh.Status)
	require.True(t, fresh.CancelRequested)
	require.NotNil(t, fresh.CancelRequestedAt)
}

func TestRequestCancelOnTerminalRunIsNoop(t *testing.T) {
	ctx := context.Background()
	eng, st, clk := newTestEngine(t)
	robot, _ := seedRobotAndVersion(t, st)
	worker := &store.Worker{ID: uuid.New(), Status: enum.WorkerRunning, LastHeartbeat: clk.Now()}
	require.NoError(t, st.UpsertWorker(ctx, worker))
	run, err := eng.CreateRun(ctx, ExecuteRequest{RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerManual})
	require.NoError(t, err)
	_, err = eng.ClaimNext(ctx, worker.ID)
	require.NoError(t, err)
	require.NoError(t, eng.ReportStart(ctx, run.ID, "host-1", 1))
	require.NoError(t, eng.ReportFinish(ctx, run.ID, OutcomeSuccess, "", nil))

	require.NoError(t, eng.RequestCancel(ctx, run.ID, "bob"))

	fresh, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, enum.RunSuccess, fresh.Status)
	require.Empty(t, fresh.CanceledBy)
}
