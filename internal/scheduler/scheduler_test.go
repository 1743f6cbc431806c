package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"automationhub/internal/clock"
	"automationhub/internal/enum"
	"automationhub/internal/logbus"
	"automationhub/internal/pubsub"
	"automationhub/internal/queue/memqueue"
	"automationhub/internal/runengine"
	"automationhub/internal/store"
	"automationhub/internal/store/memstore"
)

func newTestScheduler(t *testing.T) (*Scheduler, store.Store, *clock.Fake) {
	t.Helper()
	st := memstore.New()
	q := memqueue.New()
	bus := logbus.New(st, pubsub.NewMemoryPubSub())
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	engine := runengine.New(st, q, bus, clk, runengine.DefaultParams())
	return New(st, engine, clk, time.Minute, zap.NewNop()), st, clk
}

func seedRobotWithSchedule(t *testing.T, st store.Store, cronExpr string) (*store.Robot, *store.Schedule) {
	t.Helper()
	ctx := context.Background()
	robot := &store.Robot{ID: uuid.New(), Name: "nightly-bot"}
	require.NoError(t, st.CreateRobot(ctx, robot))
	version := &store.RobotVersion{
		ID: uuid.New(), RobotID: robot.ID, Version: "1.0.0", Channel: enum.ChannelStable,
		ArtifactKind: enum.ArtifactKindZip, EntrypointKind: enum.EntrypointKindScript, IsActive: true,
	}
	require.NoError(t, st.CreateRobotVersion(ctx, version))
	require.NoError(t, st.SetActiveRobotVersion(ctx, robot.ID, string(enum.ChannelStable), version.ID))

	sched := &store.Schedule{
		ID: uuid.New(), RobotID: robot.ID, Enabled: true, CronExpr: cronExpr,
		Timezone: "UTC", MaxConcurrency: 1,
	}
	require.NoError(t, st.UpsertSchedule(ctx, sched))
	return robot, sched
}

func TestTickOneCreatesScheduledRunForEachFire(t *testing.T) {
	s, st, clk := newTestScheduler(t)
	_, sched := seedRobotWithSchedule(t, st, "*/1 * * * *") // every minute

	sched.LastTickAt = clk.Now().Add(-3 * time.Minute)
	// All three runs stay PENDING; with the fixture's MaxConcurrency of 1
	// the first one would saturate the robot and the other fires be skipped.
	sched.MaxConcurrency = 3
	require.NoError(t, st.UpsertSchedule(context.Background(), sched))

	s.tickOne(context.Background(), sched)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{RobotID: sched.RobotID})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		require.Equal(t, enum.TriggerScheduled, r.TriggerType)
		require.NotNil(t, r.ScheduleID)
		require.Equal(t, sched.ID, *r.ScheduleID)
	}
}

func TestTickOneIsIdempotentAcrossRepeatedTicksForSameFire(t *testing.T) {
	s, st, clk := newTestScheduler(t)
	_, sched := seedRobotWithSchedule(t, st, "*/1 * * * *")
	sched.LastTickAt = clk.Now().Add(-1 * time.Minute)
	require.NoError(t, st.UpsertSchedule(context.Background(), sched))

	s.tickOne(context.Background(), sched)
	fresh, err := st.GetSchedule(context.Background(), sched.RobotID)
	require.NoError(t, err)

	// A second tick starting from the same unfired window (as if the first
	// TouchScheduleTick had never happened, e.g. a crash-recovery replay)
	// must not create a duplicate run for the same fire time.
	fresh.LastTickAt = sched.LastTickAt
	s.tickOne(context.Background(), fresh)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{RobotID: sched.RobotID})
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestTickOneSkipsFireOutsideWindow(t *testing.T) {
	s, st, clk := newTestScheduler(t)
	_, sched := seedRobotWithSchedule(t, st, "*/1 * * * *")
	sched.WindowStart = "10:00"
	sched.WindowEnd = "12:00"
	sched.LastTickAt = clk.Now().Add(-1 * time.Minute) // 09:00 fire is outside [10:00,12:00]
	require.NoError(t, st.UpsertSchedule(context.Background(), sched))

	s.tickOne(context.Background(), sched)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{RobotID: sched.RobotID})
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestTickOneSkipsFireWhenConcurrencySaturated(t *testing.T) {
	s, st, clk := newTestScheduler(t)
	robot, sched := seedRobotWithSchedule(t, st, "*/1 * * * *")
	sched.LastTickAt = clk.Now().Add(-1 * time.Minute)
	require.NoError(t, st.UpsertSchedule(context.Background(), sched))

	existing := &store.Run{
		ID: uuid.New(), RobotID: robot.ID, RobotVersionID: uuid.New(), EnvName: enum.EnvProd,
		TriggerType: enum.TriggerScheduled, Status: enum.RunPending, QueuedAt: clk.Now(),
	}
	require.NoError(t, st.CreateRun(context.Background(), existing))

	s.tickOne(context.Background(), sched)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{RobotID: sched.RobotID})
	require.NoError(t, err)
	require.Len(t, runs, 1, "no new run should be created while one is already pending at max_concurrency=1")
}

func TestTickOneAdvancesLastTickAt(t *testing.T) {
	s, st, clk := newTestScheduler(t)
	_, sched := seedRobotWithSchedule(t, st, "*/1 * * * *")
	sched.LastTickAt = clk.Now().Add(-1 * time.Minute)
	require.NoError(t, st.UpsertSchedule(context.Background(), sched))

	s.tickOne(context.Background(), sched)

	fresh, err := st.GetSchedule(context.Background(), sched.RobotID)
	require.NoError(t, err)
	require.WithinDuration(t, clk.Now(), fresh.LastTickAt, time.Second)
}
