package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"automationhub/internal/clock"
	"automationhub/internal/enum"
	"automationhub/internal/store"
	"automationhub/internal/store/memstore"
)

func TestEligibleRejectsPausedWorker(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	clk := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	run := &store.Run{ID: uuid.New(), RobotID: uuid.New(), TriggerType: enum.TriggerManual}
	worker := &store.Worker{ID: uuid.New(), Status: enum.WorkerPaused, LastHeartbeat: clk.Now()}

	ok, reason, err := Eligible(ctx, st, clk, DefaultParams(), run, worker)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, ReasonWorkerNotRunning, reason)
}

func TestEligibleRejectsStaleHeartbeat(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	clk := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	run := &store.Run{ID: uuid.New(), RobotID: uuid.New(), TriggerType: enum.TriggerManual}
	worker := &store.Worker{ID: uuid.New(), Status: enum.WorkerRunning, LastHeartbeat: clk.Now().Add(-10 * time.Minute)}

	ok, reason, err := Eligible(ctx, st, clk, DefaultParams(), run, worker)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, ReasonWorkerStale, reason)
}

func TestEligibleRejectsConcurrencyLimit(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	clk := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	robotID := uuid.New()

	require.NoError(t, st.UpsertSchedule(ctx, &store.Schedule{ID: uuid.New(), RobotID: robotID, MaxConcurrency: 1}))
	require.NoError(t, st.CreateRun(ctx, &store.Run{ID: uuid.New(), RobotID: robotID, Status: enum.RunRunning}))

	run := &store.Run{ID: uuid.New(), RobotID: robotID, TriggerType: enum.TriggerManual}
	worker := &store.Worker{ID: uuid.New(), Status: enum.WorkerRunning, LastHeartbeat: clk.Now()}

	ok, reason, err := Eligible(ctx, st, clk, DefaultParams(), run, worker)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, ReasonConcurrencyLimit, reason)
}

func TestEligibleScheduledRunOutsideWindow(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	clk := clock.NewFake(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)) // 03:00
	robotID := uuid.New()

	require.NoError(t, st.UpsertSchedule(ctx, &store.Schedule{
		ID: uuid.New(), RobotID: robotID, MaxConcurrency: 1, Timezone: "UTC",
		WindowStart: "09:00", WindowEnd: "17:00",
	}))

	run := &store.Run{ID: uuid.New(), RobotID: robotID, TriggerType: enum.TriggerScheduled}
	worker := &store.Worker{ID: uuid.New(), Status: enum.WorkerRunning, LastHeartbeat: clk.Now()}

	ok, reason, err := Eligible(ctx, st, clk, DefaultParams(), run, worker)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, ReasonOutsideWindow, reason)
}

func TestEligibleManualRunBypassesWindow(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	clk := clock.NewFake(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC))
	robotID := uuid.New()

	require.NoError(t, st.UpsertSchedule(ctx, &store.Schedule{
		ID: uuid.New(), RobotID: robotID, MaxConcurrency: 1, Timezone: "UTC",
		WindowStart: "09:00", WindowEnd: "17:00",
	}))

	run := &store.Run{ID: uuid.New(), RobotID: robotID, TriggerType: enum.TriggerManual}
	worker := &store.Worker{ID: uuid.New(), Status: enum.WorkerRunning, LastHeartbeat: clk.Now()}

	ok, _, err := Eligible(ctx, st, clk, DefaultParams(), run, worker)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEligibleAllChecksPass(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	clk := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	robotID := uuid.New()

	run := &store.Run{ID: uuid.New(), RobotID: robotID, TriggerType: enum.TriggerManual}
	worker := &store.Worker{ID: uuid.New(), Status: enum.WorkerRunning, LastHeartbeat: clk.Now()}

	ok, reason, err := Eligible(ctx, st, clk, DefaultParams(), run, worker)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ReasonNone, reason)
}
