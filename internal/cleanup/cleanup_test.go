package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"automationhub/internal/clock"
	"automationhub/internal/enum"
	"automationhub/internal/store"
	"automationhub/internal/store/memstore"
)

func newTestCleanup(t *testing.T, params Params) (*Cleanup, store.Store, *clock.Fake) {
	t.Helper()
	st := memstore.New()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(st, clk, params, time.Minute, zap.NewNop()), st, clk
}

func seedTerminalRun(t *testing.T, st store.Store, finishedAt time.Time) *store.Run {
	t.Helper()
	ctx := context.Background()
	robot := &store.Robot{ID: uuid.New(), Name: "robot-" + uuid.NewString()}
	require.NoError(t, st.CreateRobot(ctx, robot))
	run := &store.Run{
		ID: uuid.New(), RobotID: robot.ID, RobotVersionID: uuid.New(), EnvName: enum.EnvProd,
		TriggerType: enum.TriggerManual, Status: enum.RunSuccess,
		QueuedAt: finishedAt, FinishedAt: &finishedAt,
	}
	require.NoError(t, st.CreateRun(ctx, run))

	require.NoError(t, st.AppendRunLog(ctx, &store.RunLog{
		ID: uuid.New(), RunID: run.ID, Sequence: 1, Level: enum.LogInfo, Message: "done", Timestamp: finishedAt,
	}))
	require.NoError(t, st.CreateArtifact(ctx, &store.Artifact{
		ID: uuid.New(), RunID: run.ID, Name: "output.txt", Path: "sha256/deadbeef", SizeBytes: 4,
	}))
	return run
}

func TestSweepDeletesRunsOlderThanRunRetention(t *testing.T) {
	c, st, clk := newTestCleanup(t, Params{
		RunRetention: 24 * time.Hour, LogRetention: 24 * time.Hour, ArtifactRetention: 24 * time.Hour,
	})

	old := seedTerminalRun(t, st, clk.Now().Add(-48*time.Hour))
	recent := seedTerminalRun(t, st, clk.Now().Add(-time.Hour))

	require.NoError(t, c.Sweep(context.Background()))

	_, err := st.GetRun(context.Background(), old.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err := st.GetRun(context.Background(), recent.ID)
	require.NoError(t, err)
	require.Equal(t, recent.ID, got.ID)
}

func TestSweepPrunesLogsAndArtifactsIndependentlyOfRunRetention(t *testing.T) {
	// Run retention is generous so the run row itself survives, but its
	// logs and artifacts are old enough to fall under the shorter windows.
	c, st, clk := newTestCleanup(t, Params{
		RunRetention: 30 * 24 * time.Hour, LogRetention: time.Hour, ArtifactRetention: time.Hour,
	})

	run := seedTerminalRun(t, st, clk.Now().Add(-2*time.Hour))

	require.NoError(t, c.Sweep(context.Background()))

	got, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, run.ID, got.ID)

	logs, err := st.LogsSince(context.Background(), run.ID, 0, 100)
	require.NoError(t, err)
	require.Empty(t, logs)

	artifacts, err := st.ListArtifacts(context.Background(), run.ID)
	require.NoError(t, err)
	require.Empty(t, artifacts)
}

func TestSweepLeavesRecentLogsAndArtifactsAlone(t *testing.T) {
	c, st, clk := newTestCleanup(t, DefaultParams())

	run := seedTerminalRun(t, st, clk.Now().Add(-time.Minute))

	require.NoError(t, c.Sweep(context.Background()))

	logs, err := st.LogsSince(context.Background(), run.ID, 0, 100)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	artifacts, err := st.ListArtifacts(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
}

func TestSweepIsNoopWhenNothingExceedsRetention(t *testing.T) {
	c, st, clk := newTestCleanup(t, DefaultParams())
	run := seedTerminalRun(t, st, clk.Now())

	require.NoError(t, c.Sweep(context.Background()))

	got, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, run.ID, got.ID)
}
