//go:build integration

package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"automationhub/internal/store"
	"automationhub/internal/testutil"
)

func TestSqlstorePostgresRoundTrip(t *testing.T) {
	ctx := context.Background()
	pg, err := testutil.StartPostgresContainer(ctx)
	require.NoError(t, err)
	defer pg.Stop(ctx)

	s, err := Open(ctx, pg.DSN)
	require.NoError(t, err)
	defer s.Close()

	robot := &store.Robot{ID: uuid.New(), Name: "invoice-bot", Tags: []string{"finance"}, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, s.CreateRobot(ctx, robot))

	got, err := s.GetRobot(ctx, robot.ID)
	require.NoError(t, err)
	require.Equal(t, robot.Name, got.Name)
	require.Equal(t, []string{"finance"}, got.Tags)

	version := &store.RobotVersion{
		ID: uuid.New(), RobotID: robot.ID, Version: "1.0.0", Channel: "stable",
		ArtifactKind: "zip", EntrypointKind: "script", EntrypointPath: "main.py",
		DefaultArguments: []string{"--once"}, IsActive: true, CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateRobotVersion(ctx, version))

	run := &store.Run{
		ID: uuid.New(), RobotID: robot.ID, RobotVersionID: version.ID, EnvName: "PROD",
		TriggerType: "MANUAL", Attempt: 1, Status: "PENDING", QueuedAt: time.Now(), NotBefore: time.Now(),
	}
	require.NoError(t, s.CreateRun(ctx, run))

	claimable, err := s.ClaimableRuns(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimable, 1)

	require.NoError(t, s.LockRobot(ctx, robot.ID, func() error { return nil }))

	seq, err := s.NextLogSequence(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), seq)
	require.NoError(t, s.AppendRunLog(ctx, &store.RunLog{ID: uuid.New(), RunID: run.ID, Sequence: seq, Timestamp: time.Now(), Level: "INFO", Message: "started"}))

	logs, err := s.LogsSince(ctx, run.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}
