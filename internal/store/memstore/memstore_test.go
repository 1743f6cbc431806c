package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"automationhub/internal/store"
)

func TestRobotCRUD(t *testing.T) {
	s := New()
	ctx := context.Background()

	r := &store.Robot{ID: uuid.New(), Name: "invoice-bot"}
	require.NoError(t, s.CreateRobot(ctx, r))
	require.ErrorIs(t, s.CreateRobot(ctx, r), store.ErrConflict)

	got, err := s.GetRobot(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, "invoice-bot", got.Name)

	got.Name = "invoice-bot-v2"
	require.NoError(t, s.UpdateRobot(ctx, got))

	byName, err := s.GetRobotByName(ctx, "invoice-bot-v2")
	require.NoError(t, err)
	require.Equal(t, r.ID, byName.ID)

	require.NoError(t, s.DeleteRobot(ctx, r.ID))
	_, err = s.GetRobot(ctx, r.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestClaimableRunsOrderingAndNotBefore(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	old := &store.Run{ID: uuid.New(), Status: "PENDING", QueuedAt: now.Add(-time.Minute)}
	newer := &store.Run{ID: uuid.New(), Status: "PENDING", QueuedAt: now}
	notYet := &store.Run{ID: uuid.New(), Status: "PENDING", QueuedAt: now.Add(-time.Hour), NotBefore: now.Add(time.Minute)}
	running := &store.Run{ID: uuid.New(), Status: "RUNNING", QueuedAt: now.Add(-2 * time.Minute)}

	for _, r := range []*store.Run{old, newer, notYet, running} {
		require.NoError(t, s.CreateRun(ctx, r))
	}

	claimable, err := s.ClaimableRuns(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimable, 2)
	require.Equal(t, old.ID, claimable[0].ID)
	require.Equal(t, newer.ID, claimable[1].ID)
}

func TestDuplicateScheduleFireRejected(t *testing.T) {
	s := New()
	ctx := context.Background()
	scheduleID := uuid.New()
	fireTime := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	r1 := &store.Run{ID: uuid.New(), Status: "PENDING", ScheduleID: &scheduleID, FireTime: &fireTime}
	require.NoError(t, s.CreateRun(ctx, r1))

	r2 := &store.Run{ID: uuid.New(), Status: "PENDING", ScheduleID: &scheduleID, FireTime: &fireTime}
	require.ErrorIs(t, s.CreateRun(ctx, r2), store.ErrDuplicateSchedule)

	found, err := s.FindByScheduleFire(ctx, scheduleID, fireTime)
	require.NoError(t, err)
	require.Equal(t, r1.ID, found.ID)
}

func TestLogsSinceDedup(t *testing.T) {
	s := New()
	ctx := context.Background()
	runID := uuid.New()

	for i := int64(1); i <= 3; i++ {
		seq, err := s.NextLogSequence(ctx, runID)
		require.NoError(t, err)
		require.Equal(t, i, seq)
		require.NoError(t, s.AppendRunLog(ctx, &store.RunLog{ID: uuid.New(), RunID: runID, Sequence: seq, Message: "line"}))
	}

	logs, err := s.LogsSince(ctx, runID, 1, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, int64(2), logs[0].Sequence)
	require.Equal(t, int64(3), logs[1].Sequence)
}

func TestLockRobotSerializesConcurrentCallers(t *testing.T) {
	s := New()
	ctx := context.Background()
	robotID := uuid.New()

	var mu sync.Mutex
	counter := 0
	order := make([]int, 0, 10)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.LockRobot(ctx, robotID, func() error {
				mu.Lock()
				counter++
				order = append(order, counter)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	require.Equal(t, 10, counter)
	for i, v := range order {
		require.Equal(t, i+1, v)
	}
}

func TestSetActiveRobotVersionExclusivePerChannel(t *testing.T) {
	s := New()
	ctx := context.Background()
	robotID := uuid.New()

	v1 := &store.RobotVersion{ID: uuid.New(), RobotID: robotID, Channel: "stable", IsActive: true}
	v2 := &store.RobotVersion{ID: uuid.New(), RobotID: robotID, Channel: "stable"}
	require.NoError(t, s.CreateRobotVersion(ctx, v1))
	require.NoError(t, s.CreateRobotVersion(ctx, v2))

	require.NoError(t, s.SetActiveRobotVersion(ctx, robotID, "stable", v2.ID))

	got1, err := s.GetRobotVersion(ctx, v1.ID)
	require.NoError(t, err)
	require.False(t, got1.IsActive)

	active, err := s.GetActiveRobotVersion(ctx, robotID, "stable")
	require.NoError(t, err)
	require.Equal(t, v2.ID, active.ID)
}

func TestDeleteRunsOlderThan(t *testing.T) {
	s := New()
	ctx := context.Background()
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	oldFinished := cutoff.Add(-time.Hour)
	recentFinished := cutoff.Add(time.Hour)

	old := &store.Run{ID: uuid.New(), Status: "SUCCESS", FinishedAt: &oldFinished}
	recent := &store.Run{ID: uuid.New(), Status: "SUCCESS", FinishedAt: &recentFinished}
	require.NoError(t, s.CreateRun(ctx, old))
	require.NoError(t, s.CreateRun(ctx, recent))

	n, err := s.DeleteRunsOlderThan(ctx, cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = s.GetRun(ctx, old.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetRun(ctx, recent.ID)
	require.NoError(t, err)
}
