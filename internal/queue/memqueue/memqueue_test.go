package memqueue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestFIFOOrder(t *testing.T) {
	ctx := context.Background()
	q := New()

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, q.Enqueue(ctx, a, time.Time{}))
	require.NoError(t, q.Enqueue(ctx, b, time.Time{}))
	require.NoError(t, q.Enqueue(ctx, c, time.Time{}))

	for _, want := range []uuid.UUID{a, b, c} {
		got, ok, err := q.Claim(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, got)
	}

	_, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNotBeforeDelaysVisibility(t *testing.T) {
	ctx := context.Background()
	q := New()

	runID := uuid.New()
	require.NoError(t, q.Enqueue(ctx, runID, time.Now().Add(time.Hour)))

	_, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.False(t, ok, "run with future not-before must not be claimable yet")

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, depth)
}

func TestRequeueMakesItemClaimableAgain(t *testing.T) {
	ctx := context.Background()
	q := New()
	runID := uuid.New()

	require.NoError(t, q.Enqueue(ctx, runID, time.Time{}))
	got, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, runID, got)

	require.NoError(t, q.Requeue(ctx, runID, time.Time{}))
	got2, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, runID, got2)
}
