//go:build integration

package redisqueue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"automationhub/internal/testutil"
)

func TestRedisQueueClaimIsAtomic(t *testing.T) {
	ctx := context.Background()
	rc, err := testutil.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer rc.Stop(ctx)

	client := redis.NewClient(&redis.Options{Addr: rc.Addr})
	defer client.Close()

	q := New(client, "automationhub:test:queue")
	runID := uuid.New()
	require.NoError(t, q.Enqueue(ctx, runID, time.Time{}))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, depth)

	got, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, runID, got)

	_, ok, err = q.Claim(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}
