package logbus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"automationhub/internal/enum"
	"automationhub/internal/pubsub"
	"automationhub/internal/store"
	"automationhub/internal/store/memstore"
)

func TestPublishAssignsSequenceAndPersists(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	bus := New(st, pubsub.NewMemoryPubSub())
	runID := uuid.New()

	require.NoError(t, bus.Publish(ctx, runID, &store.RunLog{Level: enum.LogInfo, Message: "enqueued"}))
	require.NoError(t, bus.Publish(ctx, runID, &store.RunLog{Level: enum.LogInfo, Message: "started"}))

	logs, err := st.LogsSince(ctx, runID, 0, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, int64(1), logs[0].Sequence)
	require.Equal(t, int64(2), logs[1].Sequence)
}

func TestStreamCatchesUpThenGoesLive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := memstore.New()
	bus := New(st, pubsub.NewMemoryPubSub())
	runID := uuid.New()

	require.NoError(t, bus.Publish(ctx, runID, &store.RunLog{Level: enum.LogInfo, Message: "enqueued"}))

	lines, err := bus.Stream(ctx, runID, 0)
	require.NoError(t, err)

	first := <-lines
	require.Equal(t, "enqueued", first.Message)
	require.Equal(t, int64(1), first.Sequence)

	require.NoError(t, bus.Publish(ctx, runID, &store.RunLog{Level: enum.LogInfo, Message: "live line"}))

	select {
	case second := <-lines:
		require.Equal(t, "live line", second.Message)
		require.Equal(t, int64(2), second.Sequence)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live line")
	}
}

func TestStreamSkipsAlreadySeenSequences(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := memstore.New()
	bus := New(st, pubsub.NewMemoryPubSub())
	runID := uuid.New()

	require.NoError(t, bus.Publish(ctx, runID, &store.RunLog{Level: enum.LogInfo, Message: "line1"}))
	require.NoError(t, bus.Publish(ctx, runID, &store.RunLog{Level: enum.LogInfo, Message: "line2"}))

	lines, err := bus.Stream(ctx, runID, 1)
	require.NoError(t, err)

	first := <-lines
	require.Equal(t, "line2", first.Message)
	require.Equal(t, int64(2), first.Sequence)
}
