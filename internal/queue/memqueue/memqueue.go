// Package memqueue is an in-memory Queue for tests and single-process
// deployments, adapted from the teacher's internal/pubsub.MemoryPubSub
// map-plus-mutex shape (same concurrency model, different data structure:
// an ordered slice instead of fanout channels).
package memqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"automationhub/internal/queue"
)

type item struct {
	runID     uuid.UUID
	notBefore time.Time
}

// Queue is a mutex-guarded FIFO. Safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []item
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

var _ queue.Queue = (*Queue)(nil)

func (q *Queue) Enqueue(ctx context.Context, runID uuid.UUID, notBefore time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item{runID: runID, notBefore: notBefore})
	return nil
}

func (q *Queue) Claim(ctx context.Context) (uuid.UUID, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for i, it := range q.items {
		if it.notBefore.IsZero() || !it.notBefore.After(now) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return it.runID, true, nil
		}
	}
	return uuid.Nil, false, nil
}

func (q *Queue) Requeue(ctx context.Context, runID uuid.UUID, notBefore time.Time) error {
	return q.Enqueue(ctx, runID, notBefore)
}

func (q *Queue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

func (q *Queue) Close() error { return nil }
