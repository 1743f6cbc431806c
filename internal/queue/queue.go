// Package queue is the FIFO of dispatchable run identifiers described in
// spec §2: at-least-once enqueue with atomic claim-by-worker semantics and
// a visible backlog depth. Queue is a hint, never a source of truth — Store
// rows are authoritative; ClaimNext in runengine re-validates eligibility
// against Store under an advisory lock after a successful Claim (spec §9,
// "At-least-once enqueue + at-most-once dispatch").
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Queue is the dispatchable-run FIFO. Implementations must support a
// not-before timestamp so retry backoff and ineligibility backoff (spec
// §4.1, §4.4) can delay an item's visibility without blocking the queue.
type Queue interface {
	// Enqueue makes runID visible for Claim once notBefore has passed.
	// A zero notBefore means immediately visible.
	Enqueue(ctx context.Context, runID uuid.UUID, notBefore time.Time) error

	// Claim atomically pops the oldest visible run id, or ok=false if the
	// queue has nothing ready right now.
	Claim(ctx context.Context) (runID uuid.UUID, ok bool, err error)

	// Requeue puts runID back at a position governed by notBefore — used
	// both for the tail-requeue-on-ineligibility and for retry backoff.
	Requeue(ctx context.Context, runID uuid.UUID, notBefore time.Time) error

	// Depth reports the current visible+pending backlog size, consumed by
	// SLAMonitor's QUEUE_BACKLOG rule and GET /ops/status.
	Depth(ctx context.Context) (int, error)

	Close() error
}
