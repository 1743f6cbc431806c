// Package redisqueue is the multi-process Queue backend, built on
// github.com/redis/go-redis/v9 the same way the teacher's
// internal/pubsub.RedisPubSub wraps *redis.Client — a thin, context-first
// client wrapper, but backed by a sorted set instead of a pub/sub channel
// since a queue needs pop-and-remove instead of fanout.
//
// Claim is a single Lua script (EVAL) so "find the earliest ready member
// and remove it" is atomic even with many dispatchers/workers racing the
// same Redis instance (spec §9, "ClaimNext is the single atomic gate").
package redisqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"automationhub/internal/queue"
)

// claimScript pops the lowest-scored member with score <= now, if any.
var claimScript = redis.NewScript(`
local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #members == 0 then
	return false
end
redis.call('ZREM', KEYS[1], members[1])
return members[1]
`)

// Queue is a redis sorted-set backed Queue. Key is the single ZSET holding
// every visible-or-pending run id, scored by its not-before unix nanos.
type Queue struct {
	client *redis.Client
	key    string
}

// New wraps an existing *redis.Client. key namespaces the sorted set (e.g.
// "automationhub:queue:runs") so one Redis instance can host other data.
func New(client *redis.Client, key string) *Queue {
	return &Queue{client: client, key: key}
}

var _ queue.Queue = (*Queue)(nil)

func (q *Queue) Enqueue(ctx context.Context, runID uuid.UUID, notBefore time.Time) error {
	score := float64(time.Now().UnixNano())
	if !notBefore.IsZero() {
		score = float64(notBefore.UnixNano())
	}
	return q.client.ZAdd(ctx, q.key, redis.Z{Score: score, Member: runID.String()}).Err()
}

func (q *Queue) Claim(ctx context.Context) (uuid.UUID, bool, error) {
	res, err := claimScript.Run(ctx, q.client, []string{q.key}, time.Now().UnixNano()).Result()
	if err == redis.Nil {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("redisqueue: claim: %w", err)
	}
	member, ok := res.(string)
	if !ok || member == "" {
		return uuid.Nil, false, nil
	}
	runID, err := uuid.Parse(member)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("redisqueue: malformed member %q: %w", member, err)
	}
	return runID, true, nil
}

func (q *Queue) Requeue(ctx context.Context, runID uuid.UUID, notBefore time.Time) error {
	return q.Enqueue(ctx, runID, notBefore)
}

func (q *Queue) Depth(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	return int(n), err
}

func (q *Queue) Close() error {
	return q.client.Close()
}
