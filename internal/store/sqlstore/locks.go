package sqlstore

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

// lockKey folds a uuid down to the int64 postgres advisory locks take.
func lockKey(id uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write(id[:])
	return int64(h.Sum64())
}

func (s *Store) withAdvisoryLock(ctx context.Context, m map[uuid.UUID]*sync.Mutex, id uuid.UUID, fn func() error) error {
	if s.driver != "postgres" {
		// sqlite has no advisory-lock primitive; fall back to a
		// process-local mutex, which is correct for the single-process
		// sqlite deployments this driver targets (spec §9 assumes a
		// lock that serializes concurrent dispatchers sharing one store).
		return s.withLocalLock(m, id, fn)
	}

	key := lockKey(id)
	if _, err := s.conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		return err
	}
	defer s.conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, key)

	return fn()
}

func (s *Store) withLocalLock(m map[uuid.UUID]*sync.Mutex, id uuid.UUID, fn func() error) error {
	s.mu.Lock()
	l, ok := m[id]
	if !ok {
		l = &sync.Mutex{}
		m[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	defer l.Unlock()
	return fn()
}

func (s *Store) LockRobot(ctx context.Context, robotID uuid.UUID, fn func() error) error {
	return s.withAdvisoryLock(ctx, s.robotLocks, robotID, fn)
}

func (s *Store) LockRun(ctx context.Context, runID uuid.UUID, fn func() error) error {
	return s.withAdvisoryLock(ctx, s.runLocks, runID, fn)
}
