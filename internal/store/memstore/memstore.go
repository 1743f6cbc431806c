// Package memstore is an in-memory Store used by unit tests and by
// single-process demo/dev deployments. Adapted from the teacher's
// map-plus-mutex fixture stores (internal/bot/memrepo.go pattern) and
// generalized to the full run-lifecycle schema (spec §2, §3).
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"automationhub/internal/store"
)

// Store is a mutex-guarded, map-backed store.Store. Locks are process-local
// only; it is never correct to run more than one process against the same
// *Store.
type Store struct {
	mu sync.Mutex

	robots    map[uuid.UUID]*store.Robot
	versions  map[uuid.UUID]*store.RobotVersion
	schedules map[uuid.UUID]*store.Schedule // keyed by robot id
	slaRules  map[uuid.UUID]*store.SLARule  // keyed by robot id
	envBinds  map[string]*store.RobotEnvBinding
	runs      map[uuid.UUID]*store.Run
	runLogs   map[uuid.UUID][]*store.RunLog // keyed by run id
	artifacts map[uuid.UUID][]*store.Artifact
	workers   map[uuid.UUID]*store.Worker
	alerts    map[uuid.UUID]*store.AlertEvent

	robotLocks map[uuid.UUID]*sync.Mutex
	runLocks   map[uuid.UUID]*sync.Mutex
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		robots:     make(map[uuid.UUID]*store.Robot),
		versions:   make(map[uuid.UUID]*store.RobotVersion),
		schedules:  make(map[uuid.UUID]*store.Schedule),
		slaRules:   make(map[uuid.UUID]*store.SLARule),
		envBinds:   make(map[string]*store.RobotEnvBinding),
		runs:       make(map[uuid.UUID]*store.Run),
		runLogs:    make(map[uuid.UUID][]*store.RunLog),
		artifacts:  make(map[uuid.UUID][]*store.Artifact),
		workers:    make(map[uuid.UUID]*store.Worker),
		alerts:     make(map[uuid.UUID]*store.AlertEvent),
		robotLocks: make(map[uuid.UUID]*sync.Mutex),
		runLocks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

var _ store.Store = (*Store)(nil)

// WithTx calls fn with the store itself and takes no lock around it: each
// method locks the mutex on its own, so fn's calls are not atomic as a
// group and nothing is rolled back when fn returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *Store) Close() error { return nil }

func envKey(robotID uuid.UUID, envName, key string) string {
	return robotID.String() + "/" + envName + "/" + key
}

// --- Robots ---

func (s *Store) CreateRobot(ctx context.Context, r *store.Robot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.robots[r.ID]; ok {
		return store.ErrConflict
	}
	cp := *r
	s.robots[r.ID] = &cp
	return nil
}

func (s *Store) GetRobot(ctx context.Context, id uuid.UUID) (*store.Robot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.robots[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) GetRobotByName(ctx context.Context, name string) (*store.Robot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.robots {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListRobots(ctx context.Context) ([]*store.Robot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Robot, 0, len(s.robots))
	for _, r := range s.robots {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpdateRobot(ctx context.Context, r *store.Robot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.robots[r.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *r
	s.robots[r.ID] = &cp
	return nil
}

func (s *Store) DeleteRobot(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.robots[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.robots, id)
	return nil
}

// --- RobotVersions ---

func (s *Store) CreateRobotVersion(ctx context.Context, v *store.RobotVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[v.ID]; ok {
		return store.ErrConflict
	}
	cp := *v
	s.versions[v.ID] = &cp
	return nil
}

func (s *Store) GetRobotVersion(ctx context.Context, id uuid.UUID) (*store.RobotVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *Store) GetActiveRobotVersion(ctx context.Context, robotID uuid.UUID, channel string) (*store.RobotVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions {
		if v.RobotID == robotID && string(v.Channel) == channel && v.IsActive {
			cp := *v
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListRobotVersions(ctx context.Context, robotID uuid.UUID) ([]*store.RobotVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.RobotVersion, 0)
	for _, v := range s.versions {
		if v.RobotID == robotID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetActiveRobotVersion(ctx context.Context, robotID uuid.UUID, channel string, versionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.versions[versionID]
	if !ok || target.RobotID != robotID {
		return store.ErrNotFound
	}
	for _, v := range s.versions {
		if v.RobotID == robotID && string(v.Channel) == channel {
			v.IsActive = v.ID == versionID
		}
	}
	return nil
}

// --- Schedules ---

func (s *Store) UpsertSchedule(ctx context.Context, sc *store.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	cp := *sc
	s.schedules[sc.RobotID] = &cp
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, robotID uuid.UUID) (*store.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[robotID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sc
	return &cp, nil
}

func (s *Store) ListEnabledSchedules(ctx context.Context) ([]*store.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Schedule, 0)
	for _, sc := range s.schedules {
		if sc.Enabled {
			cp := *sc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) TouchScheduleTick(ctx context.Context, scheduleID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.schedules {
		if sc.ID == scheduleID {
			sc.LastTickAt = at
			return nil
		}
	}
	return store.ErrNotFound
}

// --- SLA rules ---

func (s *Store) UpsertSLARule(ctx context.Context, rule *store.SLARule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	cp := *rule
	s.slaRules[rule.RobotID] = &cp
	return nil
}

func (s *Store) GetSLARule(ctx context.Context, robotID uuid.UUID) (*store.SLARule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.slaRules[robotID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rule
	return &cp, nil
}

func (s *Store) ListSLARules(ctx context.Context) ([]*store.SLARule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.SLARule, 0, len(s.slaRules))
	for _, rule := range s.slaRules {
		cp := *rule
		out = append(out, &cp)
	}
	return out, nil
}

// --- Env bindings ---

func (s *Store) UpsertEnvBinding(ctx context.Context, b *store.RobotEnvBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.envBinds[envKey(b.RobotID, string(b.EnvName), b.Key)] = &cp
	return nil
}

func (s *Store) ListEnvBindings(ctx context.Context, robotID uuid.UUID, envName string) ([]*store.RobotEnvBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.RobotEnvBinding, 0)
	for _, b := range s.envBinds {
		if b.RobotID == robotID && string(b.EnvName) == envName {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) DeleteEnvBinding(ctx context.Context, robotID uuid.UUID, envName, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := envKey(robotID, envName, key)
	if _, ok := s.envBinds[k]; !ok {
		return store.ErrNotFound
	}
	delete(s.envBinds, k)
	return nil
}

// --- Runs ---

func (s *Store) CreateRun(ctx context.Context, r *store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ScheduleID != nil && r.FireTime != nil {
		for _, existing := range s.runs {
			if existing.ScheduleID != nil && *existing.ScheduleID == *r.ScheduleID &&
				existing.FireTime != nil && existing.FireTime.Equal(*r.FireTime) {
				return store.ErrDuplicateSchedule
			}
		}
	}
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListRuns(ctx context.Context, f store.RunFilter) ([]*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Run, 0)
	for _, r := range s.runs {
		if f.RobotID != uuid.Nil && r.RobotID != f.RobotID {
			continue
		}
		if f.EnvName != "" && string(r.EnvName) != f.EnvName {
			continue
		}
		if f.Status != "" && string(r.Status) != f.Status {
			continue
		}
		if !f.Since.IsZero() && r.QueuedAt.Before(f.Since) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.After(out[j].QueuedAt) })
	if f.Offset > 0 && f.Offset < len(out) {
		out = out[f.Offset:]
	} else if f.Offset >= len(out) {
		out = nil
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) UpdateRun(ctx context.Context, r *store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

func (s *Store) ClaimableRuns(ctx context.Context, now time.Time, limit int) ([]*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Run, 0)
	for _, r := range s.runs {
		if r.Status != "PENDING" {
			continue
		}
		if r.NotBefore.After(now) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountRunningByRobot(ctx context.Context, robotID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.runs {
		if r.RobotID == robotID && r.Status == "RUNNING" {
			n++
		}
	}
	return n, nil
}

func (s *Store) FindByScheduleFire(ctx context.Context, scheduleID uuid.UUID, fireTime time.Time) (*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ScheduleID != nil && *r.ScheduleID == scheduleID && r.FireTime != nil && r.FireTime.Equal(fireTime) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) StaleRunningRuns(ctx context.Context, cutoff time.Time) ([]*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Run, 0)
	for _, r := range s.runs {
		if r.Status == "RUNNING" && r.StartedAt != nil && r.StartedAt.Before(cutoff) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Locks ---

func (s *Store) lockFor(m map[uuid.UUID]*sync.Mutex, id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	l, ok := m[id]
	if !ok {
		l = &sync.Mutex{}
		m[id] = l
	}
	s.mu.Unlock()
	return l
}

func (s *Store) LockRobot(ctx context.Context, robotID uuid.UUID, fn func() error) error {
	l := s.lockFor(s.robotLocks, robotID)
	l.Lock()
	defer l.Unlock()
	return fn()
}

func (s *Store) LockRun(ctx context.Context, runID uuid.UUID, fn func() error) error {
	l := s.lockFor(s.runLocks, runID)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// --- Run logs ---

func (s *Store) AppendRunLog(ctx context.Context, l *store.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.runLogs[l.RunID] = append(s.runLogs[l.RunID], &cp)
	return nil
}

func (s *Store) LogsSince(ctx context.Context, runID uuid.UUID, afterSeq int64, limit int) ([]*store.RunLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.runLogs[runID]
	out := make([]*store.RunLog, 0)
	for _, l := range all {
		if l.Sequence > afterSeq {
			cp := *l
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) NextLogSequence(ctx context.Context, runID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.runLogs[runID])) + 1, nil
}

// --- Artifacts ---

func (s *Store) CreateArtifact(ctx context.Context, a *store.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.artifacts[a.RunID] = append(s.artifacts[a.RunID], &cp)
	return nil
}

func (s *Store) ListArtifacts(ctx context.Context, runID uuid.UUID) ([]*store.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Artifact, len(s.artifacts[runID]))
	copy(out, s.artifacts[runID])
	return out, nil
}

// --- Workers ---

func (s *Store) UpsertWorker(ctx context.Context, w *store.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.workers[w.ID] = &cp
	return nil
}

func (s *Store) GetWorker(ctx context.Context, id uuid.UUID) (*store.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *Store) ListWorkers(ctx context.Context) ([]*store.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

// --- Alerts ---

func (s *Store) CreateAlert(ctx context.Context, a *store.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *Store) GetOpenAlert(ctx context.Context, robotID uuid.UUID, alertType string) (*store.AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.RobotID == robotID && string(a.Type) == alertType && a.ResolvedAt == nil {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ResolveAlert(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return store.ErrNotFound
	}
	t := at
	a.ResolvedAt = &t
	return nil
}

func (s *Store) ListOpenAlerts(ctx context.Context) ([]*store.AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.AlertEvent, 0)
	for _, a := range s.alerts {
		if a.ResolvedAt == nil {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Retention ---

func (s *Store) DeleteRunsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.runs {
		if r.FinishedAt != nil && r.FinishedAt.Before(cutoff) {
			delete(s.runs, id)
			delete(s.runLogs, id)
			delete(s.artifacts, id)
			n++
		}
	}
	return n, nil
}

// DeleteRunLogsOlderThan prunes RunLogs for terminal runs whose
// FinishedAt predates cutoff, without deleting the Run row itself.
func (s *Store) DeleteRunLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.runs {
		if r.FinishedAt == nil || !r.FinishedAt.Before(cutoff) {
			continue
		}
		if logs, ok := s.runLogs[id]; ok {
			n += int64(len(logs))
			delete(s.runLogs, id)
		}
	}
	return n, nil
}

// DeleteArtifactsOlderThan prunes Artifacts for terminal runs whose
// FinishedAt predates cutoff, without deleting the Run row itself.
func (s *Store) DeleteArtifactsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.runs {
		if r.FinishedAt == nil || !r.FinishedAt.Before(cutoff) {
			continue
		}
		if arts, ok := s.artifacts[id]; ok {
			n += int64(len(arts))
			delete(s.artifacts, id)
		}
	}
	return n, nil
}
