// Package worker implements the run executor (spec §4.3): the process
// that claims a run from RunEngine, materializes its artifact, spawns it
// through a pluggable backend, and reports its outcome. Loop shape
// (Start/Stop, stopChan/doneChan, ticker+select) is grounded on the
// teacher's monitor.BotMonitor.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"automationhub/internal/artifactstore"
	"automationhub/internal/cipher"
	"automationhub/internal/clock"
	"automationhub/internal/enum"
	"automationhub/internal/runengine"
	"automationhub/internal/store"
	"automationhub/internal/worker/backend"
)

// Config holds the Worker's tunable intervals (spec §4.3 defaults).
type Config struct {
	Hostname              string
	BackendType           enum.BackendType
	BackendConfig         map[string]interface{}
	ScratchRoot           string
	HeartbeatInterval      time.Duration
	ClaimPollInterval      time.Duration
	CancelPollInterval     time.Duration
	CancelGraceSeconds     time.Duration
	DrainTimeout           time.Duration
	DefaultTimeoutSeconds  int
}

// DefaultConfig returns spec §4.3's default intervals with the local backend.
func DefaultConfig() Config {
	return Config{
		BackendType:           enum.BackendLocal,
		ScratchRoot:           os.TempDir(),
		HeartbeatInterval:     15 * time.Second,
		ClaimPollInterval:     2 * time.Second,
		CancelPollInterval:    2 * time.Second,
		CancelGraceSeconds:    30 * time.Second,
		DrainTimeout:          5 * time.Minute,
		DefaultTimeoutSeconds: 3600,
	}
}

// Worker claims and executes runs until stopped.
type Worker struct {
	id        uuid.UUID
	store     store.Store
	engine    *runengine.Engine
	artifacts artifactstore.Store
	cipher    cipher.Cipher
	clock     clock.Clock
	backend   backend.Backend
	logger    *zap.Logger
	cfg       Config

	stopChan chan struct{}
	doneChan chan struct{}
	inFlight sync.WaitGroup

	mu     sync.Mutex
	paused bool
}

// New builds a Worker. id should be persisted by the caller across restarts
// (spec §4.3 "stable worker_id persisted across restarts").
func New(id uuid.UUID, st store.Store, engine *runengine.Engine, artifacts artifactstore.Store, c cipher.Cipher, clk clock.Clock, logger *zap.Logger, cfg Config) (*Worker, error) {
	be, err := backend.New(cfg.BackendType, cfg.BackendConfig)
	if err != nil {
		return nil, fmt.Errorf("worker: build backend: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id: id, store: st, engine: engine, artifacts: artifacts, cipher: c, clock: clk,
		backend: be, logger: logger, cfg: cfg,
		stopChan: make(chan struct{}), doneChan: make(chan struct{}),
	}, nil
}

// Start registers the worker row and launches the heartbeat and claim
// loops. It returns once registration succeeds; the loops run in the
// background until ctx is canceled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.store.UpsertWorker(ctx, &store.Worker{
		ID: w.id, Hostname: w.cfg.Hostname, Status: enum.WorkerRunning,
		LastHeartbeat: w.clock.Now(),
	}); err != nil {
		return fmt.Errorf("worker: register: %w", err)
	}

	go w.heartbeatLoop(ctx)
	go w.claimLoop(ctx)
	return nil
}

// Stop implements the shutdown loop (spec §4.3): stops claiming, waits up
// to DrainTimeout for in-flight runs, then returns.
func (w *Worker) Stop(ctx context.Context) {
	close(w.stopChan)

	drained := make(chan struct{})
	go func() {
		w.inFlight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(w.cfg.DrainTimeout):
		w.logger.Warn("drain timeout exceeded, stopping with runs still in flight", zap.String("worker_id", w.id.String()))
	}

	if _, err := w.store.GetWorker(ctx, w.id); err == nil {
		_ = w.store.UpsertWorker(ctx, &store.Worker{
			ID: w.id, Hostname: w.cfg.Hostname, Status: enum.WorkerStopped, LastHeartbeat: w.clock.Now(),
		})
	}
	close(w.doneChan)
}

// Done is closed once Stop has finished draining.
func (w *Worker) Done() <-chan struct{} { return w.doneChan }

// Pause stops the claim loop from picking up new runs without affecting
// runs already in flight (spec §4.3 "does not claim new runs").
func (w *Worker) Pause(ctx context.Context) error {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
	return w.store.UpsertWorker(ctx, &store.Worker{ID: w.id, Hostname: w.cfg.Hostname, Status: enum.WorkerPaused, LastHeartbeat: w.clock.Now()})
}

// Resume re-enables claiming.
func (w *Worker) Resume(ctx context.Context) error {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
	return w.store.UpsertWorker(ctx, &store.Worker{ID: w.id, Hostname: w.cfg.Hostname, Status: enum.WorkerRunning, LastHeartbeat: w.clock.Now()})
}

func (w *Worker) isPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			status := enum.WorkerRunning
			if w.isPaused() {
				status = enum.WorkerPaused
			}
			if err := w.store.UpsertWorker(ctx, &store.Worker{
				ID: w.id, Hostname: w.cfg.Hostname, Status: status, LastHeartbeat: w.clock.Now(),
			}); err != nil {
				w.logger.Error("heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (w *Worker) claimLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		default:
		}

		if w.isPaused() {
			w.sleep(ctx, w.cfg.ClaimPollInterval)
			continue
		}

		run, err := w.engine.ClaimNext(ctx, w.id)
		if err != nil {
			w.logger.Error("claim failed", zap.Error(err))
			w.sleep(ctx, w.cfg.ClaimPollInterval)
			continue
		}
		if run == nil {
			w.sleep(ctx, w.cfg.ClaimPollInterval)
			continue
		}

		w.inFlight.Add(1)
		go func() {
			defer w.inFlight.Done()
			w.executeRun(ctx, run)
		}()
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-w.stopChan:
	case <-time.After(d):
	}
}

// executeRun implements the claim-loop materialization sequence (spec
// §4.3 steps 1-8) for one claimed run.
func (w *Worker) executeRun(ctx context.Context, run *store.Run) {
	log := w.logger.With(zap.String("run_id", run.ID.String()), zap.String("robot_id", run.RobotID.String()))

	version, err := w.store.GetRobotVersion(ctx, run.RobotVersionID)
	if err != nil {
		w.failDispatch(ctx, run, fmt.Sprintf("robot version not found: %v", err))
		return
	}
	robot, err := w.store.GetRobot(ctx, run.RobotID)
	if err != nil {
		w.failDispatch(ctx, run, fmt.Sprintf("robot not found: %v", err))
		return
	}

	scratchDir := filepath.Join(w.cfg.ScratchRoot, "run-"+run.ID.String())
	defer os.RemoveAll(scratchDir)

	if err := w.materialize(ctx, run, version, scratchDir); err != nil {
		w.failDispatch(ctx, run, err.Error())
		return
	}

	env, err := w.assembleEnv(ctx, run, version)
	if err != nil {
		w.failDispatch(ctx, run, err.Error())
		return
	}

	args := append(append([]string{}, version.DefaultArguments...), runtimeArguments(run)...)

	spec := backend.RunSpec{
		RunID:          run.ID.String(),
		RobotName:      robot.Name,
		EntrypointKind: version.EntrypointKind,
		EntrypointPath: version.EntrypointPath,
		Arguments:      args,
		Env:            env,
		WorkingDir:     version.WorkingDir,
		ArtifactDir:    scratchDir,
	}

	handle, err := w.backend.Spawn(ctx, spec)
	if err != nil {
		w.failDispatch(ctx, run, fmt.Sprintf("spawn failed: %v", err))
		return
	}

	hostname, _ := os.Hostname()
	if err := w.engine.ReportStart(ctx, run.ID, hostname, os.Getpid()); err != nil {
		log.Error("report start failed", zap.Error(err))
	}

	go w.forwardLogs(ctx, run.ID, handle)

	timeout := w.effectiveTimeout(ctx, run)
	exitCode, outcome, errMsg := w.superviseRun(ctx, run, handle, timeout)

	artifacts := w.collectArtifacts(ctx, run, scratchDir)

	if outcome == runengine.OutcomeFailed && errMsg == "" {
		errMsg = fmt.Sprintf("exit code %d", exitCode)
	}
	if err := w.engine.ReportFinish(ctx, run.ID, outcome, errMsg, artifacts); err != nil {
		log.Error("report finish failed", zap.Error(err))
	}
}

// superviseRun watches a spawned handle for exit, operator cancel, and
// timeout (spec §4.3 steps 6-7), returning the resulting exit code and
// terminal outcome.
func (w *Worker) superviseRun(ctx context.Context, run *store.Run, handle backend.Handle, timeout time.Duration) (int, runengine.FinishOutcome, string) {
	waitDone := make(chan struct{})
	var exitCode int
	var waitErr error
	go func() {
		exitCode, waitErr = handle.Wait(ctx)
		close(waitDone)
	}()

	cancelTicker := time.NewTicker(w.cfg.CancelPollInterval)
	defer cancelTicker.Stop()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-waitDone:
			if waitErr != nil {
				return -1, runengine.OutcomeFailed, waitErr.Error()
			}
			if exitCode == 0 {
				return 0, runengine.OutcomeSuccess, ""
			}
			return exitCode, runengine.OutcomeFailed, ""

		case <-deadline.C:
			w.terminate(ctx, handle, waitDone)
			return -1, runengine.OutcomeFailed, "TIMEOUT"

		case <-cancelTicker.C:
			fresh, err := w.store.GetRun(ctx, run.ID)
			if err != nil {
				continue
			}
			if fresh.CancelRequested {
				w.terminate(ctx, handle, waitDone)
				return -1, runengine.OutcomeCanceled, ""
			}
		}
	}
}

func (w *Worker) terminate(ctx context.Context, handle backend.Handle, waitDone <-chan struct{}) {
	_ = handle.Signal(ctx, backend.SignalTerm)
	select {
	case <-waitDone:
		return
	case <-time.After(w.cfg.CancelGraceSeconds):
	}
	_ = handle.Signal(ctx, backend.SignalKill)
	<-waitDone
}

func (w *Worker) forwardLogs(ctx context.Context, runID uuid.UUID, handle backend.Handle) {
	for line := range handle.Lines() {
		level := enum.LogInfo
		if line.Stream == "stderr" {
			level = enum.LogError
		}
		if err := w.engine.AppendLog(ctx, runID, level, line.Message); err != nil {
			w.logger.Error("append log failed", zap.Error(err), zap.String("run_id", runID.String()))
		}
	}
}

func (w *Worker) effectiveTimeout(ctx context.Context, run *store.Run) time.Duration {
	if run.TriggerType == enum.TriggerManual {
		return time.Duration(w.cfg.DefaultTimeoutSeconds) * time.Second
	}
	sched, err := w.store.GetSchedule(ctx, run.RobotID)
	if err != nil || sched.TimeoutSeconds <= 0 {
		return time.Duration(w.cfg.DefaultTimeoutSeconds) * time.Second
	}
	return time.Duration(sched.TimeoutSeconds) * time.Second
}

// failDispatch reports a FAILED outcome for a run that never made it to
// spawn (spec §4.4 "PENDING --dispatch-fatal--> FAILED").
func (w *Worker) failDispatch(ctx context.Context, run *store.Run, msg string) {
	hostname, _ := os.Hostname()
	_ = w.engine.ReportStart(ctx, run.ID, hostname, os.Getpid())
	if err := w.engine.ReportFinish(ctx, run.ID, runengine.OutcomeFailed, msg, nil); err != nil {
		w.logger.Error("report dispatch failure", zap.Error(err), zap.String("run_id", run.ID.String()))
	}
}

func runtimeArguments(run *store.Run) []string {
	raw, ok := run.Parameters["arguments"]
	if !ok {
		return nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
