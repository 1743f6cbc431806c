package worker

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"automationhub/internal/artifactstore"
	"automationhub/internal/clock"
	"automationhub/internal/enum"
	"automationhub/internal/logbus"
	"automationhub/internal/pubsub"
	"automationhub/internal/queue/memqueue"
	"automationhub/internal/runengine"
	"automationhub/internal/store"
	"automationhub/internal/store/memstore"

	_ "automationhub/internal/worker/backend/local"
)

// scriptBytes and bytesReaderFor are small test-only helpers: the local
// backend executes EntrypointKindBinary entrypoints directly, so a run's
// "executable" artifact here is just a shell script with the exec bit
// materializeArtifact's writeExecutable sets for us.
func scriptBytes(body string) []byte {
	return []byte(body)
}

func bytesReaderFor(b []byte) io.Reader {
	return bytes.NewReader(b)
}

func newTestWorker(t *testing.T) (*Worker, store.Store, *artifactstore.MemStore, *runengine.Engine) {
	t.Helper()
	st := memstore.New()
	q := memqueue.New()
	bus := logbus.New(st, pubsub.NewMemoryPubSub())
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	engine := runengine.New(st, q, bus, clk, runengine.DefaultParams())
	artifacts := artifactstore.NewMemStore()

	cfg := DefaultConfig()
	cfg.Hostname = "test-host"
	cfg.ClaimPollInterval = 10 * time.Millisecond
	cfg.CancelPollInterval = 10 * time.Millisecond
	cfg.CancelGraceSeconds = 200 * time.Millisecond
	cfg.BackendConfig = map[string]interface{}{"python_interpreter": "python3"}

	w, err := New(uuid.New(), st, engine, artifacts, nil, clk, zap.NewNop(), cfg)
	require.NoError(t, err)

	// ClaimNext requires the claiming worker to already be registered;
	// Start() would also launch the heartbeat/claim loops, which these
	// tests drive manually instead, so register the row directly.
	require.NoError(t, st.UpsertWorker(context.Background(), &store.Worker{
		ID: w.id, Hostname: cfg.Hostname, Status: enum.WorkerRunning, LastHeartbeat: clk.Now(),
	}))
	return w, st, artifacts, engine
}

func seedBinaryRobot(t *testing.T, st store.Store, artifacts *artifactstore.MemStore, entrypointPath string, contents []byte) (*store.Robot, *store.RobotVersion) {
	t.Helper()
	ctx := context.Background()

	digest, _, err := artifacts.Upload(ctx, bytesReaderFor(contents))
	require.NoError(t, err)

	robot := &store.Robot{ID: uuid.New(), Name: "echo-bot"}
	require.NoError(t, st.CreateRobot(ctx, robot))

	version := &store.RobotVersion{
		ID: uuid.New(), RobotID: robot.ID, Version: "1.0.0", Channel: enum.ChannelStable,
		ArtifactKind:   enum.ArtifactKindExe,
		ArtifactDigest: digest,
		EntrypointKind: enum.EntrypointKindBinary,
		EntrypointPath: entrypointPath,
		IsActive:       true,
	}
	require.NoError(t, st.CreateRobotVersion(ctx, version))
	require.NoError(t, st.SetActiveRobotVersion(ctx, robot.ID, string(enum.ChannelStable), version.ID))
	return robot, version
}

func TestExecuteRunReportsSuccessOnZeroExit(t *testing.T) {
	w, st, artifacts, engine := newTestWorker(t)
	robot, _ := seedBinaryRobot(t, st, artifacts, "entrypoint", scriptBytes("#!/bin/sh\nexit 0\n"))

	ctx := context.Background()
	run, err := engine.CreateRun(ctx, runengine.ExecuteRequest{
		RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerManual, TriggeredBy: "alice",
	})
	require.NoError(t, err)

	claimed, err := engine.ClaimNext(ctx, w.id)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	w.executeRun(ctx, claimed)

	final, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, enum.RunSuccess, final.Status)
}

func TestExecuteRunReportsFailureOnNonZeroExit(t *testing.T) {
	w, st, artifacts, engine := newTestWorker(t)
	robot, _ := seedBinaryRobot(t, st, artifacts, "entrypoint", scriptBytes("#!/bin/sh\nexit 7\n"))

	ctx := context.Background()
	run, err := engine.CreateRun(ctx, runengine.ExecuteRequest{
		RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerManual, TriggeredBy: "alice",
	})
	require.NoError(t, err)

	claimed, err := engine.ClaimNext(ctx, w.id)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	w.executeRun(ctx, claimed)

	final, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, enum.RunFailed, final.Status)
	require.Contains(t, final.ErrorMessage, "exit code 7")
}

func TestExecuteRunFailsDispatchOnMissingRequiredEnv(t *testing.T) {
	w, st, artifacts, engine := newTestWorker(t)
	ctx := context.Background()

	digest, _, err := artifacts.Upload(ctx, bytesReaderFor(scriptBytes("#!/bin/sh\nexit 0\n")))
	require.NoError(t, err)

	robot := &store.Robot{ID: uuid.New(), Name: "needs-env-bot"}
	require.NoError(t, st.CreateRobot(ctx, robot))
	version := &store.RobotVersion{
		ID: uuid.New(), RobotID: robot.ID, Version: "1.0.0", Channel: enum.ChannelStable,
		ArtifactKind: enum.ArtifactKindExe, ArtifactDigest: digest,
		EntrypointKind: enum.EntrypointKindBinary, EntrypointPath: "entrypoint",
		RequiredEnvKeys: []string{"API_KEY"}, IsActive: true,
	}
	require.NoError(t, st.CreateRobotVersion(ctx, version))
	require.NoError(t, st.SetActiveRobotVersion(ctx, robot.ID, string(enum.ChannelStable), version.ID))

	run, err := engine.CreateRun(ctx, runengine.ExecuteRequest{
		RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerManual, TriggeredBy: "alice",
	})
	require.NoError(t, err)

	claimed, err := engine.ClaimNext(ctx, w.id)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	w.executeRun(ctx, claimed)

	final, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, enum.RunFailed, final.Status)
	require.Contains(t, final.ErrorMessage, "MissingRequiredEnv")
}

func TestExecuteRunHonorsCancelRequest(t *testing.T) {
	w, st, artifacts, engine := newTestWorker(t)
	robot, _ := seedBinaryRobot(t, st, artifacts, "entrypoint", scriptBytes("#!/bin/sh\nsleep 30\n"))

	ctx := context.Background()
	run, err := engine.CreateRun(ctx, runengine.ExecuteRequest{
		RobotID: robot.ID, EnvName: enum.EnvProd, TriggerType: enum.TriggerManual, TriggeredBy: "alice",
	})
	require.NoError(t, err)

	claimed, err := engine.ClaimNext(ctx, w.id)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	done := make(chan struct{})
	go func() {
		w.executeRun(ctx, claimed)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, engine.RequestCancel(ctx, run.ID, "alice"))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("executeRun did not return after cancel request")
	}

	final, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, enum.RunCanceled, final.Status)
}
