// Command worker is one run-executor process (spec §4.3): it registers a
// Worker row, then loops claiming runs from RunEngine and executing them
// through a pluggable backend (local, docker, kubernetes). Shape is
// grounded on the teacher's cmd/server/main.go cli.App/signal-handling
// pattern; worker_id persistence (spec §4.3 "stable worker_id persisted
// across restarts") is a small UUID-in-a-file convention local to this
// binary.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"automationhub/internal/artifactstore"
	"automationhub/internal/cipher"
	"automationhub/internal/clock"
	"automationhub/internal/config"
	"automationhub/internal/enum"
	"automationhub/internal/logbus"
	"automationhub/internal/logger"
	"automationhub/internal/pubsub"
	"automationhub/internal/queue"
	"automationhub/internal/queue/memqueue"
	"automationhub/internal/queue/redisqueue"
	"automationhub/internal/runengine"
	"automationhub/internal/s3"
	"automationhub/internal/store"
	"automationhub/internal/store/memstore"
	"automationhub/internal/store/sqlstore"
	"automationhub/internal/worker"

	_ "automationhub/internal/worker/backend/dockerbackend"
	_ "automationhub/internal/worker/backend/kubernetesbackend"
	_ "automationhub/internal/worker/backend/local"
)

func main() {
	app := &cli.App{
		Name:    "worker",
		Usage:   "Run executor process",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{Name: "run", Usage: "Start claiming and executing runs", Action: runWorker},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runWorker(*cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	zlog := logger.NewLoggerFromEnv()
	defer zlog.Sync()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ps := openPubSub(cfg)
	q := openQueue(cfg)
	defer q.Close()

	artifacts, err := openArtifactStore(cfg)
	if err != nil {
		return err
	}

	c, err := cipher.New(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("worker: encryption key: %w", err)
	}

	bus := logbus.New(st, ps)
	engine := runengine.New(st, q, bus, clock.New(), runengine.DefaultParams())

	backendType, err := enum.ParseBackendType(cfg.WorkerBackendType)
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	hostname := cfg.WorkerHostname
	if hostname == "" {
		hostname, _ = os.Hostname()
	}

	id, err := loadOrCreateWorkerID(cfg.WorkerScratchRoot)
	if err != nil {
		return fmt.Errorf("worker: worker id: %w", err)
	}

	wcfg := worker.DefaultConfig()
	wcfg.Hostname = hostname
	wcfg.BackendType = backendType
	wcfg.ScratchRoot = cfg.WorkerScratchRoot
	wcfg.HeartbeatInterval = cfg.HeartbeatInterval
	wcfg.ClaimPollInterval = cfg.ClaimPollInterval

	w, err := worker.New(id, st, engine, artifacts, c, clock.New(), zlog, wcfg)
	if err != nil {
		return fmt.Errorf("worker: build: %w", err)
	}

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("worker: start: %w", err)
	}

	zlog.Sugar().Infow("worker started", "worker_id", id.String(), "hostname", hostname, "backend", backendType)

	waitForSignal(ctx, cancel)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), wcfg.DrainTimeout+5*time.Second)
	defer stopCancel()
	w.Stop(stopCtx)
	<-w.Done()
	return nil
}

// waitForSignal blocks until SIGINT/SIGTERM arrives or ctx is already done,
// then cancels ctx so callers can proceed to their own shutdown sequence.
func waitForSignal(ctx context.Context, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		log.Println("shutdown signal received, draining in-flight runs...")
	case <-ctx.Done():
	}
	cancel()
}

func loadOrCreateWorkerID(scratchRoot string) (uuid.UUID, error) {
	path := filepath.Join(scratchRoot, "worker-id.json")
	if b, err := os.ReadFile(path); err == nil {
		var payload struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(b, &payload); err == nil {
			if id, err := uuid.Parse(payload.ID); err == nil {
				return id, nil
			}
		}
	}

	if err := os.MkdirAll(scratchRoot, 0o755); err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	b, _ := json.Marshal(struct {
		ID string `json:"id"`
	}{ID: id.String()})
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database == "" || cfg.Database == "memory://" {
		return memstore.New(), nil
	}
	return sqlstore.Open(ctx, cfg.Database)
}

func openPubSub(cfg *config.Config) pubsub.PubSub {
	if cfg.RedisAddr == "" {
		return pubsub.NewMemoryPubSub()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return pubsub.NewRedisPubSub(client)
}

func openQueue(cfg *config.Config) queue.Queue {
	if cfg.RedisAddr == "" {
		return memqueue.New()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return redisqueue.New(client, "automationhub:queue:runs")
}

func openArtifactStore(cfg *config.Config) (artifactstore.Store, error) {
	if cfg.S3Endpoint == "" {
		return artifactstore.NewMemStore(), nil
	}
	return artifactstore.NewS3Store(&s3.Config{
		Endpoint: cfg.S3Endpoint, Bucket: cfg.S3Bucket, AccessKeyID: cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey, Region: "us-east-1", ForcePathStyle: true, UseSSL: cfg.S3UseSSL,
	})
}
