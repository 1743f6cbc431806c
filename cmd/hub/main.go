// Command hub is the API process (spec §5): it serves the HTTP/WebSocket
// surface over a shared Store/Queue/LogBus, and ticks runengine.Watchdog
// inline since the watchdog shares the engine's Store handle and keeps no
// state of its own (spec §5, §9) — unlike Scheduler/SLAMonitor/Cleanup,
// which spec §5 calls out as independently-deployable processes and which
// this module gives their own cmd/scheduler, cmd/slamonitor, cmd/cleanup
// binaries. Shape (cli.App{Commands}, signal handling) is
// grounded on the teacher's cmd/server/main.go.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"automationhub/internal/artifactstore"
	"automationhub/internal/cipher"
	"automationhub/internal/clock"
	"automationhub/internal/config"
	"automationhub/internal/httpapi"
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
)

func main() {
	app := &cli.App{
		Name:    "hub",
		Usage:   "Run lifecycle engine API process",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start the hub API server",
				Action: runHub,
			},
			{
				Name:  "migrate",
				Usage: "Create/upgrade the database schema",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "database",
						Usage:   "Database connection string (sqlite://path or postgresql://...)",
						EnvVars: []string{"HUB_DATABASE"},
					},
				},
				Action: runMigrate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runMigrate(c *cli.Context) error {
	dbURL := c.String("database")
	if dbURL == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		dbURL = cfg.Database
	}
	st, err := sqlstore.Open(context.Background(), dbURL)
	if err != nil {
		return fmt.Errorf("hub migrate: %w", err)
	}
	defer st.Close()
	log.Println("schema created/verified")
	return nil
}

func runHub(*cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("shutdown signal received, draining...")
		cancel()
	}()

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
		return fmt.Errorf("hub: encryption key: %w", err)
	}

	bus := logbus.New(st, ps)
	engine := runengine.New(st, q, bus, clock.New(), runengine.DefaultParams())
	watchdog := runengine.NewWatchdog(engine)

	go runWatchdogLoop(ctx, watchdog, zlog)

	router := httpapi.NewRouter(httpapi.Deps{
		Store: st, Engine: engine, LogBus: bus, Queue: q, Artifacts: artifacts, Cipher: c,
		DeployToken: cfg.DeployToken, CORSOrigins: cfg.CORSOrigins, Logger: zlog, StartedAt: time.Now(),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the log-streaming websocket route holds connections open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	zlog.Info("hub starting", zap.String("addr", addr), zap.String("database", cfg.Database))

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("hub http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	zlog.Info("hub shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("hub shutdown error", zap.Error(err))
	}
	return nil
}

// runWatchdogLoop ticks Tick and TickCancelGrace on a fixed interval until
// ctx is canceled.
func runWatchdogLoop(ctx context.Context, w *runengine.Watchdog, zlog *zap.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				zlog.Warn("watchdog tick failed", zap.Error(err))
			}
			if err := w.TickCancelGrace(ctx); err != nil {
				zlog.Warn("watchdog cancel-grace tick failed", zap.Error(err))
			}
		}
	}
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
