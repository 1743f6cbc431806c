// Command scheduler is the cron-firing process (spec §4.5, §5): one
// instance walks every enabled Schedule on a fixed interval and asks
// RunEngine to create a SCHEDULED run for each fire time since the
// schedule's last tick. Shape is grounded on the teacher's
// cmd/server/main.go cli.App/signal-handling pattern.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"automationhub/internal/clock"
	"automationhub/internal/config"
	"automationhub/internal/logbus"
	"automationhub/internal/logger"
	"automationhub/internal/pubsub"
	"automationhub/internal/queue"
	"automationhub/internal/queue/memqueue"
	"automationhub/internal/queue/redisqueue"
	"automationhub/internal/runengine"
	"automationhub/internal/scheduler"
	"automationhub/internal/store"
	"automationhub/internal/store/memstore"
	"automationhub/internal/store/sqlstore"
)

func main() {
	app := &cli.App{
		Name:    "scheduler",
		Usage:   "Cron-firing process for scheduled runs",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{Name: "run", Usage: "Start the scheduler loop", Action: runScheduler},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runScheduler(*cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("shutdown signal received, stopping scheduler...")
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

	bus := logbus.New(st, ps)
	engine := runengine.New(st, q, bus, clock.New(), runengine.DefaultParams())

	sched := scheduler.New(st, engine, clock.New(), cfg.SchedulerInterval, zlog)
	sched.Start(ctx)

	zlog.Info("scheduler started")
	<-ctx.Done()
	sched.Stop()
	zlog.Info("scheduler stopped")
	return nil
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
