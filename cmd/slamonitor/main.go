// Command slamonitor is the SLA/health alerting process (spec §4.6, §5):
// one instance ticks slamonitor.Monitor on a fixed interval, evaluating
// LATE, FAILURE_STREAK, WORKER_DOWN and QUEUE_BACKLOG and delivering
// email alerts through the teacher's SendGrid channel when configured.
// Shape is grounded on the teacher's cmd/server/main.go.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"automationhub/internal/alert/channel"
	"automationhub/internal/clock"
	"automationhub/internal/config"
	"automationhub/internal/logger"
	"automationhub/internal/queue"
	"automationhub/internal/queue/memqueue"
	"automationhub/internal/queue/redisqueue"
	"automationhub/internal/slamonitor"
	"automationhub/internal/store"
	"automationhub/internal/store/memstore"
	"automationhub/internal/store/sqlstore"
)

func main() {
	app := &cli.App{
		Name:    "slamonitor",
		Usage:   "SLA and health alerting process",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{Name: "run", Usage: "Start the SLA monitor loop", Action: runSLAMonitor},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runSLAMonitor(*cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("shutdown signal received, stopping SLA monitor...")
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

	q := openQueue(cfg)
	defer q.Close()

	channels := buildChannels(cfg, zlog)

	params := slamonitor.Params{
		FailureStreakThreshold: cfg.FailureStreakThreshold,
		WorkerStaleAfter:       cfg.WorkerStaleAfter,
		QueueBacklogThreshold:  cfg.QueueBacklogAlertThreshold,
	}

	mon := slamonitor.New(st, q, clock.New(), params, channels, cfg.SLAMonitorInterval, zlog)
	mon.Start(ctx)

	zlog.Info("sla monitor started")
	<-ctx.Done()
	mon.Stop()
	zlog.Info("sla monitor stopped")
	return nil
}

// buildChannels wires the SendGrid email channel when an API key is
// configured; an empty key means alerts are still recorded in Store but
// never delivered.
func buildChannels(cfg *config.Config, zlog *zap.Logger) []channel.Channel {
	if cfg.SendGridAPIKey == "" {
		return nil
	}
	ch, err := channel.NewSendGridChannel(channel.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	})
	if err != nil {
		zlog.Warn("sendgrid channel disabled", zap.Error(err))
		return nil
	}
	return []channel.Channel{ch}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database == "" || cfg.Database == "memory://" {
		return memstore.New(), nil
	}
	return sqlstore.Open(ctx, cfg.Database)
}

func openQueue(cfg *config.Config) queue.Queue {
	if cfg.RedisAddr == "" {
		return memqueue.New()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return redisqueue.New(client, "automationhub:queue:runs")
}

