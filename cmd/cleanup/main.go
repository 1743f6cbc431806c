// Command cleanup is the retention-sweep process (spec §4.8, §5): one
// instance periodically deletes terminal runs, run logs, and artifacts
// older than their configured retention windows. Shape is grounded on
// the teacher's cmd/server/main.go.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"automationhub/internal/cleanup"
	"automationhub/internal/clock"
	"automationhub/internal/config"
	"automationhub/internal/logger"
	"automationhub/internal/store"
	"automationhub/internal/store/memstore"
	"automationhub/internal/store/sqlstore"
)

func main() {
	app := &cli.App{
		Name:    "cleanup",
		Usage:   "Retention sweep process",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{Name: "run", Usage: "Start the retention sweep loop", Action: runCleanup},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runCleanup(*cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("shutdown signal received, stopping cleanup...")
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

	params := cleanup.Params{
		RunRetention:      cfg.RunRetention,
		LogRetention:      cfg.LogRetention,
		ArtifactRetention: cfg.ArtifactRetention,
	}

	c := cleanup.New(st, clock.New(), params, cfg.CleanupInterval, zlog)
	c.Start(ctx)

	zlog.Info("cleanup started")
	<-ctx.Done()
	c.Stop()
	zlog.Info("cleanup stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database == "" || cfg.Database == "memory://" {
		return memstore.New(), nil
	}
	return sqlstore.Open(ctx, cfg.Database)
}
