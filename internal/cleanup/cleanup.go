// Package cleanup implements the retention loop (spec §4.8): on a fixed
// period it deletes terminal Runs, and independently RunLogs and
// Artifacts, older than their respective configured retention windows.
// Loop shape is grounded on the teacher's monitor.BotMonitor ticker loop.
package cleanup

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"automationhub/internal/clock"
	"automationhub/internal/store"
)

// DefaultInterval is how often the retention sweep runs. Spec §4.8 leaves
// the sweep period unnamed (only the three retention windows are
// configurable); an hour keeps deletion granularity well under any
// reasonable *_retention_days value without sweeping continuously.
const DefaultInterval = 1 * time.Hour

// Params bundles the three independently configurable retention windows
// spec §4.8 names.
type Params struct {
	RunRetention      time.Duration // run_retention_days
	LogRetention      time.Duration // log_retention_days
	ArtifactRetention time.Duration // artifact_retention_days
}

// DefaultParams returns a conservative 90/30/30-day default.
func DefaultParams() Params {
	return Params{
		RunRetention:      90 * 24 * time.Hour,
		LogRetention:      30 * 24 * time.Hour,
		ArtifactRetention: 30 * 24 * time.Hour,
	}
}

// Cleanup runs the single periodic retention sweep described in spec §4.8.
type Cleanup struct {
	store    store.Store
	clock    clock.Clock
	params   Params
	interval time.Duration
	logger   *zap.Logger

	stopChan chan struct{}
	doneChan chan struct{}
}

// New builds a Cleanup. interval defaults to DefaultInterval if zero.
func New(st store.Store, clk clock.Clock, params Params, interval time.Duration, logger *zap.Logger) *Cleanup {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleanup{
		store: st, clock: clk, params: params, interval: interval, logger: logger,
		stopChan: make(chan struct{}), doneChan: make(chan struct{}),
	}
}

// Start launches the sweep loop in the background.
func (c *Cleanup) Start(ctx context.Context) {
	go c.loop(ctx)
}

// Stop signals the loop to exit and blocks until it has.
func (c *Cleanup) Stop() {
	close(c.stopChan)
	<-c.doneChan
}

func (c *Cleanup) loop(ctx context.Context) {
	defer close(c.doneChan)

	c.sweep(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

// Sweep runs one retention pass; exported so tests can drive it directly
// (cmd/cleanup only runs the ticker loop).
func (c *Cleanup) Sweep(ctx context.Context) error {
	return c.sweep(ctx)
}

func (c *Cleanup) sweep(ctx context.Context) error {
	now := c.clock.Now()
	var result *multierror.Error

	deletedRuns, err := c.store.DeleteRunsOlderThan(ctx, now.Add(-c.params.RunRetention))
	if err != nil {
		result = multierror.Append(result, err)
	} else if deletedRuns > 0 {
		c.logger.Info("retention: deleted terminal runs", zap.Int64("count", deletedRuns))
	}

	// Runs already deleted above also took their logs/artifacts with them;
	// the two sweeps below only matter for runs that survived the run
	// sweep but outlived their own, shorter, log/artifact window.
	deletedLogs, err := c.store.DeleteRunLogsOlderThan(ctx, now.Add(-c.params.LogRetention))
	if err != nil {
		result = multierror.Append(result, err)
	} else if deletedLogs > 0 {
		c.logger.Info("retention: deleted run logs", zap.Int64("count", deletedLogs))
	}

	deletedArtifacts, err := c.store.DeleteArtifactsOlderThan(ctx, now.Add(-c.params.ArtifactRetention))
	if err != nil {
		result = multierror.Append(result, err)
	} else if deletedArtifacts > 0 {
		c.logger.Info("retention: deleted artifacts", zap.Int64("count", deletedArtifacts))
	}

	if result != nil {
		c.logger.Error("retention sweep had errors", zap.Error(result))
		return result.ErrorOrNil()
	}
	return nil
}
