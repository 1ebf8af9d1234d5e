// Package retention purges old messages on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
)

// Purger is the store operation retention drives.
type Purger interface {
	PurgeOlderThan(cutoff int64, batchSize int, dryRun bool) (int, error)
}

// Start launches the retention scheduler when enabled. The returned cancel
// func stops it.
func Start(ctx context.Context, cfg config.RetentionConfig, st Purger) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Log.Info("retention_disabled")
		return func() {}, nil
	}

	period, err := time.ParseDuration(cfg.Period)
	if err != nil || period <= 0 {
		return nil, fmt.Errorf("invalid retention period: %q", cfg.Period)
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	logger.Log.Info("retention_enabled",
		zap.String("cron", cronExpr),
		zap.String("period", cfg.Period),
		zap.Bool("dry_run", cfg.DryRun))

	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, period, cfg, st)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until it.
func runScheduler(ctx context.Context, cronExpr string, period time.Duration, cfg config.RetentionConfig, st Purger) {
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Log.Error("retention_nexttick_failed", zap.String("cron", cronExpr), zap.Error(err))
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			RunOnce(period, cfg, st)
		case <-ctx.Done():
			logger.Log.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce purges everything older than now-period. Exposed so tests and
// admin triggers can run retention outside the schedule.
func RunOnce(period time.Duration, cfg config.RetentionConfig, st Purger) {
	cutoff := time.Now().Add(-period).Unix()
	n, err := st.PurgeOlderThan(cutoff, cfg.BatchSize, cfg.DryRun)
	if err != nil {
		logger.Log.Error("retention_run_error", zap.Error(err))
		return
	}
	logger.Log.Info("retention_run_done",
		zap.Int("purged", n),
		zap.Int64("cutoff", cutoff),
		zap.Bool("dry_run", cfg.DryRun))
}
