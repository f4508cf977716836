package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/logger"
)

// defaultSweepCron runs the sweep hourly when no schedule is configured.
const defaultSweepCron = "0 * * * *"

// StartSweeper runs periodic cache sweeps according to the cron
// expression, bounding the cache to maxConversations. Returns a cancel
// func; an invalid expression fails fast.
func (c *Cache) StartSweeper(ctx context.Context, cronExpr string, maxConversations int) (context.CancelFunc, error) {
	if cronExpr == "" {
		cronExpr = defaultSweepCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid cache sweep cron expression: %s", cronExpr)
	}
	ctx2, cancel := context.WithCancel(ctx)
	go c.runSweeper(ctx2, cronExpr, maxConversations)
	logger.Info("cache_sweeper_started", "cron", cronExpr, "max_conversations", maxConversations)
	return cancel, nil
}

// runSweeper sleeps until each next cron tick and sweeps.
func (c *Cache) runSweeper(ctx context.Context, cronExpr string, maxConversations int) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("cache_sweeper_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("cache_sweep_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if _, err := c.Sweep(maxConversations); err != nil {
				logger.Error("cache_sweep_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("cache_sweeper_stopping")
			return
		}
	}
}
