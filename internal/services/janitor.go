package services

import (
	"context"
	"time"

	"github.com/chatpd/orchestrator/internal/cache"
	"github.com/chatpd/orchestrator/internal/metrics"
	"github.com/sirupsen/logrus"
)

// RunCacheJanitor removes expired cache entries every interval until ctx is done.
func RunCacheJanitor(ctx context.Context, sweeper cache.Sweeper, interval time.Duration, logger *logrus.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.WithField("interval", interval.String()).Info("Cache janitor started")
	for {
		select {
		case <-ctx.Done():
			logger.Info("Cache janitor stopped")
			return
		case <-ticker.C:
			sweepOnce(ctx, sweeper, logger)
		}
	}
}

func sweepOnce(ctx context.Context, sweeper cache.Sweeper, logger *logrus.Logger) {
	removed, err := sweeper.Sweep(ctx)
	if err != nil {
		metrics.CacheOperations.WithLabelValues("sweep", "error").Inc()
		logger.WithError(err).Warn("Cache sweep failed")
		return
	}
	metrics.CacheOperations.WithLabelValues("sweep", "ok").Inc()
	if removed > 0 {
		logger.WithField("removed", removed).Debug("Expired cache entries removed")
	}
}
