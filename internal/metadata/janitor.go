package metadata

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const DefaultPurgeInterval = time.Hour

// RunJanitor deletes expired cache entries every interval until ctx is cancelled.
// Lookups already ignore expired entries; this only reclaims storage.
func RunJanitor(ctx context.Context, cache CacheRepository, interval time.Duration, logger *zap.Logger) {
	if cache == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := cache.PurgeExpired(ctx, now.UTC())
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("metadata cache purge failed", zap.Error(err))
				}
				continue
			}
			if removed > 0 {
				logger.Info("metadata cache purged", zap.Int64("removed", removed))
			}
		}
	}
}
