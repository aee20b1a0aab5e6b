package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/JaimeStill/compass/pkg/lifecycle"
)

// StartPurge removes expired entries from store every interval until the
// coordinator shuts down.
func StartPurge(lc *lifecycle.Coordinator, store Store, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	logger = logger.With("system", "cache")

	lc.Go("cache.purge", func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := store.Purge(ctx)
				if err != nil {
					logger.Error("cache purge failed", "error", err)
					continue
				}
				if n > 0 {
					logger.Info("cache purged", "removed", n)
				}
			}
		}
	})
}
