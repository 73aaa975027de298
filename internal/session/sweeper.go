package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is used when StartSweeper is given a non-positive interval.
const DefaultSweepInterval = 5 * time.Minute

// ExpireCallback is called for every session removed by the sweeper.
type ExpireCallback func(sessionID string)

// SweeperConfig controls session expiry.
type SweeperConfig struct {
	Interval           time.Duration
	IdleTTL            time.Duration
	CompletedRetention time.Duration
	// AfterSweep, if set, runs on every tick after eviction, e.g. to prune
	// the audit log.
	AfterSweep func(ctx context.Context)
}

// StartSweeper runs a background goroutine that periodically evicts
// abandoned and long-completed sessions. It stops when ctx is canceled.
func StartSweeper(ctx context.Context, store *Store, cfg SweeperConfig, onExpire ExpireCallback) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started",
			"interval", interval,
			"idle_ttl", cfg.IdleTTL,
			"completed_retention", cfg.CompletedRetention)

		for {
			select {
			case <-ticker.C:
				sweepOnce(store, cfg, onExpire)
				if cfg.AfterSweep != nil {
					cfg.AfterSweep(ctx)
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepOnce(store *Store, cfg SweeperConfig, onExpire ExpireCallback) int {
	removed := store.Sweep(cfg.IdleTTL, cfg.CompletedRetention)
	if len(removed) == 0 {
		return 0
	}

	for _, id := range removed {
		slog.Info("Session sweeper evicted session", "session_id", id)
		if onExpire != nil {
			onExpire(id)
		}
	}
	slog.Info("Session sweeper cleanup completed", "evicted", len(removed), "remaining", store.Len())
	return len(removed)
}
