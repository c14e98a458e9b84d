package agent

import (
	"context"
	"log/slog"
	"time"
)

// DefaultTTLInterval is how often the TTL worker sweeps idle sessions.
const DefaultTTLInterval = time.Minute

// EvictCallback is called after a session is removed by the TTL worker.
type EvictCallback func(sessionID string)

// StartTTLWorker runs a background goroutine that periodically saves and
// evicts sessions idle for longer than ttl. It stops when ctx is done.
func StartTTLWorker(ctx context.Context, reg *Registry, ttl, interval time.Duration, onEvict EvictCallback) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultTTLInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				SweepIdle(ctx, reg, ttl, time.Now(), onEvict)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

// SweepIdle saves and evicts every session idle since before now-ttl. A
// session with an empty transcript is evicted without saving. It returns
// the number of evicted sessions.
func SweepIdle(ctx context.Context, reg *Registry, ttl time.Duration, now time.Time, onEvict EvictCallback) int {
	idle := reg.Idle(ttl, now)
	if len(idle) == 0 {
		return 0
	}
	slog.Info("TTL worker found idle sessions", "count", len(idle))

	evicted := 0
	for id, c := range idle {
		if snap, err := c.Snapshot(); err == nil && snap.Session.Transcript.Len() > 0 && c.files != nil {
			if path, err := c.Save(ctx); err != nil {
				slog.Warn("TTL worker failed to save session before eviction",
					"session_id", id,
					"error", err)
			} else {
				slog.Info("TTL worker archived session", "session_id", id, "path", path)
			}
		}

		if !reg.evict(id, c) {
			continue
		}
		evicted++
		if onEvict != nil {
			onEvict(id)
		}
	}

	slog.Info("TTL worker cleanup completed", "evicted", evicted)
	return evicted
}
