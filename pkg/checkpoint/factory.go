package checkpoint

import (
	"context"
	"log/slog"
	"time"

	"github.com/harborlabs/bunkerplan/pkg/config"
)

// NewSaver selects a backend from configuration: a configured durable KV
// that passes the feature probe wins, anything else falls back to
// in-memory. Setup failures degrade rather than abort.
func NewSaver(ctx context.Context, cfg config.CheckpointConfig) Saver {
	ttl := cfg.CheckpointTTL()
	refresh := cfg.ShouldRefreshOnRead()

	if cfg.BackendURL == "" {
		slog.Info("No checkpoint backend configured, using in-memory saver")
		return NewMemorySaver(ttl, refresh)
	}

	saver, err := NewRedisSaver(cfg.BackendURL, cfg.BackendToken, ttl, refresh)
	if err != nil {
		slog.Warn("Invalid checkpoint backend configuration, falling back to in-memory", "error", err)
		return NewMemorySaver(ttl, refresh)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := saver.Ping(pingCtx); err != nil {
		slog.Warn("Checkpoint backend unreachable, falling back to in-memory", "error", err)
		_ = saver.Close()
		return NewMemorySaver(ttl, refresh)
	}
	if !saver.SupportsListIndexing(pingCtx) {
		slog.Warn("Checkpoint backend lacks list indexing, falling back to in-memory")
		_ = saver.Close()
		return NewMemorySaver(ttl, refresh)
	}

	slog.Info("Using durable checkpoint backend", "kind", saver.Kind(), "ttl", ttl)
	return saver
}
