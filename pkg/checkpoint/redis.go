package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harborlabs/bunkerplan/pkg/state"
)

const (
	checkpointKeyPrefix = "bunkerplan:ckpt:"
	writesKeyPrefix     = "bunkerplan:ckpt-writes:"
)

// RedisSaver is the durable Saver. Each thread maps to a Redis list of
// serialized tuples, newest at the head, trimmed to maxHistory and bounded
// by TTL.
type RedisSaver struct {
	client        *redis.Client
	ttl           time.Duration
	refreshOnRead bool
}

// NewRedisSaver connects to Redis at the given URL. The optional token
// overrides the URL password.
func NewRedisSaver(url, token string, ttl time.Duration, refreshOnRead bool) (*RedisSaver, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid checkpoint backend url: %w", err)
	}
	if token != "" {
		opts.Password = token
	}
	return &RedisSaver{
		client:        redis.NewClient(opts),
		ttl:           ttl,
		refreshOnRead: refreshOnRead,
	}, nil
}

// NewRedisSaverFromClient wraps an existing client. Used by tests.
func NewRedisSaverFromClient(client *redis.Client, ttl time.Duration, refreshOnRead bool) *RedisSaver {
	return &RedisSaver{client: client, ttl: ttl, refreshOnRead: refreshOnRead}
}

// SupportsListIndexing probes the backend for the list commands the saver
// depends on. Backends without them fall back to in-memory persistence.
func (r *RedisSaver) SupportsListIndexing(ctx context.Context) bool {
	probe := checkpointKeyPrefix + "feature-probe"
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, probe, "1")
	pipe.LRange(ctx, probe, 0, 0)
	pipe.Del(ctx, probe)
	_, err := pipe.Exec(ctx)
	return err == nil
}

func (r *RedisSaver) key(threadID string) string {
	return checkpointKeyPrefix + threadID
}

func (r *RedisSaver) Put(ctx context.Context, cfg Config, ckpt *Checkpoint) error {
	blob, err := json.Marshal(&Tuple{Config: cfg, Checkpoint: ckpt, Metadata: ckpt.Metadata})
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint tuple: %w", err)
	}

	key := r.key(cfg.ThreadID)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, blob)
	pipe.LTrim(ctx, key, 0, maxHistory-1)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisSaver) PutWrites(ctx context.Context, cfg Config, writes state.Update, taskID string) error {
	blob, err := json.Marshal(writes)
	if err != nil {
		return fmt.Errorf("failed to serialize pending writes: %w", err)
	}

	key := writesKeyPrefix + cfg.ThreadID
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, taskID, blob)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisSaver) GetTuple(ctx context.Context, cfg Config) (*Tuple, error) {
	key := r.key(cfg.ThreadID)
	blob, err := r.client.LIndex(ctx, key, 0).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint for thread %s: %w", cfg.ThreadID, err)
	}

	var t Tuple
	if err := json.Unmarshal(blob, &t); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint for thread %s: %w", cfg.ThreadID, err)
	}

	if r.refreshOnRead && r.ttl > 0 {
		if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
			slog.Warn("Failed to refresh checkpoint TTL", "thread", cfg.ThreadID, "error", err)
		}
	}
	return &t, nil
}

func (r *RedisSaver) List(ctx context.Context, cfg Config, opts ListOptions) iter.Seq[*Tuple] {
	return func(yield func(*Tuple) bool) {
		stop := int64(-1)
		if opts.Limit > 0 {
			stop = int64(opts.Limit) - 1
		}
		blobs, err := r.client.LRange(ctx, r.key(cfg.ThreadID), 0, stop).Result()
		if err != nil {
			slog.Warn("Failed to list checkpoints", "thread", cfg.ThreadID, "error", err)
			return
		}
		for _, blob := range blobs {
			var t Tuple
			if err := json.Unmarshal([]byte(blob), &t); err != nil {
				slog.Warn("Skipping undecodable checkpoint", "thread", cfg.ThreadID, "error", err)
				continue
			}
			if !yield(&t) {
				return
			}
		}
	}
}

func (r *RedisSaver) DeleteThread(ctx context.Context, threadID string) error {
	return r.client.Del(ctx, r.key(threadID), writesKeyPrefix+threadID).Err()
}

func (r *RedisSaver) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisSaver) Kind() string { return "redis" }

func (r *RedisSaver) Close() error { return r.client.Close() }
