package checkpoint

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harborlabs/bunkerplan/pkg/config"
	"github.com/harborlabs/bunkerplan/pkg/observability"
	"github.com/harborlabs/bunkerplan/pkg/oerr"
	"github.com/harborlabs/bunkerplan/pkg/state"
)

// Checkpointer wraps a Saver with the full persistence pipeline. On put:
// validate, compress, optionally delta, stamp the schema version, then
// retry the write with linear backoff. On get: reconstruct from delta,
// decompress, migrate and validate.
type Checkpointer struct {
	saver      Saver
	validator  *state.Validator
	compressor *state.Compressor
	migrator   *state.Migrator

	maxAttempts  int
	retryBackoff time.Duration
	deltaSavings float64

	mu sync.Mutex
	// lastCompressed holds the most recent compressed full state per
	// thread, the delta base for the next put.
	lastCompressed map[string]state.State

	failures         atomic.Int64
	lastSaveDuration atomic.Int64 // nanos
	lastSizeBytes    atomic.Int64
	lastSavedAt      atomic.Int64 // unix nanos
}

// NewCheckpointer assembles the wrapper. compressor may be nil to disable
// compression and delta storage (tests only).
func NewCheckpointer(saver Saver, validator *state.Validator, compressor *state.Compressor,
	migrator *state.Migrator, cfg config.CheckpointConfig, stateCfg config.StateConfig) *Checkpointer {
	if validator == nil {
		validator = state.NewValidator(nil)
	}
	if migrator == nil {
		migrator = state.NewMigrator(validator)
	}
	return &Checkpointer{
		saver:          saver,
		validator:      validator,
		compressor:     compressor,
		migrator:       migrator,
		maxAttempts:    cfg.MaxAttempts,
		retryBackoff:   cfg.RetryBackoff,
		deltaSavings:   stateCfg.DeltaSavingsThreshold,
		lastCompressed: make(map[string]state.State),
	}
}

// Saver exposes the wrapped backend.
func (c *Checkpointer) Saver() Saver { return c.saver }

// FailureCount returns the number of puts that exhausted all attempts.
func (c *Checkpointer) FailureCount() int64 { return c.failures.Load() }

// Put persists the state for the thread. The write is prepared (validated,
// compressed, possibly reduced to a delta) and retried up to the configured
// attempts with linear backoff.
func (c *Checkpointer) Put(ctx context.Context, threadID string, s state.State, metadata map[string]any) error {
	tracer := observability.GetTracer("bunkerplan.checkpoint")
	ctx, span := tracer.Start(ctx, observability.SpanCheckpointPut)
	defer span.End()

	start := time.Now()

	// Writes for the same thread must be ordered; the lock also guards
	// the delta base.
	c.mu.Lock()
	defer c.mu.Unlock()

	ckpt, compressed := c.prepare(ctx, threadID, s, metadata)

	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err = c.saver.Put(ctx, Config{ThreadID: threadID}, ckpt)
		if err == nil {
			break
		}
		slog.Warn("Checkpoint put attempt failed",
			"thread", threadID, "attempt", attempt, "max_attempts", c.maxAttempts, "error", err)
		if attempt < c.maxAttempts {
			select {
			case <-time.After(c.retryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				err = ctx.Err()
				attempt = c.maxAttempts
			}
		}
	}

	duration := time.Since(start)
	pm := observability.GetGlobalMetrics()

	if err != nil {
		c.failures.Add(1)
		if pm != nil {
			pm.CheckpointPuts.WithLabelValues("failure").Inc()
			pm.CheckpointSaveFails.Inc()
		}
		return oerr.Wrap(oerr.CodeCheckpointPutFailed, "Checkpointer", "Put",
			"all checkpoint put attempts failed for thread "+threadID, err)
	}

	// The delta base must stay the most recent full checkpoint, so it only
	// advances on non-delta saves.
	if !ckpt.IsDelta {
		c.lastCompressed[threadID] = compressed
	}
	c.lastSaveDuration.Store(int64(duration))
	c.lastSizeBytes.Store(int64(ckpt.SizeBytes))
	c.lastSavedAt.Store(time.Now().UnixNano())

	if pm != nil {
		pm.CheckpointPuts.WithLabelValues("success").Inc()
		pm.CheckpointSizeBytes.Set(float64(ckpt.SizeBytes))
	}
	slog.Debug("Checkpoint saved",
		"thread", threadID, "bytes", ckpt.SizeBytes, "delta", ckpt.IsDelta, "duration", duration)
	return nil
}

// prepare builds the checkpoint blob: validation warnings are logged, the
// state is compressed when a compressor is configured, and the result is
// stored as a delta when the savings clear the threshold. Compression
// failures degrade to storing the raw state.
func (c *Checkpointer) prepare(ctx context.Context, threadID string, s state.State, metadata map[string]any) (*Checkpoint, state.State) {
	if res := c.validator.Validate(s); !res.Valid {
		slog.Warn("Checkpointing state with validation errors", "thread", threadID, "errors", res.Errors)
	}

	compressed := s
	if c.compressor != nil {
		out, stats, err := c.compressor.Compress(ctx, s)
		if err != nil {
			slog.Warn("State compression failed, storing raw state", "thread", threadID, "error", err)
			compressed = s.Clone()
		} else {
			compressed = out
			if stats.ReferencesCreated > 0 {
				slog.Debug("Compressed state for checkpoint",
					"thread", threadID, "references", stats.ReferencesCreated, "saved_bytes", stats.SavedBytes)
			}
		}
	} else {
		compressed = s.Clone()
	}
	compressed[state.VersionField] = state.CurrentVersion

	ckpt := &Checkpoint{
		ThreadID:      threadID,
		ChannelValues: compressed,
		Metadata:      metadata,
		SchemaVersion: state.CurrentVersion,
		SavedAt:       time.Now().UTC(),
	}

	if c.compressor != nil {
		if base, ok := c.lastCompressed[threadID]; ok {
			if d := state.ComputeDelta(base, compressed); !d.IsEmpty() && d.SavingsPercent >= c.deltaSavings {
				ckpt.IsDelta = true
				ckpt.Delta = d
				ckpt.ChannelValues = nil
			}
		}
	}

	if size, err := sizeOf(ckpt); err == nil {
		ckpt.SizeBytes = size
	}
	return ckpt, compressed
}

// Get returns the thread's latest state, fully reconstructed: delta applied,
// references resolved, schema migrated. A missing checkpoint returns
// (nil, nil).
func (c *Checkpointer) Get(ctx context.Context, threadID string) (state.State, error) {
	t, err := c.GetTuple(ctx, threadID)
	if err != nil || t == nil {
		return nil, err
	}
	return t.Checkpoint.ChannelValues, nil
}

// GetTuple returns the thread's latest checkpoint tuple with the state
// reconstructed. Validation warnings on read are logged, never fatal.
func (c *Checkpointer) GetTuple(ctx context.Context, threadID string) (*Tuple, error) {
	tracer := observability.GetTracer("bunkerplan.checkpoint")
	ctx, span := tracer.Start(ctx, observability.SpanCheckpointGet)
	defer span.End()

	cfg := Config{ThreadID: threadID}
	t, err := c.saver.GetTuple(ctx, cfg)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeCheckpointReadFailed, "Checkpointer", "GetTuple",
			"failed to read checkpoint for thread "+threadID, err)
	}
	if t == nil {
		return nil, nil
	}

	s := t.Checkpoint.ChannelValues
	if t.Checkpoint.IsDelta {
		base := c.findBase(ctx, cfg)
		if base == nil {
			return nil, oerr.New(oerr.CodeCheckpointReadFailed, "Checkpointer", "GetTuple",
				"delta checkpoint has no base checkpoint for thread "+threadID)
		}
		s = state.ApplyDelta(base, t.Checkpoint.Delta)
	}

	if c.compressor != nil {
		out, report, err := c.compressor.Decompress(ctx, s)
		if err != nil {
			slog.Warn("Decompression failed, returning state with reference strings",
				"thread", threadID, "error", err)
		} else {
			if len(report.MissingReferences) > 0 {
				slog.Warn("Some references could not be resolved",
					"thread", threadID, "missing", report.MissingReferences)
			}
			s = out
		}
	}

	migrated, err := c.migrator.AutoMigrate(s)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeCheckpointReadFailed, "Checkpointer", "GetTuple",
			"failed to migrate checkpointed state for thread "+threadID, err)
	}
	s = migrated.State
	if !migrated.Validation.Valid {
		slog.Warn("Loaded state has validation errors",
			"thread", threadID, "errors", migrated.Validation.Errors)
	}

	out := *t
	ckpt := *t.Checkpoint
	ckpt.ChannelValues = s
	ckpt.IsDelta = false
	ckpt.Delta = nil
	out.Checkpoint = &ckpt
	return &out, nil
}

// findBase returns the most recent non-delta checkpointed state of the
// thread, the reconstruction base for delta checkpoints.
func (c *Checkpointer) findBase(ctx context.Context, cfg Config) state.State {
	for t := range c.saver.List(ctx, cfg, ListOptions{Limit: maxHistory}) {
		if !t.Checkpoint.IsDelta {
			return t.Checkpoint.ChannelValues
		}
	}
	return nil
}

// List exposes the saver's lazy checkpoint sequence, newest first.
func (c *Checkpointer) List(ctx context.Context, threadID string, opts ListOptions) iter.Seq[*Tuple] {
	return c.saver.List(ctx, Config{ThreadID: threadID}, opts)
}

// DeleteThread removes a thread's checkpoints and its delta base.
func (c *Checkpointer) DeleteThread(ctx context.Context, threadID string) error {
	c.mu.Lock()
	delete(c.lastCompressed, threadID)
	c.mu.Unlock()
	return c.saver.DeleteThread(ctx, threadID)
}

// Close releases the underlying saver.
func (c *Checkpointer) Close() error { return c.saver.Close() }

func sizeOf(v any) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}
