// Package checkpoint persists conversational state at stage boundaries.
// A pluggable Saver stores versioned, TTL-bounded checkpoint blobs keyed by
// thread id; the Checkpointer wrapper adds schema validation, compression
// by reference, delta storage, migration on read, retries and metrics.
package checkpoint

import (
	"context"
	"iter"
	"time"

	"github.com/harborlabs/bunkerplan/pkg/state"
)

// Config scopes checkpoint operations to a conversation thread.
type Config struct {
	ThreadID string `json:"thread_id"`
}

// Checkpoint is one persisted state snapshot.
type Checkpoint struct {
	ThreadID      string         `json:"thread_id"`
	ChannelValues state.State    `json:"channel_values"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	SchemaVersion string         `json:"_schema_version"`

	// IsDelta marks a checkpoint stored as a patch against the most
	// recent non-delta checkpoint of the same thread.
	IsDelta bool         `json:"_is_delta,omitempty"`
	Delta   *state.Delta `json:"_delta,omitempty"`

	SizeBytes int       `json:"size_bytes"`
	SavedAt   time.Time `json:"saved_at"`
}

// Tuple pairs a checkpoint with its thread configuration. Savers return
// tuples newest-first.
type Tuple struct {
	Config     Config         `json:"config"`
	Checkpoint *Checkpoint    `json:"checkpoint"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ListOptions bounds a List call.
type ListOptions struct {
	// Limit caps the number of tuples yielded. Zero means no cap.
	Limit int
}

// Saver is the pluggable persistence contract. Implementations order
// writes per thread and bound entries by TTL.
type Saver interface {
	// Put stores a checkpoint for the thread. Writes for the same thread
	// are serialized.
	Put(ctx context.Context, cfg Config, ckpt *Checkpoint) error

	// PutWrites records pending per-task writes alongside the latest
	// checkpoint of the thread.
	PutWrites(ctx context.Context, cfg Config, writes state.Update, taskID string) error

	// GetTuple returns the most recent checkpoint tuple for the thread,
	// or nil when none exists. Absence is a normal case, not an error.
	GetTuple(ctx context.Context, cfg Config) (*Tuple, error)

	// List yields checkpoint tuples newest-first, lazily, bounded by
	// opts.Limit.
	List(ctx context.Context, cfg Config, opts ListOptions) iter.Seq[*Tuple]

	// DeleteThread removes all checkpoints of a thread.
	DeleteThread(ctx context.Context, threadID string) error

	// Ping checks backend availability.
	Ping(ctx context.Context) error

	// Kind names the backend ("memory", "redis").
	Kind() string

	// Close releases backend resources.
	Close() error
}
