package checkpoint

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/harborlabs/bunkerplan/pkg/state"
)

// maxHistory bounds per-thread checkpoint history.
const maxHistory = 20

// MemorySaver is the in-process Saver. It is the fallback when no durable
// backend is configured and the default for tests.
type MemorySaver struct {
	mu      sync.RWMutex
	threads map[string]*threadHistory

	ttl           time.Duration
	refreshOnRead bool
	clock         func() time.Time
}

type threadHistory struct {
	tuples   []*Tuple // newest first
	writes   map[string]state.Update
	deadline time.Time
}

// NewMemorySaver creates an in-memory saver. A zero TTL disables expiry.
func NewMemorySaver(ttl time.Duration, refreshOnRead bool) *MemorySaver {
	return &MemorySaver{
		threads:       make(map[string]*threadHistory),
		ttl:           ttl,
		refreshOnRead: refreshOnRead,
		clock:         time.Now,
	}
}

func (m *MemorySaver) Put(ctx context.Context, cfg Config, ckpt *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.live(cfg.ThreadID)
	if h == nil {
		h = &threadHistory{writes: make(map[string]state.Update)}
		m.threads[cfg.ThreadID] = h
	}

	h.tuples = append([]*Tuple{{Config: cfg, Checkpoint: ckpt, Metadata: ckpt.Metadata}}, h.tuples...)
	if len(h.tuples) > maxHistory {
		h.tuples = h.tuples[:maxHistory]
	}
	m.touch(h)
	return nil
}

func (m *MemorySaver) PutWrites(ctx context.Context, cfg Config, writes state.Update, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.live(cfg.ThreadID)
	if h == nil {
		h = &threadHistory{writes: make(map[string]state.Update)}
		m.threads[cfg.ThreadID] = h
	}
	h.writes[taskID] = writes
	m.touch(h)
	return nil
}

func (m *MemorySaver) GetTuple(ctx context.Context, cfg Config) (*Tuple, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.live(cfg.ThreadID)
	if h == nil || len(h.tuples) == 0 {
		return nil, nil
	}
	if m.refreshOnRead {
		m.touch(h)
	}
	return h.tuples[0], nil
}

func (m *MemorySaver) List(ctx context.Context, cfg Config, opts ListOptions) iter.Seq[*Tuple] {
	return func(yield func(*Tuple) bool) {
		m.mu.RLock()
		h := m.live(cfg.ThreadID)
		var tuples []*Tuple
		if h != nil {
			tuples = append(tuples, h.tuples...)
		}
		m.mu.RUnlock()

		for i, t := range tuples {
			if opts.Limit > 0 && i >= opts.Limit {
				return
			}
			if !yield(t) {
				return
			}
		}
	}
}

func (m *MemorySaver) DeleteThread(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
	return nil
}

func (m *MemorySaver) Ping(ctx context.Context) error { return nil }
func (m *MemorySaver) Kind() string                   { return "memory" }
func (m *MemorySaver) Close() error                   { return nil }

// live returns the thread history, expiring it first when past deadline.
// Callers hold at least a read lock; expiry requires the write lock, so
// live only treats expired entries as absent and Put overwrites them.
func (m *MemorySaver) live(threadID string) *threadHistory {
	h, ok := m.threads[threadID]
	if !ok {
		return nil
	}
	if !h.deadline.IsZero() && m.clock().After(h.deadline) {
		return nil
	}
	return h
}

func (m *MemorySaver) touch(h *threadHistory) {
	if m.ttl > 0 {
		h.deadline = m.clock().Add(m.ttl)
	}
}

// SetClock overrides the time source. Test helper.
func (m *MemorySaver) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}
