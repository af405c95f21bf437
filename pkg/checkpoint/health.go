package checkpoint

import (
	"context"
	"time"
)

// Health reports checkpoint subsystem status for the health endpoint.
type Health struct {
	Backend          string        `json:"backend"`
	Healthy          bool          `json:"healthy"`
	PingLatency      time.Duration `json:"ping_latency"`
	LastCheckpointAt time.Time     `json:"last_checkpoint_at,omitempty"`
	ReadTestOK       bool          `json:"read_test_ok"`
	Error            string        `json:"error,omitempty"`

	// RetryAfter hints when to re-probe a degraded backend.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	Metrics HealthMetrics `json:"metrics"`
}

// HealthMetrics aggregates the wrapper's save statistics.
type HealthMetrics struct {
	LastSaveDuration time.Duration `json:"last_save_duration"`
	LastSizeBytes    int64         `json:"last_size_bytes"`
	Failures         int64         `json:"failures"`
}

// CheckHealth pings the backend and performs a small read test against the
// given thread id (empty skips the read test).
func (c *Checkpointer) CheckHealth(ctx context.Context, probeThreadID string) *Health {
	h := &Health{
		Backend: c.saver.Kind(),
		Metrics: HealthMetrics{
			LastSaveDuration: time.Duration(c.lastSaveDuration.Load()),
			LastSizeBytes:    c.lastSizeBytes.Load(),
			Failures:         c.failures.Load(),
		},
	}
	if ns := c.lastSavedAt.Load(); ns > 0 {
		h.LastCheckpointAt = time.Unix(0, ns).UTC()
	}

	start := time.Now()
	if err := c.saver.Ping(ctx); err != nil {
		h.Error = err.Error()
		h.RetryAfter = 30 * time.Second
		return h
	}
	h.PingLatency = time.Since(start)
	h.Healthy = true

	if probeThreadID != "" {
		if _, err := c.saver.GetTuple(ctx, Config{ThreadID: probeThreadID}); err == nil {
			h.ReadTestOK = true
		} else {
			h.Error = err.Error()
		}
	} else {
		h.ReadTestOK = true
	}
	return h
}
