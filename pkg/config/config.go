// Package config holds the orchestration engine configuration. Values are
// declared in YAML-taggable structs, filled from the environment, and
// completed by SetDefaults so zero configuration is always runnable.
package config

import (
	"fmt"
	"time"
)

const (
	DefaultCheckpointTTLMinutes  = 60
	DefaultMaxCheckpointAttempts = 3
	DefaultRetryBackoff          = 100 * time.Millisecond
	DefaultPlanTimeout           = 5 * time.Minute
	DefaultInlineSizeThreshold   = 4096
	DefaultDeltaSavingsThreshold = 30.0
	DefaultReferenceTTL          = 60 * time.Minute
)

// Config is the root configuration for the engine.
type Config struct {
	Checkpoint CheckpointConfig `yaml:"checkpoint,omitempty"`
	Executor   ExecutorConfig   `yaml:"executor,omitempty"`
	State      StateConfig      `yaml:"state,omitempty"`
	LLM        LLMConfig        `yaml:"llm,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
}

// CheckpointConfig selects and tunes the checkpoint backend.
type CheckpointConfig struct {
	// BackendURL selects the durable KV backend (redis URL). Empty falls
	// back to in-memory.
	BackendURL string `yaml:"backend_url,omitempty"`

	// BackendToken is the auth token for the durable backend, if any.
	BackendToken string `yaml:"backend_token,omitempty"`

	// TTLMinutes bounds checkpoint lifetime. Default: 60.
	TTLMinutes int `yaml:"ttl_minutes,omitempty"`

	// RefreshOnRead renews the TTL whenever a checkpoint is read.
	// Default: true.
	RefreshOnRead *bool `yaml:"refresh_on_read,omitempty"`

	// MaxAttempts bounds put retries. Default: 3.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// RetryBackoff is the linear backoff unit between put attempts.
	// Default: 100ms.
	RetryBackoff time.Duration `yaml:"retry_backoff,omitempty"`
}

// ExecutorConfig tunes plan execution.
type ExecutorConfig struct {
	// PlanTimeout is the per-plan default, overridable per plan.
	PlanTimeout time.Duration `yaml:"plan_timeout,omitempty"`

	// ContinueOnError records required-stage failures instead of aborting.
	ContinueOnError bool `yaml:"continue_on_error,omitempty"`
}

// StateConfig tunes state compression and delta storage.
type StateConfig struct {
	// InlineSizeThreshold is the serialized byte size above which a
	// referenceable field is moved to the reference store. Default: 4096.
	InlineSizeThreshold int `yaml:"inline_size_threshold,omitempty"`

	// DeltaSavingsThreshold is the minimum savings percent at which a
	// checkpoint is stored as a delta. Default: 30.
	DeltaSavingsThreshold float64 `yaml:"delta_savings_threshold,omitempty"`

	// ReferenceTTL bounds reference store entries. Default: 60m.
	ReferenceTTL time.Duration `yaml:"reference_ttl,omitempty"`
}

// LLMConfig configures the planning/synthesis LLM provider.
type LLMConfig struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	// Level: debug, info, warn, error. Default: info.
	Level string `yaml:"level,omitempty"`

	// Format: text or json. Default: text.
	Format string `yaml:"format,omitempty"`
}

// SetDefaults fills unset fields with default values.
func (c *Config) SetDefaults() {
	if c.Checkpoint.TTLMinutes <= 0 {
		c.Checkpoint.TTLMinutes = DefaultCheckpointTTLMinutes
	}
	if c.Checkpoint.RefreshOnRead == nil {
		v := true
		c.Checkpoint.RefreshOnRead = &v
	}
	if c.Checkpoint.MaxAttempts <= 0 {
		c.Checkpoint.MaxAttempts = DefaultMaxCheckpointAttempts
	}
	if c.Checkpoint.RetryBackoff <= 0 {
		c.Checkpoint.RetryBackoff = DefaultRetryBackoff
	}
	if c.Executor.PlanTimeout <= 0 {
		c.Executor.PlanTimeout = DefaultPlanTimeout
	}
	if c.State.InlineSizeThreshold <= 0 {
		c.State.InlineSizeThreshold = DefaultInlineSizeThreshold
	}
	if c.State.DeltaSavingsThreshold <= 0 {
		c.State.DeltaSavingsThreshold = DefaultDeltaSavingsThreshold
	}
	if c.State.ReferenceTTL <= 0 {
		c.State.ReferenceTTL = DefaultReferenceTTL
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Checkpoint.TTLMinutes < 0 {
		return fmt.Errorf("checkpoint ttl_minutes cannot be negative")
	}
	if c.State.DeltaSavingsThreshold > 100 {
		return fmt.Errorf("delta_savings_threshold cannot exceed 100 percent")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown logging format '%s'", c.Logging.Format)
	}
	return nil
}

// CheckpointTTL returns the checkpoint TTL as a duration.
func (c *CheckpointConfig) CheckpointTTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// ShouldRefreshOnRead reports whether reads renew the TTL.
func (c *CheckpointConfig) ShouldRefreshOnRead() bool {
	return c.RefreshOnRead == nil || *c.RefreshOnRead
}
