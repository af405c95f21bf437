package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// FromEnv builds a Config from environment variables, loading a .env file
// first when one is present.
func FromEnv() *Config {
	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded environment from .env file")
	}

	cfg := &Config{}

	cfg.Checkpoint.BackendURL = os.Getenv("BUNKERPLAN_CHECKPOINT_URL")
	cfg.Checkpoint.BackendToken = os.Getenv("BUNKERPLAN_CHECKPOINT_TOKEN")
	cfg.Checkpoint.TTLMinutes = envInt("BUNKERPLAN_CHECKPOINT_TTL_MINUTES", 0)
	if v, ok := envBool("BUNKERPLAN_CHECKPOINT_REFRESH_ON_READ"); ok {
		cfg.Checkpoint.RefreshOnRead = &v
	}
	cfg.Checkpoint.MaxAttempts = envInt("BUNKERPLAN_CHECKPOINT_MAX_ATTEMPTS", 0)
	cfg.Checkpoint.RetryBackoff = envDuration("BUNKERPLAN_CHECKPOINT_RETRY_BACKOFF", 0)

	cfg.Executor.PlanTimeout = envDuration("BUNKERPLAN_PLAN_TIMEOUT", 0)
	if v, ok := envBool("BUNKERPLAN_CONTINUE_ON_ERROR"); ok {
		cfg.Executor.ContinueOnError = v
	}

	cfg.State.InlineSizeThreshold = envInt("BUNKERPLAN_INLINE_SIZE_THRESHOLD", 0)
	cfg.State.DeltaSavingsThreshold = envFloat("BUNKERPLAN_DELTA_SAVINGS_THRESHOLD", 0)

	cfg.LLM.Provider = os.Getenv("BUNKERPLAN_LLM_PROVIDER")
	cfg.LLM.Model = os.Getenv("BUNKERPLAN_LLM_MODEL")
	cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.LLM.BaseURL = os.Getenv("BUNKERPLAN_LLM_BASE_URL")

	cfg.Logging.Level = os.Getenv("BUNKERPLAN_LOG_LEVEL")
	cfg.Logging.Format = os.Getenv("BUNKERPLAN_LOG_FORMAT")

	cfg.SetDefaults()
	return cfg
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("Ignoring non-integer environment value", "key", key)
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		slog.Warn("Ignoring non-numeric environment value", "key", key)
	}
	return fallback
}

func envBool(key string) (bool, bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b, true
		}
		slog.Warn("Ignoring non-boolean environment value", "key", key)
	}
	return false, false
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
		slog.Warn("Ignoring unparsable duration environment value", "key", key)
	}
	return fallback
}

// NewLogger builds a slog.Logger from the logging configuration.
func (c *LoggingConfig) NewLogger() *slog.Logger {
	var level slog.Level
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
