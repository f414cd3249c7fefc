package config

import (
	"fmt"
	"time"

	"github.com/rezkam/jobqueue/internal/env"
)

// RuntimeConfig holds the environment-driven knobs for a jobqueue runtime:
// pool sizing, the store's lease reaper, default retry behavior, and the
// backpressure controller's sweep cadence.
type RuntimeConfig struct {
	PoolSize              int           `env:"JOBQUEUE_POOL_SIZE"`
	ReaperInterval        time.Duration `env:"JOBQUEUE_REAPER_INTERVAL"`
	RetentionWindow       time.Duration `env:"JOBQUEUE_RETENTION_WINDOW"`
	DefaultAttemptTimeout time.Duration `env:"JOBQUEUE_DEFAULT_ATTEMPT_TIMEOUT"`
	BackpressureSweep     time.Duration `env:"JOBQUEUE_BACKPRESSURE_SWEEP_INTERVAL"`
	DeadLetterQueue       string        `env:"JOBQUEUE_DEAD_LETTER_QUEUE"`

	DefaultRetryStrategy    string        `env:"JOBQUEUE_DEFAULT_RETRY_STRATEGY"`
	DefaultRetryBaseDelay   time.Duration `env:"JOBQUEUE_DEFAULT_RETRY_BASE_DELAY"`
	DefaultRetryCap         time.Duration `env:"JOBQUEUE_DEFAULT_RETRY_CAP"`
	DefaultRetryMaxAttempts int           `env:"JOBQUEUE_DEFAULT_RETRY_MAX_ATTEMPTS"`

	StarvationFuse int `env:"JOBQUEUE_STARVATION_FUSE"`

	Observability ObservabilityConfig
}

// defaultRuntimeConfig returns the zero-value-safe production defaults,
// applied before env.Load overrides any that are explicitly set.
func defaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		PoolSize:                4,
		ReaperInterval:          5 * time.Second,
		RetentionWindow:         24 * time.Hour,
		DefaultAttemptTimeout:   30 * time.Second,
		BackpressureSweep:       time.Second,
		DefaultRetryStrategy:    "jittered",
		DefaultRetryBaseDelay:   100 * time.Millisecond,
		DefaultRetryCap:         time.Minute,
		DefaultRetryMaxAttempts: 5,
		StarvationFuse:          32,
		Observability:           ObservabilityConfig{OTelEnabled: true},
	}
}

// Validate rejects configurations the runtime cannot start with.
func (c *RuntimeConfig) Validate() error {
	if c.PoolSize <= 0 {
		return fmt.Errorf("config: JOBQUEUE_POOL_SIZE must be positive, got %d", c.PoolSize)
	}
	if c.ReaperInterval <= 0 {
		return fmt.Errorf("config: JOBQUEUE_REAPER_INTERVAL must be positive, got %s", c.ReaperInterval)
	}
	if c.DefaultRetryMaxAttempts <= 0 {
		return fmt.Errorf("config: JOBQUEUE_DEFAULT_RETRY_MAX_ATTEMPTS must be positive, got %d", c.DefaultRetryMaxAttempts)
	}
	if c.StarvationFuse <= 0 {
		return fmt.Errorf("config: JOBQUEUE_STARVATION_FUSE must be positive, got %d", c.StarvationFuse)
	}
	return nil
}

// LoadRuntimeConfig loads RuntimeConfig from the environment, starting from
// production defaults and overriding whichever env vars are set.
func LoadRuntimeConfig() (*RuntimeConfig, error) {
	cfg := defaultRuntimeConfig()
	if err := env.Load(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load runtime config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
