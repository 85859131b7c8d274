package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Store     StoreConfig     `mapstructure:"store" validate:"required"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Audit     AuditConfig     `mapstructure:"audit" validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig contains the health endpoint and logging settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres.
	Driver string `mapstructure:"driver" validate:"required,oneof=memory sqlite postgres"`

	// DSN is the sqlite file path or the postgres URL; unused for memory.
	DSN string `mapstructure:"dsn" validate:"required_unless=Driver memory"`
}

// LedgerConfig bounds the idempotency ledger and state tracker.
type LedgerConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// BreakerConfig holds the per-channel circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" validate:"omitempty,gt=0"`
	OpenDuration     time.Duration `mapstructure:"open_duration"`
}

// RetryConfig holds the shared retry policy.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" validate:"omitempty,gte=0"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Jitter     bool          `mapstructure:"jitter"`
}

// DeliveryConfig configures notification degradation.
type DeliveryConfig struct {
	// PrimaryChannel is the channel reminders are sent on first.
	PrimaryChannel string `mapstructure:"primary_channel"`

	// Fallbacks maps a channel to its ordered fallback channels.
	Fallbacks map[string][]string `mapstructure:"fallbacks"`

	DeferDelay  time.Duration `mapstructure:"defer_delay"`
	MaxDeferred int           `mapstructure:"max_deferred" validate:"omitempty,gt=0"`
	QueueTick   time.Duration `mapstructure:"queue_tick"`
}

// AuditConfig configures the append-only audit log.
type AuditConfig struct {
	Path        string `mapstructure:"path" validate:"required"`
	RotateBytes int64  `mapstructure:"rotate_bytes" validate:"omitempty,gt=0"`
}

// SchedulerConfig configures the one-shot trigger scheduler.
type SchedulerConfig struct {
	Tick time.Duration `mapstructure:"tick"`
}
