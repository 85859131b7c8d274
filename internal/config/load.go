package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional config
// file. Environment variables (prefix TASKMESH, e.g. TASKMESH_SERVER_PORT)
// take precedence over file values. Returns a populated Config or an error
// when loading or validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("taskmesh")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/taskmesh")

	v.SetEnvPrefix("TASKMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; env and defaults cover everything.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")

	v.SetDefault("ledger.ttl", 24*time.Hour)
	v.SetDefault("ledger.sweep_interval", 10*time.Minute)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.open_duration", 30*time.Second)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 10*time.Second)
	v.SetDefault("retry.jitter", true)

	v.SetDefault("delivery.primary_channel", "email")
	v.SetDefault("delivery.fallbacks", map[string][]string{
		"email": {"in_app", "push"},
	})
	v.SetDefault("delivery.defer_delay", 5*time.Minute)
	v.SetDefault("delivery.max_deferred", 3)
	v.SetDefault("delivery.queue_tick", 30*time.Second)

	v.SetDefault("audit.path", "audit.log")
	v.SetDefault("audit.rotate_bytes", int64(10*1024*1024))

	v.SetDefault("scheduler.tick", 5*time.Second)
}
