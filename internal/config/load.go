package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. ORCH_DATABASE_URL.
const EnvPrefix = "ORCH"

var defaults = map[string]any{
	"server.port":                    8080,
	"server.log_level":               "info",
	"server.shutdown_timeout":        10 * time.Second,
	"database.driver":                "postgres",
	"database.path":                  "orchestrator.db",
	"database.max_open_conns":        10,
	"database.max_idle_conns":        5,
	"database.conn_max_lifetime":     5 * time.Minute,
	"database.auto_migrate":          false,
	"queue.driver":                   "redis",
	"queue.redis_url":                "redis://localhost:6379/0",
	"queue.name":                     "tasks",
	"queue.buffer_size":              1000,
	"queue.poll_timeout":             5 * time.Second,
	"llm.provider":                   "mock",
	"llm.gemini_model":               "gemini-2.0-flash",
	"llm.openai_model":               "gpt-4o-mini",
	"llm.request_timeout":            60 * time.Second,
	"llm.max_retries":                2,
	"llm.retry_delay":                time.Second,
	"llm.requests_per_second":        0.0,
	"llm.burst":                      1,
	"llm.mock_latency":               time.Second,
	"llm.mock_failure_rate":          0.03,
	"task.worker_count":              2,
	"task.default_max_attempts":      3,
	"scheduler.poll_interval":        2 * time.Second,
	"scheduler.jitter":               250 * time.Millisecond,
	"scheduler.batch_size":           10,
	"scheduler.backoff_min":          time.Second,
	"scheduler.backoff_max":          15 * time.Second,
	"reconciler.enabled":             true,
	"reconciler.schedule":            "@every 1m",
	"reconciler.stale_queued_after":  10 * time.Minute,
	"reconciler.stuck_running_after": time.Duration(0),
	"reconciler.batch_size":          50,
	"telemetry.enabled":              false,
	"telemetry.exporter":             "stdout",
	"telemetry.service_name":         "llm-orchestrator",
}

// keys without a default still need to be known to viper so that
// AutomaticEnv picks them up during Unmarshal.
var envOnlyKeys = []string{
	"database.url",
	"llm.gemini_api_key",
	"llm.openai_api_key",
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
