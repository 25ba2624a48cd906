package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database" validate:"required"`
	Queue      QueueConfig      `mapstructure:"queue" validate:"required"`
	LLM        LLMConfig        `mapstructure:"llm" validate:"required"`
	Task       TaskConfig       `mapstructure:"task" validate:"required"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler" validate:"required"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"required,oneof=postgres sqlite memory"`
	URL             string        `mapstructure:"url" validate:"required_if=Driver postgres"`
	Path            string        `mapstructure:"path" validate:"required_if=Driver sqlite"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// QueueConfig selects and configures the dispatch transport.
type QueueConfig struct {
	Driver      string        `mapstructure:"driver" validate:"required,oneof=redis memory"`
	RedisURL    string        `mapstructure:"redis_url" validate:"required_if=Driver redis"`
	Name        string        `mapstructure:"name" validate:"required"`
	BufferSize  int           `mapstructure:"buffer_size" validate:"gte=1"`
	PollTimeout time.Duration `mapstructure:"poll_timeout" validate:"gt=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider" validate:"required,oneof=mock gemini openai"`
	GeminiAPIKey      string        `mapstructure:"gemini_api_key" validate:"required_if=Provider gemini"`
	GeminiModel       string        `mapstructure:"gemini_model" validate:"required_if=Provider gemini"`
	OpenAIAPIKey      string        `mapstructure:"openai_api_key" validate:"required_if=Provider openai"`
	OpenAIModel       string        `mapstructure:"openai_model" validate:"required_if=Provider openai"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"gte=0"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelay        time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=0"`
	MockLatency       time.Duration `mapstructure:"mock_latency" validate:"gte=0"`
	MockFailureRate   float64       `mapstructure:"mock_failure_rate" validate:"gte=0,lte=1"`
}

// TaskConfig contains settings for task execution.
type TaskConfig struct {
	WorkerCount        int `mapstructure:"worker_count" validate:"required,gt=0"`
	DefaultMaxAttempts int `mapstructure:"default_max_attempts" validate:"required,gte=1,lte=20"`
}

// SchedulerConfig controls the due-task claim loop.
type SchedulerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	Jitter       time.Duration `mapstructure:"jitter" validate:"gte=0"`
	BatchSize    int           `mapstructure:"batch_size" validate:"gt=0"`
	BackoffMin   time.Duration `mapstructure:"backoff_min" validate:"gt=0"`
	BackoffMax   time.Duration `mapstructure:"backoff_max" validate:"gtfield=BackoffMin"`
}

// ReconcilerConfig controls the sweep that re-dispatches orphaned tasks.
type ReconcilerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Schedule          string        `mapstructure:"schedule" validate:"required_if=Enabled true"`
	StaleQueuedAfter  time.Duration `mapstructure:"stale_queued_after" validate:"gte=0"`
	StuckRunningAfter time.Duration `mapstructure:"stuck_running_after" validate:"gte=0"`
	BatchSize         int           `mapstructure:"batch_size" validate:"gte=0"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Exporter    string `mapstructure:"exporter" validate:"omitempty,oneof=stdout none"`
	ServiceName string `mapstructure:"service_name"`
}
