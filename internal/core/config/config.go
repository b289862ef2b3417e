package config

import (
	"time"

	"github.com/vietddude/txclassifier/internal/infra/firefly"
	"github.com/vietddude/txclassifier/internal/infra/provider"
	redisclient "github.com/vietddude/txclassifier/internal/infra/redis"
	"github.com/vietddude/txclassifier/internal/infra/storage/sqlstore"
)

// StorageMemory keeps retry records and history in process memory.
const StorageMemory = "memory"

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig    `yaml:"server"`
	Logging    LoggingConfig   `yaml:"logging"`
	Storage    sqlstore.Config `yaml:"storage"`
	Redis      RedisConfig     `yaml:"redis"`
	Queue      QueueConfig     `yaml:"queue"`
	Classifier provider.Config `yaml:"classifier"`
	Firefly    firefly.Config  `yaml:"firefly"`
	Webhook    WebhookConfig   `yaml:"webhook"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RedisConfig is optional; an empty URL disables Redis.
type RedisConfig struct {
	redisclient.Config `yaml:",inline"`
	// RetryStore keeps retry records in Redis instead of the SQL store.
	RetryStore bool `yaml:"retry_store"`
	// EventsChannel receives job lifecycle events; empty disables publishing.
	EventsChannel string `yaml:"events_channel"`
}

// QueueConfig tunes the executor and the retry ledger.
type QueueConfig struct {
	JobTimeout       time.Duration   `yaml:"job_timeout"`
	PollInterval     time.Duration   `yaml:"poll_interval"`
	StoreTimeout     time.Duration   `yaml:"store_timeout"`
	Backoff          []time.Duration `yaml:"backoff"`
	DeadLetterBuffer int             `yaml:"dead_letter_buffer"`
}

// WebhookConfig limits webhook intake per client IP.
type WebhookConfig struct {
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}
