package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/txclassifier/internal/infra/provider"
	"github.com/vietddude/txclassifier/internal/infra/storage/sqlstore"
	"github.com/vietddude/txclassifier/internal/processing/retry"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding environment variables first.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if c.Storage.Driver == sqlstore.DriverSQLite && c.Storage.URL == "" {
		c.Storage.URL = "data/classifier.db"
	}

	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "classifier"
	}

	if c.Queue.JobTimeout == 0 {
		c.Queue.JobTimeout = 30 * time.Second
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = 5 * time.Second
	}
	if c.Queue.StoreTimeout == 0 {
		c.Queue.StoreTimeout = 5 * time.Second
	}
	if len(c.Queue.Backoff) == 0 {
		c.Queue.Backoff = retry.DefaultSchedule()
	}
	if c.Queue.DeadLetterBuffer == 0 {
		c.Queue.DeadLetterBuffer = 100
	}

	if c.Classifier.Provider == "" {
		c.Classifier.Provider = provider.NameDeepSeek
	}
	c.Classifier.Provider = strings.ToLower(c.Classifier.Provider)

	if c.Webhook.RateLimit == 0 {
		c.Webhook.RateLimit = 100
	}
	if c.Webhook.RateWindow == 0 {
		c.Webhook.RateWindow = 15 * time.Minute
	}
}

// Validate reports every problem found in the configuration.
func (c *AppConfig) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case StorageMemory:
	case sqlstore.DriverSQLite, sqlstore.DriverPostgres, sqlstore.DriverPgx:
		if c.Storage.URL == "" {
			errs = append(errs, fmt.Errorf("storage.url is required for driver %q", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	if c.Redis.RetryStore && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.retry_store requires redis.url"))
	}
	if c.Redis.EventsChannel != "" && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.events_channel requires redis.url"))
	}

	if c.Queue.JobTimeout < 0 || c.Queue.PollInterval < 0 || c.Queue.StoreTimeout < 0 {
		errs = append(errs, errors.New("queue timeouts must not be negative"))
	}
	if err := retry.Schedule(c.Queue.Backoff).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("queue.backoff: %w", err))
	}
	if c.Queue.DeadLetterBuffer < 0 {
		errs = append(errs, errors.New("queue.dead_letter_buffer must not be negative"))
	}

	var settings provider.Settings
	switch c.Classifier.Provider {
	case provider.NameDeepSeek:
		settings = c.Classifier.DeepSeek
	case provider.NameOpenAI:
		settings = c.Classifier.OpenAI
	default:
		errs = append(errs, fmt.Errorf("unknown classifier.provider %q", c.Classifier.Provider))
	}
	if c.Classifier.Provider == provider.NameDeepSeek || c.Classifier.Provider == provider.NameOpenAI {
		if settings.APIKey == "" {
			errs = append(errs, fmt.Errorf("classifier.%s.api_key is required", c.Classifier.Provider))
		}
		if settings.Confidence < 0 || settings.Confidence > 1 {
			errs = append(errs, fmt.Errorf("classifier.%s.confidence must be within [0, 1]", c.Classifier.Provider))
		}
	}

	if c.Firefly.URL == "" {
		errs = append(errs, errors.New("firefly.url is required"))
	}
	if c.Firefly.Token == "" {
		errs = append(errs, errors.New("firefly.token is required"))
	}

	if c.Webhook.RateLimit < 0 || c.Webhook.RateWindow < 0 {
		errs = append(errs, errors.New("webhook rate limit must not be negative"))
	}

	return errors.Join(errs...)
}
