package listener

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// baseBackoff is the floor of every computed delay and the wait
	// after a productive cycle.
	baseBackoff = 100 * time.Millisecond
	// retrievalVisibilityTimeout is the lease requested on retrieval.
	// It is deliberately long so a batch can be processed without the
	// broker redelivering mid-flight; the shorter, configurable retry
	// visibility timeout governs redelivery of retried messages.
	retrievalVisibilityTimeout = 10 * time.Minute

	defaultParallelism        = 2
	defaultMaxMessagesPerLane = 32
	defaultMaxRetries         = 5
	defaultMaxBackoff         = time.Minute
	defaultRetryVisibility    = time.Second
)

// Config holds the tunable surface of a QueueListener. The zero value is
// not usable; start from DefaultConfig or a loader.
type Config struct {
	// QueueName identifies the queue for logs and metrics; the actual
	// connection lives in the queue client.
	QueueName string `yaml:"queue_name"`
	// Parallelism is the number of concurrent retrieval lanes per cycle.
	Parallelism int `yaml:"parallelism"`
	// MaxMessagesPerLane bounds how many messages one lane may lease.
	MaxMessagesPerLane int `yaml:"max_messages_per_lane"`
	// MaxRetries is the retry ceiling passed through to ExtendOrRetry.
	MaxRetries int `yaml:"max_retries"`
	// MaxBackoff caps the exponential delay between failed cycles.
	MaxBackoff time.Duration `yaml:"max_backoff"`
	// RetryVisibilityTimeout is how long a retried message stays hidden
	// before redelivery.
	RetryVisibilityTimeout time.Duration `yaml:"retry_visibility_timeout"`
	// RunOnEmptyBatch invokes the handler with an empty batch on
	// empty cycles. Off by default.
	RunOnEmptyBatch bool `yaml:"run_on_empty_batch"`
}

// DefaultConfig returns a Config with the standard defaults applied.
func DefaultConfig(queueName string) *Config {
	cfg := &Config{QueueName: queueName}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Parallelism <= 0 {
		c.Parallelism = defaultParallelism
	}
	if c.MaxMessagesPerLane <= 0 {
		c.MaxMessagesPerLane = defaultMaxMessagesPerLane
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.RetryVisibilityTimeout <= 0 {
		c.RetryVisibilityTimeout = defaultRetryVisibility
	}
}

func (c *Config) validate() error {
	if c.QueueName == "" {
		return fmt.Errorf("validation error: queue_name is required")
	}
	if c.MaxBackoff < baseBackoff {
		return fmt.Errorf("validation error: max_backoff %v is below the %v floor", c.MaxBackoff, baseBackoff)
	}
	return nil
}

// LoadConfigFromYAML reads a YAML configuration file, fills in defaults
// for anything unset, and validates the result.
func LoadConfigFromYAML(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML from '%s': %w", configPath, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfigFromEnv loads listener configuration from BATCHQUEUE_*
// environment variables, with defaults for anything unset.
func LoadConfigFromEnv() (*Config, error) {
	cfg := &Config{QueueName: os.Getenv("BATCHQUEUE_QUEUE_NAME")}

	var err error
	if cfg.Parallelism, err = intFromEnv("BATCHQUEUE_PARALLELISM"); err != nil {
		return nil, err
	}
	if cfg.MaxMessagesPerLane, err = intFromEnv("BATCHQUEUE_MAX_MESSAGES_PER_LANE"); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = intFromEnv("BATCHQUEUE_MAX_RETRIES"); err != nil {
		return nil, err
	}
	if cfg.MaxBackoff, err = durationFromEnv("BATCHQUEUE_MAX_BACKOFF"); err != nil {
		return nil, err
	}
	if cfg.RetryVisibilityTimeout, err = durationFromEnv("BATCHQUEUE_RETRY_VISIBILITY_TIMEOUT"); err != nil {
		return nil, err
	}
	cfg.RunOnEmptyBatch = os.Getenv("BATCHQUEUE_RUN_ON_EMPTY_BATCH") == "true"

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func intFromEnv(key string) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func durationFromEnv(key string) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
