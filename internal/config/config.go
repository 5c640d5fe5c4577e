package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
// An empty path skips the file and builds config from defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        ":8080",
			ReadTimeout:    Duration{Duration: 15 * time.Second},
			WriteTimeout:   Duration{Duration: 15 * time.Second},
			IdleTimeout:    Duration{Duration: 60 * time.Second},
			RequestTimeout: Duration{Duration: 2 * time.Minute},
		},
		Ledger: LedgerConfig{
			BaseURL:    "https://api.mainnet.minepi.com",
			Timeout:    Duration{Duration: 30 * time.Second},
			PageLimit:  200,
			MaxRecords: 10000,
		},
		Verification: VerificationConfig{
			MinTransactions:         100,
			MinCreditedTransactions: 50,
			MinUniqueWallets:        10,
			CacheTTL:                Duration{Duration: time.Hour},
		},
		RateLimit: RateLimitConfig{
			WalletMax:    5,
			WalletWindow: Duration{Duration: time.Hour},

			// Outer shield only - generous limits meant to stop floods, not
			// legitimate integrations.
			GlobalEnabled: true,
			GlobalLimit:   1000,
			GlobalWindow:  Duration{Duration: time.Minute},
			PerIPEnabled:  true,
			PerIPLimit:    120,
			PerIPWindow:   Duration{Duration: time.Minute},
		},
		Batch: BatchConfig{
			MaxSize:     10,
			Concurrency: 3,
		},
		Webhook: WebhookConfig{
			Timeout:     Duration{Duration: 10 * time.Second},
			MaxAttempts: 3,
			Backoff: []Duration{
				{Duration: 0},
				{Duration: time.Second},
				{Duration: 5 * time.Second},
			},
			MaxSnippet: 512,
		},
		Storage: StorageConfig{
			Backend: "memory",
			PostgresPool: PostgresPoolConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: Duration{Duration: 5 * time.Minute},
			},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Ledger: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Webhook: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

// finalize applies fallback defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Ledger.BaseURL == "" {
		return fmt.Errorf("ledger.base_url is required")
	}
	if c.Ledger.PageLimit <= 0 {
		c.Ledger.PageLimit = 200
	}
	if c.Ledger.MaxRecords <= 0 {
		c.Ledger.MaxRecords = 10000
	}
	if c.Ledger.Timeout.Duration <= 0 {
		c.Ledger.Timeout = Duration{Duration: 30 * time.Second}
	}

	if c.Verification.MinTransactions < 0 ||
		c.Verification.MinCreditedTransactions < 0 ||
		c.Verification.MinUniqueWallets < 0 {
		return fmt.Errorf("verification thresholds must be non-negative")
	}
	if c.Verification.CacheTTL.Duration <= 0 {
		c.Verification.CacheTTL = Duration{Duration: time.Hour}
	}

	if c.RateLimit.WalletMax <= 0 {
		return fmt.Errorf("rate_limit.wallet_max must be positive")
	}
	if c.RateLimit.WalletWindow.Duration <= 0 {
		c.RateLimit.WalletWindow = Duration{Duration: time.Hour}
	}

	if c.Batch.MaxSize <= 0 {
		c.Batch.MaxSize = 10
	}
	if c.Batch.Concurrency <= 0 {
		c.Batch.Concurrency = 3
	}
	if c.Batch.Concurrency > c.Batch.MaxSize {
		c.Batch.Concurrency = c.Batch.MaxSize
	}

	if c.Webhook.MaxAttempts <= 0 {
		c.Webhook.MaxAttempts = 3
	}
	if c.Webhook.Timeout.Duration <= 0 {
		c.Webhook.Timeout = Duration{Duration: 10 * time.Second}
	}
	if c.Webhook.MaxSnippet <= 0 {
		c.Webhook.MaxSnippet = 512
	}
	// Pad the backoff schedule so every attempt has a delay entry.
	for len(c.Webhook.Backoff) < c.Webhook.MaxAttempts {
		last := Duration{}
		if n := len(c.Webhook.Backoff); n > 0 {
			last = c.Webhook.Backoff[n-1]
		}
		c.Webhook.Backoff = append(c.Webhook.Backoff, last)
	}

	switch c.Storage.Backend {
	case "", "memory":
		c.Storage.Backend = "memory"
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	return nil
}

// BackoffDurations flattens the configured webhook backoff schedule.
func (c *Config) BackoffDurations() []time.Duration {
	out := make([]time.Duration, 0, len(c.Webhook.Backoff))
	for _, d := range c.Webhook.Backoff {
		out = append(out, d.Duration)
	}
	return out
}
