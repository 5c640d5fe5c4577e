package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Auth           AuthConfig           `yaml:"auth"`
	Ledger         LedgerConfig         `yaml:"ledger"`
	Verification   VerificationConfig   `yaml:"verification"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Batch          BatchConfig          `yaml:"batch"`
	Webhook        WebhookConfig        `yaml:"webhook"`
	Storage        StorageConfig        `yaml:"storage"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	RequestTimeout     Duration `yaml:"request_timeout"` // Per-request budget for the verify endpoints
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional key guarding /metrics (empty disables the guard)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// AuthConfig holds request authentication configuration.
// External callers present the server API key on x-api-key; internal platform
// calls present the anonymous key on the apikey header instead.
type AuthConfig struct {
	APIKey           string `yaml:"api_key"`
	InternalTrustKey string `yaml:"internal_trust_key"`
}

// LedgerConfig holds the Horizon-style ledger API configuration.
type LedgerConfig struct {
	BaseURL    string   `yaml:"base_url"`
	Timeout    Duration `yaml:"timeout"`     // Per-page request timeout
	PageLimit  int      `yaml:"page_limit"`  // Records requested per page
	MaxRecords int      `yaml:"max_records"` // Hard cap on counted payment records per scan
}

// VerificationConfig holds default decision thresholds and cache behaviour.
type VerificationConfig struct {
	MinTransactions         int      `yaml:"min_transactions"`
	MinCreditedTransactions int      `yaml:"min_credited_transactions"`
	MinUniqueWallets        int      `yaml:"min_unique_wallets"`
	CacheTTL                Duration `yaml:"cache_ttl"`
}

// RateLimitConfig holds rate limiting configuration.
// WalletMax/WalletWindow drive the persisted per-wallet sliding window; the
// global and per-IP limiters are an outer spam shield in front of it.
type RateLimitConfig struct {
	WalletMax    int      `yaml:"wallet_max"`
	WalletWindow Duration `yaml:"wallet_window"`

	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// BatchConfig bounds the batch verification endpoint.
type BatchConfig struct {
	MaxSize     int `yaml:"max_size"`
	Concurrency int `yaml:"concurrency"`
}

// WebhookConfig holds webhook delivery configuration.
type WebhookConfig struct {
	Timeout     Duration   `yaml:"timeout"`      // Per-attempt connect+read timeout
	MaxAttempts int        `yaml:"max_attempts"` // Delivery attempts before permanent failure
	Backoff     []Duration `yaml:"backoff"`      // Delay before each attempt, index-aligned
	MaxSnippet  int        `yaml:"max_snippet"`  // Bytes of the response body kept in the delivery log
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Backend      string             `yaml:"backend"`       // "memory" or "postgres"
	PostgresURL  string             `yaml:"postgres_url"`  // PostgreSQL connection string
	PostgresPool PostgresPoolConfig `yaml:"postgres_pool"` // PostgreSQL connection pool settings
	TableMapping TableMappingConfig `yaml:"table_mapping"` // Custom table names
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// TableMappingConfig holds table name mappings for custom schemas.
type TableMappingConfig struct {
	Verifications     string `yaml:"verifications"`
	RateBuckets       string `yaml:"rate_buckets"`
	SubscriptionUsage string `yaml:"subscription_usage"`
	WebhookDeliveries string `yaml:"webhook_deliveries"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Ledger  BreakerServiceConfig `yaml:"ledger"`
	Webhook BreakerServiceConfig `yaml:"webhook"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
