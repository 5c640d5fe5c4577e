package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration. The names
// match the deployment contract of the hosted verifier.
func (c *Config) applyEnvOverrides() {
	// Server
	setIfEnv(&c.Server.Address, "SERVER_ADDRESS")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "ADMIN_METRICS_API_KEY")
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = splitAndTrim(v)
	}

	// Logging
	setIfEnv(&c.Logging.Level, "LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "ENVIRONMENT")

	// Auth
	setIfEnv(&c.Auth.APIKey, "API_KEY")
	setIfEnv(&c.Auth.InternalTrustKey, "INTERNAL_TRUST_KEY")

	// Ledger
	setIfEnv(&c.Ledger.BaseURL, "LEDGER_BASE")
	setDurationIfEnv(&c.Ledger.Timeout, "LEDGER_TIMEOUT")

	// Verification thresholds and cache
	setIntIfEnv(&c.Verification.MinTransactions, "MIN_TRANSACTIONS")
	setIntIfEnv(&c.Verification.MinCreditedTransactions, "MIN_CREDITED_TRANSACTIONS")
	setIntIfEnv(&c.Verification.MinUniqueWallets, "MIN_UNIQUE_WALLETS")
	setDurationIfEnv(&c.Verification.CacheTTL, "CACHE_TTL")

	// Rate limiting
	setIntIfEnv(&c.RateLimit.WalletMax, "RATE_MAX")
	setDurationIfEnv(&c.RateLimit.WalletWindow, "RATE_WINDOW")

	// Batch
	setIntIfEnv(&c.Batch.MaxSize, "BATCH_MAX")
	setIntIfEnv(&c.Batch.Concurrency, "BATCH_CONCURRENCY")

	// Webhooks
	setDurationIfEnv(&c.Webhook.Timeout, "WEBHOOK_TIMEOUT")
	setIntIfEnv(&c.Webhook.MaxAttempts, "WEBHOOK_ATTEMPTS")
	if v := os.Getenv("WEBHOOK_BACKOFF"); v != "" {
		if schedule, ok := parseBackoff(v); ok {
			c.Webhook.Backoff = schedule
		}
	}

	// Storage. A DATABASE_URL implies the postgres backend unless the
	// backend is pinned explicitly.
	setIfEnv(&c.Storage.Backend, "STORAGE_BACKEND")
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.PostgresURL = v
		if os.Getenv("STORAGE_BACKEND") == "" {
			c.Storage.Backend = "postgres"
		}
	}
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration for values like "30s", "1h", "90m"; bare integers
// are read as seconds to match the deployment contract.
func setDurationIfEnv(target *Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if dur, err := time.ParseDuration(v); err == nil {
		*target = Duration{Duration: dur}
		return
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*target = Duration{Duration: time.Duration(secs) * time.Second}
	}
}

// parseBackoff parses a comma separated backoff schedule, e.g. "0,1s,5s".
func parseBackoff(raw string) ([]Duration, bool) {
	parts := splitAndTrim(raw)
	if len(parts) == 0 {
		return nil, false
	}
	schedule := make([]Duration, 0, len(parts))
	for _, p := range parts {
		if p == "0" {
			schedule = append(schedule, Duration{})
			continue
		}
		dur, err := time.ParseDuration(p)
		if err != nil {
			return nil, false
		}
		schedule = append(schedule, Duration{Duration: dur})
	}
	return schedule, true
}

func splitAndTrim(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
