// Package ratelimit provides the outer global and per-IP limiters that sit
// in front of the persisted per-wallet limiter in storage. These shield the
// service from floods; the per-wallet bucket is the product quota.
package ratelimit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/apperr"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/metrics"
	"github.com/go-chi/httprate"
)

// Config holds the ambient rate limiting configuration.
type Config struct {
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	Metrics *metrics.Metrics
}

// limitHandler writes the standard 429 body with a Retry-After hint.
func limitHandler(limitType string, window time.Duration, m *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if m != nil {
			m.ObserveRateLimit(limitType)
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
		apperr.WriteMessage(w, apperr.CodeRateLimited,
			"Rate limit exceeded. Please try again later.")
	}
}

// GlobalLimiter creates a service-wide rate limiter middleware.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(limitHandler("global", cfg.GlobalWindow, cfg.Metrics)),
	)
}

// IPLimiter creates a per-client-IP rate limiter middleware.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(limitHandler("ip", cfg.PerIPWindow, cfg.Metrics)),
	)
}

func passthrough(next http.Handler) http.Handler {
	return next
}
