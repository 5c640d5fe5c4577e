package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the verifier.
type Metrics struct {
	// Verification metrics
	VerificationsTotal   *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec
	CacheLookupsTotal    *prometheus.CounterVec
	BatchSizeObserved    prometheus.Histogram

	// Ledger scan metrics
	LedgerScansTotal   *prometheus.CounterVec
	LedgerPagesFetched prometheus.Counter
	LedgerScanDuration *prometheus.HistogramVec
	LedgerErrorsTotal  *prometheus.CounterVec

	// Webhook metrics
	WebhooksTotal       *prometheus.CounterVec
	WebhookRetriesTotal *prometheus.CounterVec
	WebhookDuration     *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_verifications_total",
				Help: "Total number of verification requests by outcome",
			},
			[]string{"status", "source"},
		),
		VerificationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verifier_verification_duration_seconds",
				Help:    "End-to-end verification time (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"source"},
		),
		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_cache_lookups_total",
				Help: "Verification cache lookups by result",
			},
			[]string{"result"},
		),
		BatchSizeObserved: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "verifier_batch_size",
				Help:    "Number of entries per batch verification request",
				Buckets: []float64{1, 2, 3, 5, 8, 10},
			},
		),

		LedgerScansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_ledger_scans_total",
				Help: "Total number of ledger payment scans",
			},
			[]string{"status"},
		),
		LedgerPagesFetched: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "verifier_ledger_pages_fetched_total",
				Help: "Total payment pages fetched from the ledger API",
			},
		),
		LedgerScanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verifier_ledger_scan_duration_seconds",
				Help:    "Duration of full paginated ledger scans",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		LedgerErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_ledger_errors_total",
				Help: "Ledger API errors by type",
			},
			[]string{"error_type"},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_webhooks_total",
				Help: "Total number of webhook deliveries",
			},
			[]string{"event_type", "status"},
		),
		WebhookRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_webhook_retries_total",
				Help: "Total number of webhook retry attempts",
			},
			[]string{"event_type", "attempt"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verifier_webhook_duration_seconds",
				Help:    "Time taken for webhook delivery",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"event_type"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verifier_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "verifier_db_connections_active",
				Help: "Number of active database connections",
			},
		),
	}
}

// ObserveVerification records a verification request and its outcome.
// source is "single" or "batch"; status is "approved", "rejected" or "error".
func (m *Metrics) ObserveVerification(status, source string, duration time.Duration) {
	m.VerificationsTotal.WithLabelValues(status, source).Inc()
	m.VerificationDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveCacheLookup records a cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveBatch records the size of an accepted batch request.
func (m *Metrics) ObserveBatch(size int) {
	m.BatchSizeObserved.Observe(float64(size))
}

// ObserveLedgerScan records a full paginated scan against the ledger API.
func (m *Metrics) ObserveLedgerScan(pages int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.LedgerErrorsTotal.WithLabelValues(categorizeError(err)).Inc()
	}
	m.LedgerScansTotal.WithLabelValues(status).Inc()
	m.LedgerScanDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.LedgerPagesFetched.Add(float64(pages))
}

// ObserveWebhook records a webhook delivery attempt outcome.
func (m *Metrics) ObserveWebhook(eventType, status string, duration time.Duration, attempt int) {
	m.WebhooksTotal.WithLabelValues(eventType, status).Inc()
	m.WebhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())

	if attempt > 1 {
		m.WebhookRetriesTotal.WithLabelValues(eventType, formatAttempt(attempt)).Inc()
	}
}

// ObserveRateLimit records a rate limit hit. limitType is "wallet", "ip" or
// "global".
func (m *Metrics) ObserveRateLimit(limitType string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

func categorizeError(err error) string {
	s := err.Error()
	switch {
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline"):
		return "timeout"
	case strings.Contains(s, "connection"):
		return "connection"
	case strings.Contains(s, "circuit breaker"):
		return "circuit_open"
	default:
		return "other"
	}
}

func formatAttempt(attempt int) string {
	if attempt <= 5 {
		return string(rune('0' + attempt))
	}
	return "5+"
}
