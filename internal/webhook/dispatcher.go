package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/circuitbreaker"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/httputil"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/logger"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/metrics"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/storage"
	"github.com/rs/zerolog"
)

// Dispatcher delivers webhook payloads in the background with bounded
// retries. Enqueue returns immediately; in-flight deliveries survive request
// cancellation and are drained on shutdown.
type Dispatcher struct {
	client      *http.Client
	store       storage.Store
	breakers    *circuitbreaker.Manager
	metrics     *metrics.Metrics
	log         zerolog.Logger
	backoff     []time.Duration
	maxAttempts int
	maxSnippet  int
	timeout     time.Duration

	wg sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBreaker routes delivery attempts through the webhook circuit breaker.
func WithBreaker(m *circuitbreaker.Manager) Option {
	return func(d *Dispatcher) { d.breakers = m }
}

// WithMetrics records delivery outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithHTTPClient overrides the delivery HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithMaxSnippet bounds the response body bytes kept in the delivery log.
func WithMaxSnippet(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxSnippet = n
		}
	}
}

// NewDispatcher creates a dispatcher. backoff holds the delay before each
// attempt, index-aligned; missing entries repeat the last delay.
func NewDispatcher(store storage.Store, log zerolog.Logger, timeout time.Duration, maxAttempts int, backoff []time.Duration, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:      httputil.NewClient(timeout),
		store:       store,
		log:         log,
		backoff:     backoff,
		maxAttempts: maxAttempts,
		maxSnippet:  512,
		timeout:     timeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue serialises the payload, records a pending delivery log row, and
// starts delivery in the background. The returned delivery id is already
// persisted when Enqueue returns. Errors here mean the log row could not be
// written; delivery itself never reports errors to the caller.
func (d *Dispatcher) Enqueue(ctx context.Context, url, secret, event, verificationID string, data interface{}) (string, error) {
	envelope := Envelope{
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}

	delivery := &storage.WebhookDelivery{
		ID:             storage.NewDeliveryID(),
		VerificationID: verificationID,
		URL:            url,
		Event:          event,
		Payload:        body,
		Status:         storage.DeliveryPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := d.store.LogWebhookDelivery(ctx, delivery); err != nil {
		return "", err
	}

	d.wg.Add(1)
	go d.deliver(delivery.ID, url, secret, event, envelope.Timestamp, body)

	return delivery.ID, nil
}

// deliver runs the retry loop. It is detached from the request lifetime:
// the background context only carries the dispatcher logger.
func (d *Dispatcher) deliver(deliveryID, url, secret, event, timestamp string, body []byte) {
	defer d.wg.Done()

	log := d.log.With().
		Str("delivery_id", deliveryID).
		Str("event", event).
		Str("url", logger.RedactURL(url)).
		Logger()

	var (
		lastStatus  int
		lastSnippet string
		lastErr     string
		attempt     int
	)

	for attempt = 1; attempt <= d.maxAttempts; attempt++ {
		time.Sleep(d.delayFor(attempt))

		start := time.Now()
		status, snippet, err := d.attempt(url, secret, event, timestamp, body)
		elapsed := time.Since(start)

		if d.metrics != nil {
			outcome := "retry"
			if err == nil && status >= 200 && status < 300 {
				outcome = "success"
			}
			d.metrics.ObserveWebhook(event, outcome, elapsed, attempt)
		}

		if err != nil {
			lastErr = err.Error()
			lastStatus = 0
			lastSnippet = ""
			log.Warn().Err(err).Int("attempt", attempt).Msg("webhook.attempt_failed")
			continue
		}

		lastStatus = status
		lastSnippet = snippet
		lastErr = ""

		if status >= 200 && status < 300 {
			d.finalise(deliveryID, storage.DeliverySucceeded, status, snippet, "", attempt)
			log.Info().Int("attempt", attempt).Int("status", status).Msg("webhook.delivered")
			return
		}

		// 4xx other than 429 will not succeed on retry.
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			d.finalise(deliveryID, storage.DeliveryFailed, status, snippet, "", attempt)
			log.Warn().Int("attempt", attempt).Int("status", status).Msg("webhook.permanent_failure")
			return
		}

		log.Warn().Int("attempt", attempt).Int("status", status).Msg("webhook.attempt_rejected")
	}

	d.finalise(deliveryID, storage.DeliveryFailed, lastStatus, lastSnippet, lastErr, d.maxAttempts)
	log.Error().Int("attempts", d.maxAttempts).Msg("webhook.retries_exhausted")
}

// attempt performs one POST with the per-attempt timeout.
func (d *Dispatcher) attempt(url, secret, event, timestamp string, body []byte) (int, string, error) {
	do := func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderEvent, event)
		req.Header.Set(HeaderTimestamp, timestamp)
		if secret != "" {
			req.Header.Set(HeaderSignature, Sign(secret, body))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, int64(d.maxSnippet)))
		return attemptResult{status: resp.StatusCode, snippet: string(snippet)}, nil
	}

	var (
		result interface{}
		err    error
	)
	if d.breakers != nil {
		result, err = d.breakers.Execute(circuitbreaker.ServiceWebhook, do)
	} else {
		result, err = do()
	}
	if err != nil {
		return 0, "", err
	}
	r := result.(attemptResult)
	return r.status, r.snippet, nil
}

type attemptResult struct {
	status  int
	snippet string
}

// delayFor returns the configured delay before the given 1-based attempt.
func (d *Dispatcher) delayFor(attempt int) time.Duration {
	if len(d.backoff) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(d.backoff) {
		idx = len(d.backoff) - 1
	}
	return d.backoff[idx]
}

func (d *Dispatcher) finalise(deliveryID, status string, httpStatus int, snippet, errMsg string, attempts int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := d.store.UpdateWebhookDelivery(ctx, deliveryID, storage.DeliveryUpdate{
		Status:          status,
		HTTPStatus:      httpStatus,
		ResponseSnippet: snippet,
		ErrorMessage:    errMsg,
		Attempts:        attempts,
		CompletedAt:     time.Now().UTC(),
	})
	if err != nil {
		d.log.Error().Err(err).Str("delivery_id", deliveryID).Msg("webhook.log_update_failed")
	}
}

// Drain blocks until all in-flight deliveries finish. Called during
// graceful shutdown after the HTTP listener stops.
func (d *Dispatcher) Drain() {
	d.wg.Wait()
}

// Close implements io.Closer for lifecycle registration.
func (d *Dispatcher) Close() error {
	d.Drain()
	return nil
}
