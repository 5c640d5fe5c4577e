package horizon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/apperr"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/circuitbreaker"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/httputil"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/logger"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/metrics"
)

// Client fetches payment history from a Horizon-compatible ledger API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	pageLimit  int
	maxRecords int
	breakers   *circuitbreaker.Manager
	metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithPageLimit sets the number of records requested per page.
func WithPageLimit(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.pageLimit = n
		}
	}
}

// WithMaxRecords caps how many payment records a single scan will count.
func WithMaxRecords(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.maxRecords = n
		}
	}
}

// WithBreaker routes ledger calls through a circuit breaker manager.
func WithBreaker(m *circuitbreaker.Manager) Option {
	return func(cl *Client) { cl.breakers = m }
}

// WithMetrics records scan outcomes on the given metrics set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// NewClient creates a ledger client for the given Horizon base URL.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: httputil.NewClient(timeout),
		pageLimit:  200,
		maxRecords: 10000,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPayments walks the wallet's full payment history, newest first, and
// reduces it to decision counters. Accounts unknown to the ledger (404)
// yield zero counters rather than an error. The scan stops once maxRecords
// payment records have been counted.
func (c *Client) FetchPayments(ctx context.Context, wallet string) (Counters, error) {
	log := logger.FromContext(ctx)
	start := time.Now()

	var (
		counters       Counters
		counterparties = make(map[string]struct{})
		cursor         string
		pages          int
	)

	for {
		page, err := c.fetchPage(ctx, wallet, cursor)
		if err != nil {
			if errors.Is(err, errAccountNotFound) {
				// Unknown account: zero activity, not a failure.
				c.observe(pages, start, nil)
				return Counters{}, nil
			}
			c.observe(pages, start, err)
			return Counters{}, err
		}
		pages++

		records := page.Embedded.Records
		for _, rec := range records {
			if !countedTypes[rec.Type] {
				continue
			}
			counters.Total++
			if rec.To == wallet {
				counters.Credited++
			}
			if cp := counterparty(rec, wallet); cp != "" {
				counterparties[cp] = struct{}{}
			}
			if counters.Total >= c.maxRecords {
				break
			}
		}

		if len(records) < c.pageLimit || counters.Total >= c.maxRecords {
			break
		}
		cursor = records[len(records)-1].PagingToken
	}

	counters.UniqueCounterparties = len(counterparties)

	log.Debug().
		Str("wallet", logger.TruncateAddress(wallet)).
		Int("pages", pages).
		Int("total", counters.Total).
		Int("credited", counters.Credited).
		Int("unique", counters.UniqueCounterparties).
		Dur("elapsed", time.Since(start)).
		Msg("horizon.scan_complete")

	c.observe(pages, start, nil)
	return counters, nil
}

// errAccountNotFound signals a 404 from the payments endpoint.
var errAccountNotFound = errors.New("account not found")

// fetchPage requests one page of payments, routed through the ledger breaker.
// A 404 is a valid outcome (unknown account), not a ledger failure: it passes
// through the breaker as a nil page so repeated unfunded-wallet lookups never
// trip it.
func (c *Client) fetchPage(ctx context.Context, wallet, cursor string) (*paymentsPage, error) {
	fetch := func() (interface{}, error) {
		page, err := c.doFetchPage(ctx, wallet, cursor)
		if errors.Is(err, errAccountNotFound) {
			return (*paymentsPage)(nil), nil
		}
		return page, err
	}

	var (
		result interface{}
		err    error
	)
	if c.breakers != nil {
		result, err = c.breakers.Execute(circuitbreaker.ServiceLedger, fetch)
	} else {
		result, err = fetch()
	}
	if err != nil {
		return nil, classifyBreakerError(err)
	}
	page := result.(*paymentsPage)
	if page == nil {
		return nil, errAccountNotFound
	}
	return page, nil
}

func (c *Client) doFetchPage(ctx context.Context, wallet, cursor string) (*paymentsPage, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/payments", c.baseURL, url.PathEscape(wallet))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternalError, "Internal server error", err)
	}

	q := req.URL.Query()
	q.Set("limit", fmt.Sprintf("%d", c.pageLimit))
	q.Set("order", "desc")
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errAccountNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, apperr.New(apperr.CodeLedgerUnavailable,
			"Unable to fetch transaction data from the ledger")
	}

	var page paymentsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, apperr.Wrap(apperr.CodeLedgerUnavailable,
			"Unable to fetch transaction data from the ledger", err)
	}
	return &page, nil
}

// classifyBreakerError maps a refusal from an open or saturated breaker to
// the ledger-unavailable code so it surfaces as 503 rather than a bare 500.
func classifyBreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.Wrap(apperr.CodeLedgerUnavailable,
			"Unable to fetch transaction data from the ledger", err)
	}
	return err
}

// classifyTransportError separates timeouts from other transport failures so
// callers can surface 504 vs 503.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.CodeLedgerTimeout, "Ledger request timed out", err)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return apperr.Wrap(apperr.CodeLedgerTimeout, "Ledger request timed out", err)
	}
	return apperr.Wrap(apperr.CodeLedgerUnavailable,
		"Unable to fetch transaction data from the ledger", err)
}

// counterparty returns the wallet on the other side of a payment record, or
// empty when the record is self-referential or malformed.
func counterparty(rec paymentRecord, wallet string) string {
	other := rec.From
	if rec.From == wallet {
		other = rec.To
	}
	if other == wallet || other == "" {
		return ""
	}
	return other
}

func (c *Client) observe(pages int, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveLedgerScan(pages, time.Since(start), err)
}
