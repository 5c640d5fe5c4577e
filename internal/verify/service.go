package verify

import (
	"context"
	"errors"
	"time"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/allowance"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/apperr"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/logger"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/metrics"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/storage"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/webhook"
)

// Config captures the immutable pipeline settings, resolved at start.
type Config struct {
	DefaultThresholds Thresholds
	CacheTTL          time.Duration
	RateMax           int
	RateWindow        time.Duration
	BatchMaxSize      int
	BatchConcurrency  int
}

// Service runs the verification pipeline.
type Service struct {
	store      storage.Store
	ledger     LedgerClient
	gate       *allowance.Gate
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	cfg        Config
}

// NewService wires the pipeline. dispatcher may be nil in tests that never
// pass a webhook URL.
func NewService(store storage.Store, ledger LedgerClient, gate *allowance.Gate, dispatcher Dispatcher, m *metrics.Metrics, cfg Config) *Service {
	return &Service{
		store:      store,
		ledger:     ledger,
		gate:       gate,
		dispatcher: dispatcher,
		metrics:    m,
		cfg:        cfg,
	}
}

// ResolveThresholds merges per-request overrides onto the configured
// defaults. Nil pointers mean "use default".
func (s *Service) ResolveThresholds(minTotal, minCredited, minUnique *int) Thresholds {
	t := s.cfg.DefaultThresholds
	if minTotal != nil && *minTotal >= 0 {
		t.MinTotal = *minTotal
	}
	if minCredited != nil && *minCredited >= 0 {
		t.MinCredited = *minCredited
	}
	if minUnique != nil && *minUnique >= 0 {
		t.MinUnique = *minUnique
	}
	return t
}

// Verify runs the single-verification pipeline in its contractual order:
// field validation, rate limit, address format, cache, allowance, ledger
// scan, decision, upsert, usage bump, webhook enqueue. The first refusal
// wins and maps to its HTTP status in the transport layer.
func (s *Service) Verify(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := s.verify(ctx, req)
	s.observe(res, err, "single", time.Since(start))
	return res, err
}

func (s *Service) verify(ctx context.Context, req Request) (*Result, error) {
	log := logger.FromContext(ctx)

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	rl, err := s.store.RateLimit(ctx, req.WalletAddress, s.cfg.RateMax, s.cfg.RateWindow)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePersistenceError, "Internal server error", err)
	}
	if !rl.Allowed {
		if s.metrics != nil {
			s.metrics.ObserveRateLimit("wallet")
		}
		return nil, &RateLimitError{Limit: rl.Limit, ResetAt: rl.ResetAt}
	}

	if !ValidAddress(req.WalletAddress) {
		return nil, apperr.New(apperr.CodeInvalidWallet, "Invalid wallet address format")
	}

	if !req.ForceRefresh {
		if res := s.cacheLookup(ctx, req.WalletAddress); res != nil {
			return res, nil
		}
	}

	if _, err := s.gate.Check(ctx, req.ExternalUserID); err != nil {
		return nil, err
	}

	counters, err := s.ledger.FetchPayments(ctx, req.WalletAddress)
	if err != nil {
		return nil, err
	}

	status, reason := Decide(counters, req.Thresholds)

	stored, err := s.store.UpsertVerification(ctx, &storage.VerificationRecord{
		WalletAddress:        req.WalletAddress,
		BusinessName:         req.BusinessName,
		ExternalUserID:       req.ExternalUserID,
		TotalTransactions:    counters.Total,
		CreditedTransactions: counters.Credited,
		UniqueWallets:        counters.UniqueCounterparties,
		MeetsRequirements:    status == storage.StatusApproved,
		FailureReason:        reason,
		Status:               status,
		UpdatedAt:            time.Now().UTC(),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePersistenceError, "Failed to store verification result", err)
	}

	s.gate.BumpUsage(ctx, req.ExternalUserID)

	queued := false
	if req.WebhookURL != "" && s.dispatcher != nil {
		_, err := s.dispatcher.Enqueue(ctx, req.WebhookURL, req.WebhookSecret,
			webhook.EventVerificationCompleted, stored.ID, NewData(stored))
		if err != nil {
			// Delivery problems never fail the verification.
			log.Error().Err(err).Str("verification_id", stored.ID).Msg("verify.webhook_enqueue_failed")
		} else {
			queued = true
		}
	}

	return &Result{
		Record:         stored,
		Cached:         false,
		CacheExpiresAt: stored.UpdatedAt.Add(s.cfg.CacheTTL),
		WebhookQueued:  queued,
	}, nil
}

// cacheLookup returns a result when a fresh record exists. Read failures are
// treated as misses; the scan below will rebuild the record anyway.
func (s *Service) cacheLookup(ctx context.Context, wallet string) *Result {
	rec, err := s.store.GetVerificationByWallet(ctx, wallet)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Msg("verify.cache_read_failed")
		}
		if s.metrics != nil {
			s.metrics.ObserveCacheLookup(false)
		}
		return nil
	}

	age := time.Since(rec.UpdatedAt)
	if age >= s.cfg.CacheTTL {
		if s.metrics != nil {
			s.metrics.ObserveCacheLookup(false)
		}
		return nil
	}

	if s.metrics != nil {
		s.metrics.ObserveCacheLookup(true)
	}
	return &Result{
		Record:         rec,
		Cached:         true,
		CacheExpiresAt: rec.UpdatedAt.Add(s.cfg.CacheTTL),
	}
}

// validateRequest enforces required fields and the webhook URL policy.
func validateRequest(req Request) error {
	if req.WalletAddress == "" {
		return apperr.New(apperr.CodeInvalidWallet, "Invalid wallet address format")
	}
	if req.BusinessName == "" {
		return apperr.New(apperr.CodeMissingField, "Missing required field: businessName")
	}
	if req.ExternalUserID == "" {
		return apperr.New(apperr.CodeMissingField, "Missing required field: externalUserId")
	}
	if req.WebhookURL != "" {
		if err := webhook.ValidateURL(req.WebhookURL); err != nil {
			return apperr.Wrap(apperr.CodeInvalidRequest, "Invalid webhook URL", err)
		}
	}
	return nil
}

func (s *Service) observe(res *Result, err error, source string, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	status := "error"
	if err == nil && res != nil {
		if res.Record.MeetsRequirements {
			status = "approved"
		} else {
			status = "rejected"
		}
	}
	s.metrics.ObserveVerification(status, source, elapsed)
}
