// Package storage persists verification records, rate-limit buckets,
// subscription usage and the webhook delivery log. Two backends exist:
// an in-memory store for development and tests, and PostgreSQL for
// production. Both satisfy Store.
package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/config"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/dbpool"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("storage: not found")

// VerificationStatus is the persisted decision state.
type VerificationStatus string

const (
	StatusApproved    VerificationStatus = "approved"
	StatusRejected    VerificationStatus = "rejected"
	StatusUnderReview VerificationStatus = "under_review" // reserved, never produced by the pipeline
)

// VerificationRecord is the durable result of a ledger scan and decision,
// keyed uniquely by wallet address.
type VerificationRecord struct {
	ID                   string
	WalletAddress        string
	BusinessName         string
	ExternalUserID       string
	TotalTransactions    int
	CreditedTransactions int
	UniqueWallets        int
	MeetsRequirements    bool
	FailureReason        string // empty when approved
	Status               VerificationStatus
	UpdatedAt            time.Time
}

// RateLimitResult is the outcome of an atomic check-and-increment.
type RateLimitResult struct {
	Allowed bool
	Count   int
	Limit   int
	ResetAt time.Time
}

// Allowance describes a user's remaining verification quota.
// Remaining < 0 means unlimited.
type Allowance struct {
	Allowed   bool
	Remaining int
	Tier      string
	ExpiresAt time.Time
}

// Delivery statuses for the webhook log.
const (
	DeliveryPending   = "pending"
	DeliverySucceeded = "succeeded"
	DeliveryFailed    = "failed"
)

// WebhookDelivery is one row of the delivery log, created on enqueue and
// finalised when retries exhaust or a 2xx arrives.
type WebhookDelivery struct {
	ID              string
	VerificationID  string
	URL             string
	Event           string
	Payload         []byte
	Status          string
	HTTPStatus      int
	ResponseSnippet string
	ErrorMessage    string
	Attempts        int
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// DeliveryUpdate carries the mutable fields written when a delivery
// attempt sequence finishes.
type DeliveryUpdate struct {
	Status          string
	HTTPStatus      int
	ResponseSnippet string
	ErrorMessage    string
	Attempts        int
	CompletedAt     time.Time
}

// Store is the persistence surface consumed by the verification pipeline.
type Store interface {
	// UpsertVerification inserts or replaces the record for its wallet and
	// returns the stored row including its opaque id.
	UpsertVerification(ctx context.Context, rec *VerificationRecord) (*VerificationRecord, error)

	// GetVerificationByWallet returns the record for a wallet or ErrNotFound.
	GetVerificationByWallet(ctx context.Context, wallet string) (*VerificationRecord, error)

	// RateLimit atomically checks and increments the wallet's sliding-window
	// bucket. When the window has elapsed the bucket resets to one.
	RateLimit(ctx context.Context, wallet string, max int, window time.Duration) (RateLimitResult, error)

	// CheckAllowance reports whether the external user may run a verification.
	CheckAllowance(ctx context.Context, externalUserID string) (Allowance, error)

	// IncrementUsage bumps the external user's consumed quota.
	IncrementUsage(ctx context.Context, externalUserID string) error

	// LogWebhookDelivery inserts a pending delivery log row.
	LogWebhookDelivery(ctx context.Context, d *WebhookDelivery) error

	// UpdateWebhookDelivery finalises a delivery log row.
	UpdateWebhookDelivery(ctx context.Context, id string, update DeliveryUpdate) error

	// ListWebhookDeliveries returns the most recent delivery rows.
	ListWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)

	Close() error
}

// New constructs the configured storage backend. The memory backend logs a
// warning since nothing survives a restart.
func New(cfg config.StorageConfig, pool *dbpool.SharedPool, m *metrics.Metrics, log zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case "memory":
		log.Warn().Msg("storage.memory_backend_active")
		return NewMemoryStore(), nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("postgres backend requires a connection pool")
		}
		return NewPostgresStore(pool.DB(), cfg.TableMapping, m)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// NewVerificationID mints an opaque verification identifier.
func NewVerificationID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("ver_%d", time.Now().UnixNano())
	}
	return "ver_" + hex.EncodeToString(b)
}

// NewDeliveryID mints an opaque webhook delivery identifier.
func NewDeliveryID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("whd_%d", time.Now().UnixNano())
	}
	return "whd_" + hex.EncodeToString(b)
}
