// Package verify is the verification engine: address validation, the
// decision rule, the read-through cache, and the single and batch
// orchestrators that wire rate limiting, allowance, ledger scanning,
// persistence and webhook dispatch together.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/horizon"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/storage"
)

// Request is one verification job, after HTTP parsing.
type Request struct {
	WalletAddress  string
	BusinessName   string
	ExternalUserID string
	ForceRefresh   bool
	WebhookURL     string
	WebhookSecret  string
	Thresholds     Thresholds
}

// Result is the outcome of a verification pipeline run.
type Result struct {
	Record         *storage.VerificationRecord
	Cached         bool
	CacheExpiresAt time.Time
	WebhookQueued  bool
}

// RateLimitError is returned when the per-wallet limiter refuses. It carries
// everything the HTTP layer needs for the X-RateLimit response headers.
type RateLimitError struct {
	Limit   int
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("Rate limit exceeded. Try again after %s",
		e.ResetAt.UTC().Format(time.RFC3339))
}

// LedgerClient is the scan operation the orchestrator consumes.
type LedgerClient interface {
	FetchPayments(ctx context.Context, wallet string) (horizon.Counters, error)
}

// Dispatcher enqueues webhook deliveries.
type Dispatcher interface {
	Enqueue(ctx context.Context, url, secret, event, verificationID string, data interface{}) (string, error)
}

// Data is the verification payload shared by HTTP responses and webhook
// bodies.
type Data struct {
	VerificationID       string  `json:"verificationId"`
	WalletAddress        string  `json:"walletAddress"`
	BusinessName         string  `json:"businessName"`
	TotalTransactions    int     `json:"totalTransactions"`
	CreditedTransactions int     `json:"creditedTransactions"`
	UniqueWallets        int     `json:"uniqueWallets"`
	MeetsRequirements    bool    `json:"meetsRequirements"`
	FailureReason        *string `json:"failureReason"`
	VerificationStatus   string  `json:"verificationStatus"`
	VerifiedAt           string  `json:"verifiedAt"`
}

// NewData shapes a stored record into the public payload. FailureReason is
// null for approved records rather than an empty string.
func NewData(rec *storage.VerificationRecord) Data {
	var reason *string
	if rec.FailureReason != "" {
		r := rec.FailureReason
		reason = &r
	}
	return Data{
		VerificationID:       rec.ID,
		WalletAddress:        rec.WalletAddress,
		BusinessName:         rec.BusinessName,
		TotalTransactions:    rec.TotalTransactions,
		CreditedTransactions: rec.CreditedTransactions,
		UniqueWallets:        rec.UniqueWallets,
		MeetsRequirements:    rec.MeetsRequirements,
		FailureReason:        reason,
		VerificationStatus:   string(rec.Status),
		VerifiedAt:           rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
