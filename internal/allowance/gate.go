// Package allowance gates verifications on the caller's subscription quota.
package allowance

import (
	"context"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/apperr"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/logger"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/storage"
)

// Gate consults the subscription usage store before a ledger scan runs and
// bumps usage after a verification persists.
type Gate struct {
	store storage.Store
}

// NewGate creates an allowance gate over the given store.
func NewGate(store storage.Store) *Gate {
	return &Gate{store: store}
}

// Check returns the user's allowance, or a quota error when it is exhausted.
func (g *Gate) Check(ctx context.Context, externalUserID string) (storage.Allowance, error) {
	a, err := g.store.CheckAllowance(ctx, externalUserID)
	if err != nil {
		return storage.Allowance{}, apperr.Wrap(apperr.CodePersistenceError,
			"Internal server error", err)
	}
	if !a.Allowed {
		return a, apperr.New(apperr.CodeQuotaExceeded,
			"Verification allowance exhausted for the current period")
	}
	return a, nil
}

// BumpUsage increments the user's consumed quota. Best-effort: a failure is
// logged and never fails the verification that already completed.
func (g *Gate) BumpUsage(ctx context.Context, externalUserID string) {
	if err := g.store.IncrementUsage(ctx, externalUserID); err != nil {
		log := logger.FromContext(ctx)
		log.Error().
			Err(err).
			Str("external_user_id", externalUserID).
			Msg("allowance.increment_failed")
	}
}
