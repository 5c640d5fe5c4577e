package allowance

import (
	"context"
	"testing"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/apperr"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/storage"
)

func TestCheckAllowsFreshUser(t *testing.T) {
	gate := NewGate(storage.NewMemoryStore())

	a, err := gate.Check(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("fresh user should be allowed: %v", err)
	}
	if !a.Allowed {
		t.Error("allowance should report allowed")
	}
	if a.Tier != "free" {
		t.Errorf("expected free tier, got %q", a.Tier)
	}
}

func TestCheckRefusesExhaustedQuota(t *testing.T) {
	store := storage.NewMemoryStore()
	store.GrantTier("user-2", "free", 1)
	gate := NewGate(store)
	ctx := context.Background()

	if _, err := gate.Check(ctx, "user-2"); err != nil {
		t.Fatalf("first check: %v", err)
	}
	gate.BumpUsage(ctx, "user-2")

	_, err := gate.Check(ctx, "user-2")
	if err == nil {
		t.Fatal("exhausted quota must refuse")
	}
	if code := apperr.CodeOf(err); code != apperr.CodeQuotaExceeded {
		t.Errorf("expected quota_exceeded, got %s", code)
	}
}
