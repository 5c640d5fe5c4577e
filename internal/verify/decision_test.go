package verify

import (
	"strings"
	"testing"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/horizon"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/storage"
)

var defaultThresholds = Thresholds{MinTotal: 100, MinCredited: 50, MinUnique: 10}

func TestDecideApproved(t *testing.T) {
	status, reason := Decide(horizon.Counters{Total: 150, Credited: 80, UniqueCounterparties: 25}, defaultThresholds)
	if status != storage.StatusApproved {
		t.Errorf("expected approved, got %s", status)
	}
	if reason != "" {
		t.Errorf("approved must have empty reason, got %q", reason)
	}
}

func TestDecideApprovedAtExactThresholds(t *testing.T) {
	status, _ := Decide(horizon.Counters{Total: 100, Credited: 50, UniqueCounterparties: 10}, defaultThresholds)
	if status != storage.StatusApproved {
		t.Errorf("boundary counters must approve, got %s", status)
	}
}

func TestDecideOnlyCreditedFails(t *testing.T) {
	status, reason := Decide(horizon.Counters{Total: 120, Credited: 30, UniqueCounterparties: 15}, defaultThresholds)
	if status != storage.StatusRejected {
		t.Fatalf("expected rejected, got %s", status)
	}
	if reason != "Insufficient credited transactions (30/50)" {
		t.Errorf("unexpected reason: %q", reason)
	}
}

func TestDecideOnlyTotalFails(t *testing.T) {
	_, reason := Decide(horizon.Counters{Total: 90, Credited: 60, UniqueCounterparties: 12}, defaultThresholds)
	if reason != "Insufficient transactions (90/100)" {
		t.Errorf("unexpected reason: %q", reason)
	}
}

func TestDecideOnlyUniqueFails(t *testing.T) {
	_, reason := Decide(horizon.Counters{Total: 120, Credited: 60, UniqueCounterparties: 5}, defaultThresholds)
	if reason != "Insufficient unique wallets (5/10)" {
		t.Errorf("unexpected reason: %q", reason)
	}
}

func TestDecideTotalAndCreditedCombined(t *testing.T) {
	_, reason := Decide(horizon.Counters{Total: 40, Credited: 40, UniqueCounterparties: 15}, defaultThresholds)
	if reason != "Insufficient total (40/100) and credited (40/50) transactions" {
		t.Errorf("unexpected reason: %q", reason)
	}
}

func TestDecideTotalAndUniqueCombined(t *testing.T) {
	_, reason := Decide(horizon.Counters{Total: 40, Credited: 40, UniqueCounterparties: 5}, Thresholds{MinTotal: 100, MinCredited: 40, MinUnique: 10})
	if !strings.Contains(reason, "Insufficient transactions (40/100)") {
		t.Errorf("missing total predicate: %q", reason)
	}
	if !strings.Contains(reason, "Insufficient unique wallets (5/10)") {
		t.Errorf("missing unique predicate: %q", reason)
	}
	if strings.Index(reason, "Insufficient transactions") > strings.Index(reason, "Insufficient unique wallets") {
		t.Errorf("predicates out of order: %q", reason)
	}
}

func TestDecideAllFail(t *testing.T) {
	_, reason := Decide(horizon.Counters{Total: 40, Credited: 20, UniqueCounterparties: 5}, defaultThresholds)
	want := "Insufficient total (40/100) and credited (20/50) transactions; Insufficient unique wallets (5/10)"
	if reason != want {
		t.Errorf("got %q want %q", reason, want)
	}
}

func TestDecideZeroCounters(t *testing.T) {
	status, reason := Decide(horizon.Counters{}, defaultThresholds)
	if status != storage.StatusRejected {
		t.Fatalf("unfunded wallet must reject, got %s", status)
	}
	if !strings.Contains(reason, "Insufficient total (0/100)") {
		t.Errorf("reason should mention totals: %q", reason)
	}
}

func TestDecideZeroThresholdsAlwaysApprove(t *testing.T) {
	status, _ := Decide(horizon.Counters{}, Thresholds{})
	if status != storage.StatusApproved {
		t.Errorf("zero thresholds must approve anything, got %s", status)
	}
}

func TestDecideDeterministic(t *testing.T) {
	c := horizon.Counters{Total: 40, Credited: 20, UniqueCounterparties: 5}
	s1, r1 := Decide(c, defaultThresholds)
	s2, r2 := Decide(c, defaultThresholds)
	if s1 != s2 || r1 != r2 {
		t.Error("decision must be deterministic on identical inputs")
	}
}
