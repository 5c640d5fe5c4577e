package horizon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/apperr"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/circuitbreaker"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/config"
)

const testWallet = "GBUQWP3BOUZX34TOND2QV7QQ7K7VJTG6VSE7WMLBTMDJLLAW7YKGU6FB"

type fakeRecord struct {
	PagingToken string `json:"paging_token"`
	Type        string `json:"type"`
	From        string `json:"from"`
	To          string `json:"to"`
}

func writePage(w http.ResponseWriter, records []fakeRecord) {
	body := map[string]interface{}{
		"_embedded": map[string]interface{}{"records": records},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func TestFetchPaymentsCountsAndClassifies(t *testing.T) {
	records := []fakeRecord{
		{PagingToken: "1", Type: "payment", From: "GAAA", To: testWallet},
		{PagingToken: "2", Type: "payment", From: testWallet, To: "GBBB"},
		{PagingToken: "3", Type: "path_payment_strict_send", From: "GAAA", To: testWallet},
		{PagingToken: "4", Type: "create_account", From: "GCCC", To: testWallet}, // not a payment type
		{PagingToken: "5", Type: "path_payment", From: "GDDD", To: testWallet},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/"+testWallet+"/payments" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("order"); got != "desc" {
			t.Errorf("expected order=desc, got %q", got)
		}
		writePage(w, records)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	got, err := c.FetchPayments(context.Background(), testWallet)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if got.Total != 4 {
		t.Errorf("total: expected 4, got %d", got.Total)
	}
	if got.Credited != 3 {
		t.Errorf("credited: expected 3, got %d", got.Credited)
	}
	// GAAA (twice), GBBB, GDDD -> 3 unique counterparties.
	if got.UniqueCounterparties != 3 {
		t.Errorf("unique: expected 3, got %d", got.UniqueCounterparties)
	}
}

func TestFetchPaymentsPaginates(t *testing.T) {
	const pageLimit = 3
	var cursors []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		cursors = append(cursors, cursor)

		if got := r.URL.Query().Get("limit"); got != "3" {
			t.Errorf("expected limit=3, got %q", got)
		}

		switch cursor {
		case "":
			writePage(w, []fakeRecord{
				{PagingToken: "a1", Type: "payment", From: "G001", To: testWallet},
				{PagingToken: "a2", Type: "payment", From: "G002", To: testWallet},
				{PagingToken: "a3", Type: "payment", From: "G003", To: testWallet},
			})
		case "a3":
			// Short page ends the scan.
			writePage(w, []fakeRecord{
				{PagingToken: "b1", Type: "payment", From: testWallet, To: "G004"},
			})
		default:
			t.Errorf("unexpected cursor %q", cursor)
			writePage(w, nil)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, WithPageLimit(pageLimit))
	got, err := c.FetchPayments(context.Background(), testWallet)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if len(cursors) != 2 || cursors[0] != "" || cursors[1] != "a3" {
		t.Errorf("unexpected cursor sequence: %v", cursors)
	}
	if got.Total != 4 || got.Credited != 3 || got.UniqueCounterparties != 4 {
		t.Errorf("unexpected counters: %+v", got)
	}
}

func TestFetchPaymentsStopsAtMaxRecords(t *testing.T) {
	const pageLimit = 5
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Always serves a full page so only the cap ends the scan.
		records := make([]fakeRecord, pageLimit)
		cursor := r.URL.Query().Get("cursor")
		for i := range records {
			records[i] = fakeRecord{
				PagingToken: fmt.Sprintf("%s-%d", cursor, i),
				Type:        "payment",
				From:        fmt.Sprintf("G%s%03d", cursor, i),
				To:          testWallet,
			}
		}
		writePage(w, records)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, WithPageLimit(pageLimit), WithMaxRecords(12))
	got, err := c.FetchPayments(context.Background(), testWallet)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Total != 12 {
		t.Errorf("expected scan capped at 12 records, got %d", got.Total)
	}
}

func TestFetchPaymentsAccountNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":404}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	got, err := c.FetchPayments(context.Background(), testWallet)
	if err != nil {
		t.Fatalf("404 must not be an error: %v", err)
	}
	if got.Total != 0 || got.Credited != 0 || got.UniqueCounterparties != 0 {
		t.Errorf("expected zero counters, got %+v", got)
	}
}

func TestFetchPaymentsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	_, err := c.FetchPayments(context.Background(), testWallet)
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if code := apperr.CodeOf(err); code != apperr.CodeLedgerUnavailable {
		t.Errorf("expected ledger_unavailable, got %s", code)
	}
}

func TestFetchPaymentsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writePage(w, nil)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20*time.Millisecond)
	_, err := c.FetchPayments(context.Background(), testWallet)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if code := apperr.CodeOf(err); code != apperr.CodeLedgerTimeout {
		t.Errorf("expected ledger_timeout, got %s", code)
	}
}

func ledgerBreaker(consecutiveFailures uint32) *circuitbreaker.Manager {
	cfg := config.CircuitBreakerConfig{Enabled: true}
	cfg.Ledger.ConsecutiveFailures = consecutiveFailures
	cfg.Ledger.Timeout = config.Duration{Duration: time.Minute}
	return circuitbreaker.NewManagerFromConfig(cfg, zerolog.Nop())
}

func TestFetchPaymentsUnfundedWalletsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":404}`, http.StatusNotFound)
	}))
	defer srv.Close()

	// More lookups than the trip threshold; every one must still come back
	// as zero counters, not an open-breaker refusal.
	c := NewClient(srv.URL, 5*time.Second, WithBreaker(ledgerBreaker(5)))
	for i := 0; i < 8; i++ {
		got, err := c.FetchPayments(context.Background(), testWallet)
		if err != nil {
			t.Fatalf("lookup %d: %v", i+1, err)
		}
		if got.Total != 0 || got.Credited != 0 || got.UniqueCounterparties != 0 {
			t.Fatalf("lookup %d: expected zero counters, got %+v", i+1, got)
		}
	}
}

func TestFetchPaymentsOpenBreakerMapsToLedgerUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, WithBreaker(ledgerBreaker(2)))
	for i := 0; i < 2; i++ {
		if _, err := c.FetchPayments(context.Background(), testWallet); err == nil {
			t.Fatalf("failure %d should error", i+1)
		}
	}

	_, err := c.FetchPayments(context.Background(), testWallet)
	if err == nil {
		t.Fatal("expected refusal from the open breaker")
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected open-state refusal in the chain, got %v", err)
	}
	if code := apperr.CodeOf(err); code != apperr.CodeLedgerUnavailable {
		t.Errorf("expected ledger_unavailable, got %s", code)
	}
}

func TestCounterpartyExcludesSelfAndEmpty(t *testing.T) {
	if cp := counterparty(paymentRecord{From: testWallet, To: testWallet}, testWallet); cp != "" {
		t.Errorf("self payment should have no counterparty, got %q", cp)
	}
	if cp := counterparty(paymentRecord{From: "", To: testWallet}, testWallet); cp != "" {
		t.Errorf("empty sender should have no counterparty, got %q", cp)
	}
	if cp := counterparty(paymentRecord{From: "GAAA", To: testWallet}, testWallet); cp != "GAAA" {
		t.Errorf("expected GAAA, got %q", cp)
	}
}
