package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
)

func TestCodeHTTPStatus(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeMissingField, 400},
		{CodeInvalidWallet, 400},
		{CodeUnauthorized, 401},
		{CodeQuotaExceeded, 403},
		{CodeRateLimited, 429},
		{CodeLedgerUnavailable, 503},
		{CodeLedgerTimeout, 504},
		{CodeInternalError, 500},
		{Code("made_up"), 500},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.code, tc.want, got)
		}
	}
}

func TestCodeOfWalksWrapChain(t *testing.T) {
	inner := New(CodeLedgerTimeout, "ledger request timed out")
	wrapped := fmt.Errorf("verify wallet: %w", inner)

	if got := CodeOf(wrapped); got != CodeLedgerTimeout {
		t.Errorf("expected %s, got %s", CodeLedgerTimeout, got)
	}
	if got := CodeOf(errors.New("plain")); got != CodeInternalError {
		t.Errorf("uncoded error should map to internal_error, got %s", got)
	}
}

func TestMessageOfHidesInternals(t *testing.T) {
	if got := MessageOf(errors.New("pq: connection refused")); got != "Internal server error" {
		t.Errorf("internals leaked: %q", got)
	}
	if got := MessageOf(New(CodeInvalidWallet, "Invalid wallet address format")); got != "Invalid wallet address format" {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(CodeLedgerUnavailable, "Unable to fetch transaction data", cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable through errors.Is")
	}
	if MessageOf(err) != "Unable to fetch transaction data" {
		t.Errorf("unexpected message: %q", MessageOf(err))
	}
}

func TestWriteErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, New(CodeRateLimited, "Rate limit exceeded. Try again later."))

	if rec.Code != 429 {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Success {
		t.Error("success must be false on errors")
	}
	if body.Error != "Rate limit exceeded. Try again later." {
		t.Errorf("unexpected error message: %q", body.Error)
	}
	if body.Code != CodeRateLimited {
		t.Errorf("unexpected code: %q", body.Code)
	}
}

func TestIsRetryable(t *testing.T) {
	if !CodeLedgerUnavailable.IsRetryable() {
		t.Error("ledger_unavailable should be retryable")
	}
	if CodeInvalidWallet.IsRetryable() {
		t.Error("invalid_wallet should not be retryable")
	}
}
