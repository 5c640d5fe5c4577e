package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestTruncateAddress(t *testing.T) {
	addr := "GBUQWP3BOUZX34TOND2QV7QQ7K7VJTG6VSE7WMLBTMDJLLAW7YKGU6FB"
	got := TruncateAddress(addr)
	want := "GBUQWP3B...U6FB"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	if got := TruncateAddress("short"); got != "short" {
		t.Errorf("short addresses should pass through, got %q", got)
	}
}

func TestRedactURL(t *testing.T) {
	got := RedactURL("https://hooks.example.com/t/secret-token-123")
	if got != "https://hooks.example.com" {
		t.Errorf("unexpected redaction: %q", got)
	}
	if got := RedactURL("not a url"); got != "[redacted]" {
		t.Errorf("unparseable URLs should fully redact, got %q", got)
	}
}

func TestMiddlewareSetsRequestID(t *testing.T) {
	var seenID string
	handler := Middleware(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/verify-business", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seenID == "" {
		t.Fatal("request ID missing from context")
	}
	if rec.Header().Get("X-Request-ID") != seenID {
		t.Errorf("response header %q does not match context ID %q",
			rec.Header().Get("X-Request-ID"), seenID)
	}
}

func TestMiddlewarePropagatesClientRequestID(t *testing.T) {
	handler := Middleware(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req_client_chosen")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req_client_chosen" {
		t.Errorf("client request ID not propagated, got %q", got)
	}
}

func TestFromContextFallsBackToNop(t *testing.T) {
	l := FromContext(nil)
	// Nop logger should be disabled at every level.
	if l.GetLevel() != zerolog.Disabled {
		t.Errorf("expected disabled logger, got level %v", l.GetLevel())
	}
}
