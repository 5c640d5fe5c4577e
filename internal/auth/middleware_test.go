package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func authedHandler(apiKey, internalKey string) http.Handler {
	return Middleware(apiKey, internalKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestMiddlewareAcceptsAPIKey(t *testing.T) {
	h := authedHandler("server-key", "internal-key")

	req := httptest.NewRequest(http.MethodPost, "/verify-business", nil)
	req.Header.Set("x-api-key", "server-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("valid api key rejected: %d", rec.Code)
	}
}

func TestMiddlewareAcceptsInternalKey(t *testing.T) {
	h := authedHandler("server-key", "internal-key")

	req := httptest.NewRequest(http.MethodPost, "/verify-business", nil)
	req.Header.Set("apikey", "internal-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("valid internal key rejected: %d", rec.Code)
	}
}

func TestMiddlewareRejects(t *testing.T) {
	h := authedHandler("server-key", "internal-key")

	cases := []struct {
		name   string
		header string
		value  string
	}{
		{"missing", "", ""},
		{"wrong api key", "x-api-key", "nope"},
		{"wrong internal key", "apikey", "nope"},
		{"api key on internal header", "apikey", "server-key"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/verify-business", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			var body struct {
				Success bool   `json:"success"`
				Error   string `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Success {
				t.Error("success must be false")
			}
			if body.Error != "Unauthorized: Invalid or missing API key" {
				t.Errorf("unexpected message: %q", body.Error)
			}
		})
	}
}

func TestEmptyConfiguredKeysNeverMatch(t *testing.T) {
	h := authedHandler("server-key", "")

	req := httptest.NewRequest(http.MethodPost, "/verify-business", nil)
	req.Header.Set("apikey", "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("empty internal key must not authenticate, got %d", rec.Code)
	}
}
