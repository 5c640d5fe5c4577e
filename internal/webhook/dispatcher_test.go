package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/storage"
	"github.com/rs/zerolog"
)

var testBackoff = []time.Duration{0, 5 * time.Millisecond, 10 * time.Millisecond}

func newTestDispatcher(store storage.Store) *Dispatcher {
	return NewDispatcher(store, zerolog.Nop(), 2*time.Second, 3, testBackoff)
}

func lastDelivery(t *testing.T, store storage.Store) storage.WebhookDelivery {
	t.Helper()
	list, err := store.ListWebhookDeliveries(context.Background(), 1)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(list) == 0 {
		t.Fatal("no delivery rows")
	}
	return list[0]
}

func TestDeliverySuccessFirstAttempt(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := storage.NewMemoryStore()
	d := newTestDispatcher(store)

	id, err := d.Enqueue(context.Background(), srv.URL, "topsecret",
		EventVerificationCompleted, "ver_1", map[string]string{"walletAddress": "GAAA"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == "" {
		t.Fatal("expected delivery id")
	}
	d.Drain()

	if gotHeaders.Get(HeaderEvent) != EventVerificationCompleted {
		t.Errorf("event header: %q", gotHeaders.Get(HeaderEvent))
	}
	if gotHeaders.Get("Content-Type") != "application/json" {
		t.Errorf("content type: %q", gotHeaders.Get("Content-Type"))
	}
	if gotHeaders.Get(HeaderTimestamp) == "" {
		t.Error("timestamp header missing")
	}

	// The signature must verify against the exact bytes on the wire.
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if got := gotHeaders.Get(HeaderSignature); got != want {
		t.Errorf("signature mismatch:\n got %s\nwant %s", got, want)
	}

	var envelope Envelope
	if err := json.Unmarshal(gotBody, &envelope); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if envelope.Event != EventVerificationCompleted {
		t.Errorf("payload event: %q", envelope.Event)
	}

	row := lastDelivery(t, store)
	if row.Status != storage.DeliverySucceeded || row.Attempts != 1 || row.HTTPStatus != 200 {
		t.Errorf("unexpected delivery row: %+v", row)
	}
}

func TestDeliveryNoSignatureWithoutSecret(t *testing.T) {
	var sig atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig.Store(r.Header.Get(HeaderSignature))
	}))
	defer srv.Close()

	store := storage.NewMemoryStore()
	d := newTestDispatcher(store)
	if _, err := d.Enqueue(context.Background(), srv.URL, "", EventVerificationCompleted, "ver_1", nil); err != nil {
		t.Fatal(err)
	}
	d.Drain()

	if got, _ := sig.Load().(string); got != "" {
		t.Errorf("signature must be absent without a secret, got %q", got)
	}
}

func TestDeliveryRetriesOn5xxThenFails(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "downstream broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := storage.NewMemoryStore()
	d := newTestDispatcher(store)
	if _, err := d.Enqueue(context.Background(), srv.URL, "", EventVerificationCompleted, "ver_1", nil); err != nil {
		t.Fatal(err)
	}
	d.Drain()

	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	row := lastDelivery(t, store)
	if row.Status != storage.DeliveryFailed || row.Attempts != 3 || row.HTTPStatus != 500 {
		t.Errorf("unexpected delivery row: %+v", row)
	}
	if row.CompletedAt == nil {
		t.Error("completedAt missing")
	}
}

func TestDeliveryRecoversOnRetry(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := storage.NewMemoryStore()
	d := newTestDispatcher(store)
	if _, err := d.Enqueue(context.Background(), srv.URL, "", EventVerificationCompleted, "ver_1", nil); err != nil {
		t.Fatal(err)
	}
	d.Drain()

	row := lastDelivery(t, store)
	if row.Status != storage.DeliverySucceeded || row.Attempts != 3 {
		t.Errorf("expected success on third attempt: %+v", row)
	}
}

func TestDelivery4xxIsPermanent(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	store := storage.NewMemoryStore()
	d := newTestDispatcher(store)
	if _, err := d.Enqueue(context.Background(), srv.URL, "", EventVerificationCompleted, "ver_1", nil); err != nil {
		t.Fatal(err)
	}
	d.Drain()

	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("4xx must not retry, got %d attempts", got)
	}
	row := lastDelivery(t, store)
	if row.Status != storage.DeliveryFailed || row.HTTPStatus != http.StatusGone {
		t.Errorf("unexpected delivery row: %+v", row)
	}
}

func TestDelivery429Retries(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	store := storage.NewMemoryStore()
	d := newTestDispatcher(store)
	if _, err := d.Enqueue(context.Background(), srv.URL, "", EventVerificationCompleted, "ver_1", nil); err != nil {
		t.Fatal(err)
	}
	d.Drain()

	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("429 must retry, got %d attempts", got)
	}
}

func TestSignKnownVector(t *testing.T) {
	// Independently computed HMAC-SHA256("secret", `{"a":1}`).
	got := Sign("secret", []byte(`{"a":1}`))
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(`{"a":1}`))
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if got != want {
		t.Errorf("got %s want %s", got, want)
	}
}

func TestValidateURL(t *testing.T) {
	valid := []string{
		"https://hooks.example.com/cb",
		"http://localhost:8080/hook",
	}
	for _, u := range valid {
		if err := ValidateURL(u); err != nil {
			t.Errorf("%s should be valid: %v", u, err)
		}
	}

	invalid := []string{
		"ftp://example.com/cb",
		"file:///etc/passwd",
		"not a url at all",
		"/relative/path",
		"",
	}
	for _, u := range invalid {
		if err := ValidateURL(u); err == nil {
			t.Errorf("%q should be rejected", u)
		}
	}
}
