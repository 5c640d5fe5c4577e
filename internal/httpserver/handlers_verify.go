package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/apperr"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/verify"
	"github.com/Avantemaps-pi/avante-verifier-internal/pkg/responders"
)

// verifyRequestBody is the wire shape of a single verification request.
// Threshold overrides are pointers so that absent fields fall back to the
// configured defaults.
type verifyRequestBody struct {
	WalletAddress           string `json:"walletAddress"`
	BusinessName            string `json:"businessName"`
	ExternalUserID          string `json:"externalUserId"`
	ForceRefresh            bool   `json:"forceRefresh"`
	WebhookURL              string `json:"webhookUrl"`
	WebhookSecret           string `json:"webhookSecret"`
	MinTransactions         *int   `json:"minTransactions"`
	MinCreditedTransactions *int   `json:"minCreditedTransactions"`
	MinUniqueWallets        *int   `json:"minUniqueWallets"`
}

type verifyResponseBody struct {
	Success        bool        `json:"success"`
	Cached         bool        `json:"cached"`
	CacheExpiresAt string      `json:"cacheExpiresAt"`
	WebhookQueued  bool        `json:"webhookQueued"`
	Data           verify.Data `json:"data"`
}

func (h *handlers) verifyBusiness(w http.ResponseWriter, r *http.Request) {
	var body verifyRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.WriteMessage(w, apperr.CodeInvalidRequest, "Invalid JSON body")
		return
	}

	res, err := h.verifier.Verify(r.Context(), h.toRequest(body, nil))
	if err != nil {
		h.writeVerifyError(w, err)
		return
	}

	writeCacheHeaders(w, res)
	responders.JSON(w, http.StatusOK, verifyResponseBody{
		Success:        true,
		Cached:         res.Cached,
		CacheExpiresAt: res.CacheExpiresAt.UTC().Format(time.RFC3339),
		WebhookQueued:  res.WebhookQueued,
		Data:           verify.NewData(res.Record),
	})
}

// batchRequestBody is the wire shape of a batch envelope. Envelope-level
// forceRefresh and threshold overrides apply to every entry unless the entry
// sets its own.
type batchRequestBody struct {
	Verifications           []verifyRequestBody `json:"verifications"`
	ForceRefresh            bool                `json:"forceRefresh"`
	WebhookURL              string              `json:"webhookUrl"`
	WebhookSecret           string              `json:"webhookSecret"`
	MinTransactions         *int                `json:"minTransactions"`
	MinCreditedTransactions *int                `json:"minCreditedTransactions"`
	MinUniqueWallets        *int                `json:"minUniqueWallets"`
}

type batchEntryBody struct {
	Success        bool         `json:"success"`
	Error          string       `json:"error,omitempty"`
	Cached         bool         `json:"cached,omitempty"`
	CacheExpiresAt string       `json:"cacheExpiresAt,omitempty"`
	WebhookQueued  bool         `json:"webhookQueued,omitempty"`
	Data           *verify.Data `json:"data,omitempty"`
}

type batchResponseBody struct {
	Success         bool             `json:"success"`
	BatchID         string           `json:"batchId"`
	TotalRequested  int              `json:"totalRequested"`
	TotalProcessed  int              `json:"totalProcessed"`
	TotalSuccessful int              `json:"totalSuccessful"`
	TotalFailed     int              `json:"totalFailed"`
	Results         []batchEntryBody `json:"results"`
}

func (h *handlers) verifyBusinessBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.WriteMessage(w, apperr.CodeInvalidRequest, "Invalid JSON body")
		return
	}

	entries := make([]verify.Request, 0, len(body.Verifications))
	for _, entry := range body.Verifications {
		if body.ForceRefresh {
			entry.ForceRefresh = true
		}
		entries = append(entries, h.toRequest(entry, &body))
	}

	res, err := h.verifier.VerifyBatch(r.Context(), verify.BatchRequest{
		Entries:       entries,
		WebhookURL:    strings.TrimSpace(body.WebhookURL),
		WebhookSecret: body.WebhookSecret,
	})
	if err != nil {
		apperr.WriteError(w, err)
		return
	}

	results := make([]batchEntryBody, 0, len(res.Results))
	for _, entry := range res.Results {
		if !entry.Success {
			results = append(results, batchEntryBody{Error: entry.Error})
			continue
		}
		data := verify.NewData(entry.Result.Record)
		results = append(results, batchEntryBody{
			Success:        true,
			Cached:         entry.Result.Cached,
			CacheExpiresAt: entry.Result.CacheExpiresAt.UTC().Format(time.RFC3339),
			WebhookQueued:  entry.Result.WebhookQueued,
			Data:           &data,
		})
	}

	responders.JSON(w, http.StatusOK, batchResponseBody{
		Success:         true,
		BatchID:         res.BatchID,
		TotalRequested:  res.TotalRequested,
		TotalProcessed:  res.TotalProcessed,
		TotalSuccessful: res.TotalSuccessful,
		TotalFailed:     res.TotalFailed,
		Results:         results,
	})
}

// toRequest normalises a wire body into a pipeline request. For batch
// entries, envelope-level threshold overrides fill in where the entry is
// silent.
func (h *handlers) toRequest(body verifyRequestBody, envelope *batchRequestBody) verify.Request {
	minTotal := body.MinTransactions
	minCredited := body.MinCreditedTransactions
	minUnique := body.MinUniqueWallets
	if envelope != nil {
		if minTotal == nil {
			minTotal = envelope.MinTransactions
		}
		if minCredited == nil {
			minCredited = envelope.MinCreditedTransactions
		}
		if minUnique == nil {
			minUnique = envelope.MinUniqueWallets
		}
	}
	return verify.Request{
		WalletAddress:  strings.TrimSpace(body.WalletAddress),
		BusinessName:   strings.TrimSpace(body.BusinessName),
		ExternalUserID: strings.TrimSpace(body.ExternalUserID),
		ForceRefresh:   body.ForceRefresh,
		WebhookURL:     strings.TrimSpace(body.WebhookURL),
		WebhookSecret:  body.WebhookSecret,
		Thresholds:     h.verifier.ResolveThresholds(minTotal, minCredited, minUnique),
	}
}

// writeVerifyError maps pipeline refusals to the wire. The per-wallet rate
// limiter carries its own headers; everything else derives the status from
// the error code.
func (h *handlers) writeVerifyError(w http.ResponseWriter, err error) {
	var rle *verify.RateLimitError
	if errors.As(err, &rle) {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rle.Limit))
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rle.ResetAt.Unix(), 10))
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(rle.ResetAt), 10))
		apperr.WriteMessage(w, apperr.CodeRateLimited, rle.Error())
		return
	}
	apperr.WriteError(w, err)
}

func retryAfterSeconds(resetAt time.Time) int64 {
	secs := int64(time.Until(resetAt).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

func writeCacheHeaders(w http.ResponseWriter, res *verify.Result) {
	if res.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.Header().Set("X-Cache-Expires", res.CacheExpiresAt.UTC().Format(time.RFC3339))
}
