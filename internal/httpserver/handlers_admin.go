package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/apperr"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/circuitbreaker"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/logger"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/storage"
	"github.com/Avantemaps-pi/avante-verifier-internal/pkg/responders"
)

type healthResponse struct {
	Status         string            `json:"status"`
	Uptime         string            `json:"uptime"`
	StorageBackend string            `json:"storageBackend"`
	Breakers       map[string]string `json:"breakers"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(serverStartTime)
	responders.JSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Uptime:         uptime.Round(time.Second).String(),
		StorageBackend: h.cfg.Storage.Backend,
		Breakers: map[string]string{
			string(circuitbreaker.ServiceLedger):  h.breakers.State(circuitbreaker.ServiceLedger),
			string(circuitbreaker.ServiceWebhook): h.breakers.State(circuitbreaker.ServiceWebhook),
		},
	})
}

type deliveryBody struct {
	ID              string  `json:"id"`
	VerificationID  string  `json:"verificationId"`
	URL             string  `json:"url"`
	Event           string  `json:"event"`
	Status          string  `json:"status"`
	HTTPStatus      int     `json:"httpStatus,omitempty"`
	ResponseSnippet string  `json:"responseSnippet,omitempty"`
	ErrorMessage    string  `json:"errorMessage,omitempty"`
	Attempts        int     `json:"attempts"`
	CreatedAt       string  `json:"createdAt"`
	CompletedAt     *string `json:"completedAt"`
}

type deliveriesResponse struct {
	Success    bool           `json:"success"`
	Deliveries []deliveryBody `json:"deliveries"`
}

const (
	defaultDeliveryLimit = 50
	maxDeliveryLimit     = 200
)

// listWebhookDeliveries exposes the delivery log for operators debugging
// missed callbacks. Target URLs are redacted to scheme and host.
func (h *handlers) listWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := defaultDeliveryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			apperr.WriteMessage(w, apperr.CodeInvalidRequest, "Invalid limit parameter")
			return
		}
		if n > maxDeliveryLimit {
			n = maxDeliveryLimit
		}
		limit = n
	}

	rows, err := h.store.ListWebhookDeliveries(r.Context(), limit)
	if err != nil {
		apperr.WriteMessage(w, apperr.CodePersistenceError, "Failed to list webhook deliveries")
		return
	}

	out := make([]deliveryBody, 0, len(rows))
	for _, d := range rows {
		out = append(out, toDeliveryBody(d))
	}
	responders.JSON(w, http.StatusOK, deliveriesResponse{Success: true, Deliveries: out})
}

func toDeliveryBody(d storage.WebhookDelivery) deliveryBody {
	var completed *string
	if d.CompletedAt != nil {
		s := d.CompletedAt.UTC().Format(time.RFC3339)
		completed = &s
	}
	return deliveryBody{
		ID:              d.ID,
		VerificationID:  d.VerificationID,
		URL:             logger.RedactURL(d.URL),
		Event:           d.Event,
		Status:          d.Status,
		HTTPStatus:      d.HTTPStatus,
		ResponseSnippet: d.ResponseSnippet,
		ErrorMessage:    d.ErrorMessage,
		Attempts:        d.Attempts,
		CreatedAt:       d.CreatedAt.UTC().Format(time.RFC3339),
		CompletedAt:     completed,
	}
}
