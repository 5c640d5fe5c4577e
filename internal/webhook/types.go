// Package webhook delivers verification results to caller-supplied HTTP
// callbacks: signed payloads, bounded retries, and a persisted delivery log.
package webhook

import (
	"fmt"
	"net/url"
)

// Event names carried in the payload and the X-Webhook-Event header.
const (
	EventVerificationCompleted = "verification.completed"
	EventBatchCompleted        = "batch.verification.completed"
)

// Envelope is the JSON body POSTed to the callback. The serialised bytes of
// this struct are exactly what gets signed.
type Envelope struct {
	Event     string      `json:"event"`
	Timestamp string      `json:"timestamp"` // ISO-8601 UTC
	Data      interface{} `json:"data"`
}

// Wire header names.
const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderSignature = "X-Webhook-Signature"
)

// ValidateURL accepts only absolute http or https URLs. Called at
// request-parse time so a bad callback fails the request up front instead
// of surfacing as a silent delivery failure.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook URL must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("webhook URL must be absolute")
	}
	return nil
}
