// Package apperr defines machine-readable error codes for the verification
// pipeline and maps them onto HTTP statuses and the public error body.
package apperr

// Code is a machine-readable error identifier carried alongside the message.
type Code string

// Request validation errors
const (
	CodeMissingField   Code = "missing_field"
	CodeInvalidWallet  Code = "invalid_wallet"
	CodeInvalidRequest Code = "invalid_request"
	CodeBatchTooLarge  Code = "batch_too_large"
	CodeEmptyBatch     Code = "empty_batch"
)

// Authentication and quota errors
const (
	CodeUnauthorized  Code = "unauthorized"
	CodeQuotaExceeded Code = "quota_exceeded"
	CodeRateLimited   Code = "rate_limited"
)

// External ledger errors
const (
	CodeLedgerUnavailable Code = "ledger_unavailable"
	CodeLedgerTimeout     Code = "ledger_timeout"
)

// Internal/system errors
const (
	CodeInternalError    Code = "internal_error"
	CodePersistenceError Code = "persistence_error"
)

// IsRetryable reports whether the client can usefully retry the request.
// Ledger outages and throttling clear on their own; validation and auth
// failures do not.
func (c Code) IsRetryable() bool {
	switch c {
	case CodeLedgerUnavailable,
		CodeLedgerTimeout,
		CodeRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the HTTP status code this error is surfaced with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeMissingField,
		CodeInvalidWallet,
		CodeInvalidRequest,
		CodeBatchTooLarge,
		CodeEmptyBatch:
		return 400

	case CodeUnauthorized:
		return 401

	case CodeQuotaExceeded:
		return 403

	case CodeRateLimited:
		return 429

	case CodeLedgerUnavailable:
		return 503

	case CodeLedgerTimeout:
		return 504

	default:
		return 500
	}
}
