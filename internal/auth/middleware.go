// Package auth guards the verification endpoints with a shared API key or
// an internal platform trust key.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/apperr"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/logger"
)

// Header names. External integrations send x-api-key; calls relayed by the
// platform's edge functions carry the anonymous key on apikey instead.
const (
	HeaderAPIKey      = "x-api-key"
	HeaderInternalKey = "apikey"
)

const unauthorizedMessage = "Unauthorized: Invalid or missing API key"

// Middleware returns a middleware enforcing one of the two accepted
// credentials. A request passes when either header matches its configured
// key; comparison is constant-time.
func Middleware(apiKey, internalTrustKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authorized(r, apiKey, internalTrustKey) {
				next.ServeHTTP(w, r)
				return
			}

			log := logger.FromContext(r.Context())
			log.Warn().
				Str("path", r.URL.Path).
				Msg("auth.rejected")
			apperr.WriteMessage(w, apperr.CodeUnauthorized, unauthorizedMessage)
		})
	}
}

func authorized(r *http.Request, apiKey, internalTrustKey string) bool {
	if secureCompare(r.Header.Get(HeaderAPIKey), apiKey) {
		return true
	}
	return secureCompare(r.Header.Get(HeaderInternalKey), internalTrustKey)
}

// secureCompare reports whether candidate equals secret without leaking
// match position through timing. Empty secrets never match, so an unset
// internal trust key cannot be satisfied by an empty header.
func secureCompare(candidate, secret string) bool {
	if secret == "" || len(candidate) != len(secret) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(secret)) == 1
}
