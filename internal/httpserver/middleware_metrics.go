package httpserver

import (
	"crypto/subtle"
	"net/http"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/apperr"
)

// adminMetricsAuth guards the metrics endpoint with a bearer token. An empty
// configured key leaves the endpoint open, which suits private deployments
// where the scraper and the service share a network.
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			expected := "Bearer " + apiKey
			got := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				apperr.WriteMessage(w, apperr.CodeUnauthorized, "Unauthorized: Invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
