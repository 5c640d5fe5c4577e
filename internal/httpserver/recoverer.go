package httpserver

import (
	"net/http"
	"runtime/debug"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/apperr"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/logger"
)

// jsonRecoverer converts handler panics into the standard JSON error body
// instead of chi's plain-text 500.
func jsonRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log := logger.FromContext(r.Context())
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("request.panic")
				apperr.WriteMessage(w, apperr.CodeInternalError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
