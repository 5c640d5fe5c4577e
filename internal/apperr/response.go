package apperr

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the public error body. Every non-2xx response carries
// this shape: a success flag pinned to false and a human-readable message.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    Code   `json:"code,omitempty"`
}

// WriteError writes err as a JSON error response, deriving the HTTP status
// from the error's code.
func WriteError(w http.ResponseWriter, err error) {
	code := CodeOf(err)
	WriteMessage(w, code, MessageOf(err))
}

// WriteMessage writes an error response with an explicit code and message.
func WriteMessage(w http.ResponseWriter, code Code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	json.NewEncoder(w).Encode(ErrorResponse{
		Success: false,
		Error:   message,
		Code:    code,
	})
}
