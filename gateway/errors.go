package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/brendan612/latchkey/wire"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeAuthFailure sends a deliberately generic 401: which check failed is
// never revealed.
func writeAuthFailure(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, wire.ErrorResponse{Error: "authentication required"})
}

func writeForbidden(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusForbidden, wire.ErrorResponse{Error: msg})
}

// writeValidationFailure names the missing or malformed field.
func writeValidationFailure(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, wire.ErrorResponse{Error: msg})
}

func writeNotFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, wire.ErrorResponse{Error: msg})
}

func writeServerError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, wire.ErrorResponse{Error: err.Error()})
}

func writeRateLimited(w http.ResponseWriter) {
	writeJSON(w, http.StatusTooManyRequests, wire.ErrorResponse{Error: "rate limit exceeded; try again later"})
}
