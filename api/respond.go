package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloudx-io/sealedvwap/auction"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

var statusByCode = map[string]int{
	"missing_caller":     http.StatusUnauthorized,
	"not_seller":         http.StatusForbidden,
	"unknown_auction":    http.StatusNotFound,
	"unknown_request":    http.StatusNotFound,
	"invalid_proof":      http.StatusUnprocessableEntity,
	"transfer_failed":    http.StatusUnprocessableEntity,
	"outside_window":     http.StatusConflict,
	"too_early":          http.StatusConflict,
	"no_demand":          http.StatusConflict,
	"has_demand":         http.StatusConflict,
	"already_computed":   http.StatusConflict,
	"not_computed":       http.StatusConflict,
	"already_requested":  http.StatusConflict,
	"already_published":  http.StatusConflict,
	"not_published":      http.StatusConflict,
	"already_settled":    http.StatusConflict,
	"already_reclaimed":  http.StatusConflict,
	"reentrant":          http.StatusConflict,
	"oracle_unavailable": http.StatusServiceUnavailable,
}

// statusFor maps an engine error to an HTTP status: integrity violations and unknown
// failures are server errors, every other rejection is the caller's.
func statusFor(err error) int {
	if auction.IsIntegrity(err) {
		return http.StatusInternalServerError
	}
	var ae *auction.Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	if status, ok := statusByCode[ae.Code]; ok {
		return status
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Code: code, Error: msg})
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, auction.Code(err), msg)
}
