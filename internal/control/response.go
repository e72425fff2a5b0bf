// Package control implements the Status/Control API (C5): read-only
// progress, manual retry of failed articles, force-publish-partial, and a
// manual trigger endpoint. It reads and mutates the Task Store directly and
// invokes Phase Handlers / the Driver on demand; it holds no state of its
// own between requests.
package control

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// SuccessResponse is the standard envelope for 2xx responses.
type SuccessResponse struct {
	Status    string      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// WriteJSON writes data as a SuccessResponse with the given status code.
func WriteJSON(w http.ResponseWriter, r *http.Request, data interface{}, status int) {
	resp := SuccessResponse{
		Status:    "success",
		Data:      data,
		RequestID: GetRequestID(r),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("control: failed to encode success response")
	}
}

// WriteSuccess writes a 200 with data.
func WriteSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	WriteJSON(w, r, data, http.StatusOK)
}

// ErrorResponse is the standard envelope for 4xx/5xx responses.
type ErrorResponse struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorCode labels the kind of failure, independent of the HTTP status.
type ErrorCode string

const (
	ErrCodeBadRequest       ErrorCode = "BAD_REQUEST"
	ErrCodeUnauthorised     ErrorCode = "UNAUTHORISED"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodePrecondition     ErrorCode = "PRECONDITION_FAILED"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// WriteError writes a standardised error response and logs it.
func WriteError(w http.ResponseWriter, r *http.Request, message string, status int, code ErrorCode) {
	requestID := GetRequestID(r)

	log.Error().
		Str("request_id", requestID).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Str("code", string(code)).
		Str("message", message).
		Msg("control: API error response")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := ErrorResponse{Status: status, Message: message, Code: string(code), RequestID: requestID}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("control: failed to encode error response")
	}
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, message, http.StatusBadRequest, ErrCodeBadRequest)
}

func notFound(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, message, http.StatusNotFound, ErrCodeNotFound)
}

func precondition(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, message, http.StatusBadRequest, ErrCodePrecondition)
}

func storeUnavailable(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, r, err.Error(), http.StatusInternalServerError, ErrCodeStoreUnavailable)
}

func unauthorised(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, message, http.StatusUnauthorized, ErrCodeUnauthorised)
}
