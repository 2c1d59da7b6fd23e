package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/pentair-cloud-core/internal/climate"
	"github.com/nerrad567/pentair-cloud-core/internal/device"
	"github.com/nerrad567/pentair-cloud-core/internal/entity"
	"github.com/nerrad567/pentair-cloud-core/internal/safety"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeUnauthorized    = "unauthorised"
	ErrCodeConflict        = "conflict"
	ErrCodeSafetyViolation = "safety_violation"
	ErrCodeCommandFailed   = "command_failed"
	ErrCodeUnavailable     = "unavailable"
	ErrCodeInternal        = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps a domain error to a status code.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, safety.ErrSafetyViolation):
		writeError(w, http.StatusConflict, ErrCodeSafetyViolation, err.Error())
	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, device.ErrProgramNotFound),
		errors.Is(err, entity.ErrUnknownEntity):
		writeNotFound(w, err.Error())
	case errors.Is(err, entity.ErrUnsupported),
		errors.Is(err, entity.ErrMissingArgument),
		errors.Is(err, safety.ErrUnknownPreset),
		errors.Is(err, climate.ErrInvalidMode):
		writeBadRequest(w, err.Error())
	case errors.Is(err, entity.ErrCommandFailed),
		errors.Is(err, safety.ErrCommandFailed):
		writeError(w, http.StatusBadGateway, ErrCodeCommandFailed, err.Error())
	case errors.Is(err, safety.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
