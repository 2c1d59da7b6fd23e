package cloud

import (
	"errors"
	"fmt"
)

// Domain errors for the cloud package.
var (
	// ErrTransient is returned for network failures, 5xx and throttling
	// responses and an open circuit breaker. The next cycle may succeed.
	ErrTransient = errors.New("cloud: transient failure")

	// ErrUnauthorized is returned for HTTP 401 and 403. It is transient: a
	// fresh sign-in usually clears it.
	ErrUnauthorized = fmt.Errorf("%w: unauthorized", ErrTransient)

	// ErrTimeout is returned when the request or the upstream gateway timed out.
	ErrTimeout = fmt.Errorf("%w: request timeout", ErrTransient)

	// ErrProtocol is returned when a response has an unexpected shape or code.
	ErrProtocol = errors.New("cloud: unexpected response")

	// ErrMissingField is returned when a status field is absent.
	ErrMissingField = errors.New("cloud: field missing")

	// ErrMalformedField is returned when a status field cannot be decoded.
	ErrMalformedField = fmt.Errorf("%w: malformed field", ErrProtocol)
)

// APIError carries the detail of a failed Pentair API call.
type APIError struct {
	Status  int
	Message string
	Code    string

	kind error
}

// Error implements error.
func (e *APIError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("%v: status %d, code %q", e.kind, e.Status, e.Code)
	case e.Message != "":
		return fmt.Sprintf("%v: status %d: %s", e.kind, e.Status, e.Message)
	default:
		return fmt.Sprintf("%v: status %d", e.kind, e.Status)
	}
}

// Unwrap returns the sentinel matching the failure class.
func (e *APIError) Unwrap() error {
	return e.kind
}
