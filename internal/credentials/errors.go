package credentials

import "errors"

// Domain errors for the credentials package.
var (
	// ErrAuth is returned when the provider rejects the username or password.
	// It is terminal: the account must be reconfigured.
	ErrAuth = errors.New("credentials: authentication rejected")

	// ErrTransient is returned when the identity provider could not be reached.
	ErrTransient = errors.New("credentials: identity provider unavailable")

	// ErrNotAuthenticated is returned when no session or credential exists yet.
	ErrNotAuthenticated = errors.New("credentials: not authenticated")

	// ErrInvalidToken is returned when an ID token cannot be parsed or verified.
	ErrInvalidToken = errors.New("credentials: invalid id token")
)
