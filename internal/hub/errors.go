package hub

import "errors"

// Domain errors for the hub package.
var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("hub: scheduler already started")
)
