package pentair

import "errors"

// Domain errors for the Pentair bridge package.
var (
	// ErrInvalidCommand is returned when a command payload cannot be parsed.
	ErrInvalidCommand = errors.New("pentair: invalid command")

	// ErrClimateDisabled is returned for climate commands when no
	// thermostats are configured.
	ErrClimateDisabled = errors.New("pentair: climate disabled")
)
