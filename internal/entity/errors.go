package entity

import "errors"

// Domain errors for the entity package.
var (
	// ErrUnknownEntity is returned when an entity key does not exist.
	ErrUnknownEntity = errors.New("entity: unknown entity")

	// ErrUnsupported is returned when an entity kind cannot perform an action.
	ErrUnsupported = errors.New("entity: unsupported action")

	// ErrMissingArgument is returned when an action lacks its argument.
	ErrMissingArgument = errors.New("entity: missing argument")

	// ErrCommandFailed is returned when the cloud did not confirm a command.
	ErrCommandFailed = errors.New("entity: command failed")
)
