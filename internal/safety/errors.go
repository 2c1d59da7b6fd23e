package safety

import "errors"

// Domain errors for the safety package.
var (
	// ErrSafetyViolation is returned when an operation would run the heater
	// without pump flow.
	ErrSafetyViolation = errors.New("safety: pump cannot stop while heater is on")

	// ErrCommandFailed is returned when the cloud rejected a step of a
	// compound operation.
	ErrCommandFailed = errors.New("safety: command failed")

	// ErrUnknownPreset is returned for a preset mode outside PresetModes.
	ErrUnknownPreset = errors.New("safety: unknown preset mode")

	// ErrClosed is returned after the coordinator was closed.
	ErrClosed = errors.New("safety: coordinator closed")
)
