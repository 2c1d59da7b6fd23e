package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrProgramNotFound is returned when a program slot has not been seen on a device.
	ErrProgramNotFound = errors.New("device: program not found")

	// ErrInvalidProgram is returned when a program ID is outside 1..8.
	ErrInvalidProgram = errors.New("device: invalid program id")

	// ErrInvalidDevice is returned when a device has no ID.
	ErrInvalidDevice = errors.New("device: invalid")
)
