package climate

import "errors"

// Domain errors for the climate package.
var (
	// ErrInvalidMode is returned for an HVAC mode other than off or heat.
	ErrInvalidMode = errors.New("climate: invalid hvac mode")

	// ErrInvalidTemperature is returned when a sensor payload is not a number.
	ErrInvalidTemperature = errors.New("climate: invalid temperature")
)
