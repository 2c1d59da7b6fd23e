// Package climate implements the pool thermostat.
//
// A Thermostat compares the water temperature reported by an external sensor
// with its target and switches the heater through the safety coordinator,
// which starts the pump first when needed. Heating starts below
// target-hysteresis and stops above target.
package climate
