// Package device provides the in-memory Device Registry for Pentair Cloud Core.
//
// The registry is the single catalogue of discovered pool controllers and
// their program slots. It is mutated only by the hub: status polls merge
// decoded telemetry and programs, and successful commands apply optimistic
// control-value updates ahead of the next poll.
//
// # Key Types
//
//   - Device: a controller with pump telemetry, relay flags and programs
//   - Program: one of eight vendor slots; Running is derived from ControlValue
//   - Telemetry: decoded pump/relay fields applied in one step
//
// # Usage
//
//	reg := device.NewRegistry()
//	reg.Replace(discovered)
//	reg.UpsertProgram("dev-1", 2, "Medium", device.ProgramTypeManual, device.ControlActive)
//	d, err := reg.FindDevice("dev-1")
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Returned devices are deep
// copies.
package device
