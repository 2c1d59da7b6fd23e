// Package safety enforces the interlocks between the pool pump and heater.
//
// A Coordinator exists per device and sits between callers and the hub's
// command path:
//
//   - While the heater is on, speed requests below the minimum are raised
//     to it and a request to stop is refused.
//   - Speed changes are debounced. A newer request replaces a pending one.
//   - Turning the heater on with the pump stopped first starts the pump on
//     the medium speed program.
//
// Notifications about overrides are delivered through a Notifier.
package safety
