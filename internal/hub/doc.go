// Package hub coordinates the Pentair cloud session, the device registry and
// the periodic status refresh.
//
// A single Hub is built in main and handed to every consumer. It exposes the
// host operations: Authenticate, Devices, UpdateStatus, PopulateDevices,
// Activate, Deactivate and StopAllPrograms.
//
// # Polling
//
// UpdateStatus fetches at most once per MinInterval unless forced. The
// refresh time is recorded before the fetch so that a failing cloud is not
// hammered. Poll failures are logged and never returned; an unauthorized or
// timed-out poll triggers one re-authentication.
//
// # Commands
//
// SetProgram writes zp{n}e10 and, when the cloud confirms, updates the
// registry immediately so a read straight after a command reflects it.
//
// # Thread Safety
//
// Refreshes are serialised by a hub mutex. Commands run on the caller's
// goroutine and may run concurrently. Change listeners are invoked outside
// the refresh lock.
package hub
