// Package api implements the HTTP REST API and WebSocket server for the
// Pentair cloud core.
//
// This package provides:
//   - REST endpoints for devices, programs, entities, the pump, the heater
//     and the pool thermostat
//   - WebSocket hub broadcasting device.state_changed and
//     safety.notification events
//   - Prometheus exposition on /api/v1/metrics
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Security
//
// When api.api_key_hash is configured every mutating route requires
// "Authorization: Bearer <key>". WebSocket clients first obtain a
// single-use ticket from POST /auth/ws-ticket. Without a hash the API is
// open, which suits a host on a trusted network.
//
// # Errors
//
// Errors are JSON {"status","code","message"}. A pump stop refused by the
// heater interlock answers 409 with code "safety_violation".
package api
