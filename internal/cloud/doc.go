// Package cloud is the Pentair cloud API client.
//
// Every request is signed with AWS SigV4 (service execute-api) using the
// temporary identity pool credentials, and carries the user pool ID token in
// the x-amz-id-token header. Calls share one circuit breaker.
//
// # Endpoints
//
//   - ListDevices: GET /device/device-service/user/devices
//   - GetStatus: POST /device2/device2-service/user/device
//   - SetField: PUT /device/device-service/user/device/{id}
//
// # Errors
//
// Failures unwrap to ErrTransient (network, 5xx, 429, open breaker),
// ErrUnauthorized (401/403, also transient), ErrTimeout (also transient) or
// ErrProtocol (unexpected shape or response code). APIError carries the
// status, message and code.
//
// # Field Decoding
//
// Fields holds one device's raw status map. DecodeStatus turns it into
// device telemetry and program slots; each field is decoded explicitly and
// a malformed one fails the decode with ErrMalformedField.
package cloud
