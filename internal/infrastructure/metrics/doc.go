// Package metrics exposes Prometheus collectors for the Pentair cloud core.
//
// Metrics owns a private registry so only this process's series are
// exported. It implements the recorder interfaces of the hub and safety
// packages and tracks the cloud circuit breaker state.
package metrics
