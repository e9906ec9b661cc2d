// Package observability assembles the process-scoped telemetry state from
// configuration: the dispatcher and its layers, the propagator and the
// request tracing middleware. Setup runs once at startup; Shutdown flushes
// the layers before the process exits.
package observability
