// Package server wires the traced gin router and gRPC server.
//
// Middleware order is recovery, request tracing, CORS and then the per-IP
// rate limiter, so rejected and panicking requests still get a root span.
package server
