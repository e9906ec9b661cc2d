// Package main runs the reqtrace demo server: a gin HTTP server, and an
// optional gRPC server, with per-request root spans, Prometheus metrics
// and batched span export.
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Debug spans for the HTTP layer only
//	TRACE_FILTER=info,http=debug ./server -port 8000
//
//	# Serve gRPC alongside HTTP and export spans as JSON lines
//	EXPORT_ENABLED=true ./server -grpc-port 9000
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown, then telemetry flush
package main
