// Package config provides 12-factor configuration for the request tracing
// service.
//
// Configuration is loaded from environment variables with sensible defaults.
//
// Configuration Sections:
//   - Server: HTTP and gRPC listeners, shutdown grace period
//   - Logging: Log level and output format
//   - Tracing: Verbosity directive, propagators, sink threshold, error events
//   - Export: Batched JSON-lines span export
//   - Metrics: Prometheus endpoint
//   - RateLimit: Per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST, GRPC_PORT, SHUTDOWN_TIMEOUT
//   - LOG_LEVEL, LOG_DEV
//   - TRACE_SERVICE, TRACE_FILTER, TRACE_PROPAGATORS, TRACE_SINK_LEVEL,
//     TRACE_LOG_SPANS, TRACE_ERROR_EVENTS, TRACE_REQUEST_ID_HEADER,
//     TRACE_RESPONSE_HEADERS
//   - EXPORT_ENABLED, EXPORT_OUTPUT, EXPORT_EVENT_LEVEL, EXPORT_BUFFER_SIZE,
//     EXPORT_BATCH_SIZE, EXPORT_FLUSH_INTERVAL
//   - METRICS_ENABLED, METRICS_PATH, METRICS_NAMESPACE
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
