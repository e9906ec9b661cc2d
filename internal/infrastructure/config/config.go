package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/reqtrace/internal/telemetry"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	Tracing   TracingConfig
	Export    ExportConfig
	Metrics   MetricsConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP and gRPC server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	GRPCPort        string        `envconfig:"GRPC_PORT"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// TracingConfig holds request tracing configuration.
type TracingConfig struct {
	Service         string          `envconfig:"TRACE_SERVICE" default:"reqtrace"`
	Filter          string          `envconfig:"TRACE_FILTER" default:"info"`
	Propagators     []string        `envconfig:"TRACE_PROPAGATORS" default:"tracecontext,baggage"`
	SinkLevel       telemetry.Level `envconfig:"TRACE_SINK_LEVEL" default:"info"`
	LogSpans        bool            `envconfig:"TRACE_LOG_SPANS" default:"true"`
	ErrorEvents     string          `envconfig:"TRACE_ERROR_EVENTS" default:"once"`
	RequestIDHeader string          `envconfig:"TRACE_REQUEST_ID_HEADER" default:"X-Request-Id"`
	ResponseHeaders bool            `envconfig:"TRACE_RESPONSE_HEADERS" default:"false"`
}

// ExportConfig holds finished span export configuration.
type ExportConfig struct {
	Enabled       bool            `envconfig:"EXPORT_ENABLED" default:"false"`
	Output        string          `envconfig:"EXPORT_OUTPUT" default:"stdout"`
	EventLevel    telemetry.Level `envconfig:"EXPORT_EVENT_LEVEL" default:"debug"`
	BufferSize    int             `envconfig:"EXPORT_BUFFER_SIZE" default:"1000"`
	BatchSize     int             `envconfig:"EXPORT_BATCH_SIZE" default:"100"`
	FlushInterval time.Duration   `envconfig:"EXPORT_FLUSH_INTERVAL" default:"5s"`
}

// MetricsConfig holds Prometheus configuration.
type MetricsConfig struct {
	Enabled   bool   `envconfig:"METRICS_ENABLED" default:"true"`
	Path      string `envconfig:"METRICS_PATH" default:"/metrics"`
	Namespace string `envconfig:"METRICS_NAMESPACE" default:"reqtrace"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Tracing: TracingConfig{
			Service:         "reqtrace",
			Filter:          "info",
			Propagators:     []string{"tracecontext", "baggage"},
			SinkLevel:       telemetry.InfoLevel,
			LogSpans:        true,
			ErrorEvents:     "once",
			RequestIDHeader: "X-Request-Id",
		},
		Export: ExportConfig{
			Output:        "stdout",
			EventLevel:    telemetry.DebugLevel,
			BufferSize:    1000,
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "reqtrace",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
