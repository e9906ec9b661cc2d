package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/reqtrace/internal/telemetry"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Empty(t, cfg.Server.GRPCPort)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Tracing config
	assert.Equal(t, "info", cfg.Tracing.Filter)
	assert.Equal(t, []string{"tracecontext", "baggage"}, cfg.Tracing.Propagators)
	assert.Equal(t, telemetry.InfoLevel, cfg.Tracing.SinkLevel)
	assert.Equal(t, "once", cfg.Tracing.ErrorEvents)
	assert.Equal(t, "X-Request-Id", cfg.Tracing.RequestIDHeader)

	// Export config
	assert.False(t, cfg.Export.Enabled)
	assert.Equal(t, telemetry.DebugLevel, cfg.Export.EventLevel)

	// Metrics config
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOrDefault(t *testing.T) {
	// Should return default when no env vars set
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	// Setup environment variables
	envVars := map[string]string{
		"PORT":                   "9000",
		"HOST":                   "127.0.0.1",
		"GRPC_PORT":              "9090",
		"SHUTDOWN_TIMEOUT":       "3s",
		"LOG_LEVEL":              "debug",
		"LOG_DEV":                "true",
		"TRACE_FILTER":           "warn,http=debug",
		"TRACE_PROPAGATORS":      "tracecontext,xtrace",
		"TRACE_SINK_LEVEL":       "warn",
		"TRACE_ERROR_EVENTS":     "chain",
		"TRACE_RESPONSE_HEADERS": "true",
		"EXPORT_ENABLED":         "true",
		"EXPORT_OUTPUT":          "/var/log/spans.jsonl",
		"EXPORT_FLUSH_INTERVAL":  "250ms",
		"METRICS_PATH":           "/internal/metrics",
		"RATE_LIMIT_RPS":         "500",
		"RATE_LIMIT_BURST":       "1000",
		"RATE_LIMIT_ENABLED":     "false",
	}

	// Set environment variables
	for key, value := range envVars {
		err := os.Setenv(key, value)
		require.NoError(t, err)
		defer os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "9090", cfg.Server.GRPCPort)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)

	assert.Equal(t, "warn,http=debug", cfg.Tracing.Filter)
	assert.Equal(t, []string{"tracecontext", "xtrace"}, cfg.Tracing.Propagators)
	assert.Equal(t, telemetry.WarnLevel, cfg.Tracing.SinkLevel)
	assert.Equal(t, "chain", cfg.Tracing.ErrorEvents)
	assert.True(t, cfg.Tracing.ResponseHeaders)

	assert.True(t, cfg.Export.Enabled)
	assert.Equal(t, "/var/log/spans.jsonl", cfg.Export.Output)
	assert.Equal(t, 250*time.Millisecond, cfg.Export.FlushInterval)

	assert.Equal(t, "/internal/metrics", cfg.Metrics.Path)

	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadRejectsInvalidLevel(t *testing.T) {
	err := os.Setenv("TRACE_SINK_LEVEL", "loud")
	require.NoError(t, err)
	defer os.Unsetenv("TRACE_SINK_LEVEL")

	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRACE_SINK_LEVEL")

	// LoadOrDefault falls back instead of failing
	assert.Equal(t, telemetry.InfoLevel, LoadOrDefault().Tracing.SinkLevel)
}

func TestServerConfig(t *testing.T) {
	tests := []struct {
		name     string
		port     string
		host     string
		wantPort string
		wantHost string
	}{
		{
			name:     "default values",
			wantPort: "8000",
			wantHost: "0.0.0.0",
		},
		{
			name:     "custom port",
			port:     "9000",
			wantPort: "9000",
			wantHost: "0.0.0.0",
		},
		{
			name:     "custom host",
			host:     "localhost",
			wantPort: "8000",
			wantHost: "localhost",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clean environment
			os.Unsetenv("PORT")
			os.Unsetenv("HOST")

			if tt.port != "" {
				require.NoError(t, os.Setenv("PORT", tt.port))
				defer os.Unsetenv("PORT")
			}
			if tt.host != "" {
				require.NoError(t, os.Setenv("HOST", tt.host))
				defer os.Unsetenv("HOST")
			}

			cfg := LoadOrDefault()

			assert.Equal(t, tt.wantPort, cfg.Server.Port)
			assert.Equal(t, tt.wantHost, cfg.Server.Host)
		})
	}
}
