package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/config"
	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/export"
	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/logging"
	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/observability"
	"github.com/GriffinCanCode/reqtrace/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memoryExporter struct {
	mu    sync.Mutex
	spans []export.FinishedSpan
}

func (m *memoryExporter) ExportSpans(_ context.Context, spans []export.FinishedSpan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans = append(m.spans, spans...)
	return nil
}

func (m *memoryExporter) named(name string) []export.FinishedSpan {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []export.FinishedSpan
	for _, s := range m.spans {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *observability.Observability, *memoryExporter) {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Development = true
	cfg.Tracing.LogSpans = false
	cfg.Export.Enabled = true
	if mutate != nil {
		mutate(cfg)
	}
	exp := &memoryExporter{}
	obs, err := observability.Setup(cfg, logging.NewNop(),
		observability.WithRootSpanFields(telemetry.Declare(FieldUser)),
		observability.WithExporter(exp),
	)
	require.NoError(t, err)
	return NewServer(cfg, logging.NewNop(), obs), obs, exp
}

func serve(s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, obs, _ := newTestServer(t, nil)
	defer obs.Shutdown(context.Background())

	w := serve(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestHelloRecordsUser(t *testing.T) {
	s, obs, exp := newTestServer(t, nil)

	w := serve(s, http.MethodGet, "/hello/ada", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "hello, ada", body["message"])
	assert.Equal(t, w.Header().Get("X-Request-Id"), body["request_id"])

	require.NoError(t, obs.Shutdown(context.Background()))
	roots := exp.named("HTTP request")
	require.Len(t, roots, 1)
	assert.Equal(t, "ada", roots[0].Fields[FieldUser])
	assert.Equal(t, "/hello/:name", roots[0].Fields["http.route"])
	require.NotEmpty(t, roots[0].Events)
	assert.Equal(t, "greeting user", roots[0].Events[0].Message)
}

func TestFailRecordsError(t *testing.T) {
	s, obs, exp := newTestServer(t, nil)

	w := serve(s, http.MethodGet, "/fail", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	require.NoError(t, obs.Shutdown(context.Background()))
	roots := exp.named("HTTP request")
	require.Len(t, roots, 1)
	assert.EqualValues(t, http.StatusInternalServerError, roots[0].Fields["http.status_code"])
	assert.Equal(t, "ERROR", roots[0].Fields["otel.status_code"])
	assert.Contains(t, roots[0].Fields["exception.message"], ErrUpstream.Error())
}

func TestWorkOpensChildSpan(t *testing.T) {
	s, obs, exp := newTestServer(t, nil)

	w := serve(s, http.MethodGet, "/work?delay=1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	bad := serve(s, http.MethodGet, "/work?delay=soon", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	require.NoError(t, obs.Shutdown(context.Background()))
	work := exp.named("work")
	require.Len(t, work, 1)
	assert.Equal(t, true, work[0].Fields["completed"])
	assert.NotEmpty(t, work[0].ParentID)
}

func TestMetricsEndpoint(t *testing.T) {
	s, obs, _ := newTestServer(t, nil)
	defer obs.Shutdown(context.Background())

	serve(s, http.MethodGet, "/health", nil)

	w := serve(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "reqtrace_requests_total")

	stats := serve(s, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, stats.Code)
	assert.Contains(t, stats.Body.String(), `"total_requests"`)
}

func TestStatsWithoutMetrics(t *testing.T) {
	s, obs, _ := newTestServer(t, func(c *config.Config) { c.Metrics.Enabled = false })
	defer obs.Shutdown(context.Background())

	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/stats", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/metrics", nil).Code)
}

func TestRateLimit(t *testing.T) {
	s, obs, exp := newTestServer(t, func(c *config.Config) {
		c.RateLimit.RequestsPerSecond = 1
		c.RateLimit.Burst = 1
	})

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/health", nil).Code)
	w := serve(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	require.NoError(t, obs.Shutdown(context.Background()))
	roots := exp.named("HTTP request")
	require.Len(t, roots, 2)
	limited := roots[1]
	assert.EqualValues(t, http.StatusTooManyRequests, limited.Fields["http.status_code"])
	require.NotEmpty(t, limited.Events)
	assert.Equal(t, "rate limit exceeded", limited.Events[0].Message)
	assert.Equal(t, "warn", limited.Events[0].Level)
}

type eventLayer struct {
	telemetry.BaseLayer

	mu     sync.Mutex
	events []*telemetry.Event
}

func (l *eventLayer) OnEvent(ev *telemetry.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLayer) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, ev := range l.events {
		out = append(out, ev.Message)
	}
	return out
}

func TestRateLimitWarningUnderWarnFilter(t *testing.T) {
	cfg := config.Default()
	cfg.Tracing.Filter = "warn"
	cfg.RateLimit.RequestsPerSecond = 1
	cfg.RateLimit.Burst = 1
	events := &eventLayer{}
	obs, err := observability.Setup(cfg, logging.NewNop(), observability.WithLayers(events))
	require.NoError(t, err)
	defer obs.Shutdown(context.Background())
	s := NewServer(cfg, logging.NewNop(), obs)

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(s, http.MethodGet, "/health", nil).Code)

	assert.Equal(t, []string{"rate limit exceeded"}, events.messages())
}

func TestCORSExposesCorrelationHeaders(t *testing.T) {
	s, obs, _ := newTestServer(t, nil)
	defer obs.Shutdown(context.Background())

	w := serve(s, http.MethodGet, "/health", http.Header{"Origin": {"http://example.com"}})
	require.Equal(t, http.StatusOK, w.Code)
	exposed := strings.ToLower(w.Header().Get("Access-Control-Expose-Headers"))
	assert.Contains(t, exposed, "x-request-id")
	assert.Contains(t, exposed, "traceparent")
}

func TestGRPCServerOptional(t *testing.T) {
	s, obs, _ := newTestServer(t, nil)
	defer obs.Shutdown(context.Background())
	assert.Nil(t, s.GRPC())

	withGRPC, obs2, _ := newTestServer(t, func(c *config.Config) { c.Server.GRPCPort = "0" })
	defer obs2.Shutdown(context.Background())
	assert.NotNil(t, withGRPC.GRPC())
}
