package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/reqtrace/internal/telemetry"
)

// Span fields the metrics layer reads from request root spans.
const (
	fieldMethod     = "http.method"
	fieldRoute      = "http.route"
	fieldUnmatched  = "http.route_unmatched"
	fieldStatusCode = "http.status_code"
	fieldOtelKind   = "otel.kind"
	fieldOtelStatus = "otel.status_code"
)

// unmatchedRoute is the route label of requests no route pattern matched.
const unmatchedRoute = "unmatched"

// Metrics is a telemetry layer that derives Prometheus metrics from the
// spans and events flowing through the dispatcher. Request metrics come from
// server root spans when they close, so they include the final status the
// root span builder recorded.
type Metrics struct {
	telemetry.BaseLayer

	registry *prometheus.Registry
	factory  promauto.Factory

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec
	ActiveRequests  *prometheus.GaugeVec

	// Span and event metrics
	SpansTotal   *prometheus.CounterVec
	SpanDuration *prometheus.HistogramVec
	EventsTotal  *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	ActiveRequests  int64   `json:"active_requests"`
	TotalDuration   float64 `json:"total_duration_seconds"`
	AverageDuration float64 `json:"average_duration_seconds"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// NewMetrics registers the metrics under namespace in reg. A nil registry
// gets a fresh one, so several dispatchers can coexist in one process.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		factory:   factory,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of traced requests",
			},
			[]string{"protocol", "method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Root span duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"protocol", "method", "route"},
		),
		RequestErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "request_errors_total",
				Help:      "Requests whose root span ended with otel.status_code ERROR",
			},
			[]string{"protocol", "route"},
		),
		ActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_active",
				Help:      "Root spans currently open",
			},
			[]string{"protocol"},
		),

		SpansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spans_closed_total",
				Help:      "Total number of closed spans",
			},
			[]string{"name", "target"},
		),
		SpanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "span_duration_seconds",
				Help:      "Span duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
			},
			[]string{"name"},
		),
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total number of events by normalized level",
			},
			[]string{"level"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterCounterFunc exposes a monotonically increasing value owned by
// another component, such as the collector's dropped span count.
func (m *Metrics) RegisterCounterFunc(name, help string, fn func() float64) {
	m.factory.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, fn)
}

// ============================================================================
// Layer callbacks
// ============================================================================

func (m *Metrics) OnNewSpan(span *telemetry.SpanData) {
	if !isRequestSpan(span) {
		return
	}
	m.ActiveRequests.WithLabelValues(span.Metadata().Target).Inc()
	m.mu.Lock()
	m.snapshot.ActiveRequests++
	m.mu.Unlock()
}

func (m *Metrics) OnClose(span *telemetry.SpanData) {
	m.SpansTotal.WithLabelValues(span.Name(), span.Metadata().Target).Inc()
	m.SpanDuration.WithLabelValues(span.Name()).Observe(span.Duration().Seconds())

	if !isRequestSpan(span) {
		return
	}
	protocol := span.Metadata().Target
	m.ActiveRequests.WithLabelValues(protocol).Dec()

	status := fieldString(span, fieldStatusCode)
	if status == "" {
		status = "unknown"
	}
	failed := fieldString(span, fieldOtelStatus) == "ERROR"
	m.RecordRequest(protocol, fieldString(span, fieldMethod), routeLabel(span), status, span.Duration(), failed)

	m.mu.Lock()
	m.snapshot.ActiveRequests--
	m.mu.Unlock()
}

func (m *Metrics) OnEvent(ev *telemetry.Event) {
	m.EventsTotal.WithLabelValues(ev.NormalizedLevel().String()).Inc()
}

// RecordRequest records one finished request.
func (m *Metrics) RecordRequest(protocol, method, route, status string, duration time.Duration, failed bool) {
	m.RequestsTotal.WithLabelValues(protocol, method, route, status).Inc()
	m.RequestDuration.WithLabelValues(protocol, method, route).Observe(duration.Seconds())
	if failed {
		m.RequestErrors.WithLabelValues(protocol, route).Inc()
	}

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	if failed {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// Snapshot returns the current request totals.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	if s.TotalRequests > 0 {
		s.AverageDuration = s.TotalDuration / float64(s.TotalRequests)
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

// isRequestSpan matches root spans created by the request middleware.
func isRequestSpan(span *telemetry.SpanData) bool {
	f, ok := span.Field(fieldOtelKind)
	if !ok || f.String() != "server" {
		return false
	}
	_, ok = span.Field(fieldMethod)
	return ok
}

// routeLabel keeps raw paths of unmatched requests out of the label set.
func routeLabel(span *telemetry.SpanData) string {
	if _, ok := span.Field(fieldUnmatched); ok {
		return unmatchedRoute
	}
	return fieldString(span, fieldRoute)
}

func fieldString(span *telemetry.SpanData, key string) string {
	f, ok := span.Field(key)
	if !ok {
		return ""
	}
	if n, isInt := f.Value.(int); isInt {
		return strconv.Itoa(n)
	}
	return f.String()
}
