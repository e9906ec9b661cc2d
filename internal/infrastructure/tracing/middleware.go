package tracing

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/baggage"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/reqtrace/internal/telemetry"
)

// DefaultRequestIDHeader echoes the request id back to the client.
const DefaultRequestIDHeader = "X-Request-Id"

// Middleware owns the per-request span lifecycle for HTTP and gRPC servers.
type Middleware struct {
	dispatcher      *telemetry.Dispatcher
	builder         RootSpanBuilder
	propagator      *Propagator
	logger          *zap.Logger
	requestIDHeader string
	responseTrace   bool
}

// Option configures the middleware.
type Option func(*Middleware)

// WithRootSpanBuilder replaces DefaultRootSpanBuilder.
func WithRootSpanBuilder(b RootSpanBuilder) Option {
	return func(m *Middleware) { m.builder = b }
}

// WithPropagator sets how remote parents are extracted.
func WithPropagator(p *Propagator) Option {
	return func(m *Middleware) { m.propagator = p }
}

// WithDiagnosticLogger sets the logger for failures inside the middleware.
func WithDiagnosticLogger(logger *zap.Logger) Option {
	return func(m *Middleware) { m.logger = logger }
}

// WithRequestIDHeader sets the response header carrying the request id.
// An empty name disables it.
func WithRequestIDHeader(name string) Option {
	return func(m *Middleware) { m.requestIDHeader = name }
}

// WithResponseTraceHeaders injects the root span's context into response
// headers so clients can correlate their calls.
func WithResponseTraceHeaders() Option {
	return func(m *Middleware) { m.responseTrace = true }
}

// New creates the middleware.
func New(d *telemetry.Dispatcher, opts ...Option) *Middleware {
	m := &Middleware{
		dispatcher:      d,
		builder:         DefaultRootSpanBuilder{},
		propagator:      DefaultPropagator(),
		logger:          zap.NewNop(),
		requestIDHeader: DefaultRequestIDHeader,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HTTPMiddleware creates gin middleware that wraps every request in a root
// span.
func HTTPMiddleware(d *telemetry.Dispatcher, opts ...Option) gin.HandlerFunc {
	return New(d, opts...).Handler()
}

// Handler returns the gin handler.
func (m *Middleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := m.beginHTTP(c)
		defer m.endHTTP(c, rc)
		c.Next()
	}
}

func (m *Middleware) beginHTTP(c *gin.Context) *RequestContext {
	rc := newRequestContext()
	m.safely("extract", func() {
		rc.parent = m.propagator.Extract(c.Request.Header)
	})

	meta := newHTTPMetadata(c, rc.id, rc.parent)
	ctx := m.start(c.Request.Context(), rc, meta)
	c.Request = c.Request.WithContext(ctx)
	c.Set(ginRequestContextKey, rc)

	if m.requestIDHeader != "" {
		c.Header(m.requestIDHeader, rc.id.String())
	}
	if m.responseTrace {
		m.safely("inject", func() { m.propagator.Inject(ctx, c.Writer.Header()) })
	}
	return rc
}

func (m *Middleware) endHTTP(c *gin.Context, rc *RequestContext) {
	recovered := recover()

	outcome := &Outcome{Status: c.Writer.Status(), Written: c.Writer.Written()}
	if last := c.Errors.Last(); last != nil {
		outcome.Err = last.Err
	}
	switch {
	case recovered != nil:
		outcome.Aborted = true
		outcome.Panic = recovered
		outcome.Cause = fmt.Errorf("panic: %v", recovered)
		if !c.Writer.Written() {
			outcome.Status = 0
		}
	case !c.Writer.Written() && c.Request.Context().Err() != nil:
		outcome.Aborted = true
		outcome.Cause = c.Request.Context().Err()
		outcome.Status = 0
	}

	m.finish(rc, outcome)

	if recovered != nil {
		panic(recovered)
	}
}

// start runs Idle -> SpanActive and returns the context handler work runs in.
func (m *Middleware) start(ctx context.Context, rc *RequestContext, meta *RequestMetadata) context.Context {
	m.safely("start", func() {
		if span := m.builder.OnRequestStart(ctx, m.dispatcher, meta); span != nil {
			rc.span = span
		}
	})
	rc.transition(StateIdle, StateSpanActive)

	if b := rc.parent.Baggage(); b.Len() > 0 {
		ctx = baggage.ContextWithBaggage(ctx, b)
	}
	ctx = telemetry.ContextWithSpan(ctx, rc.span)
	ctx = contextWithRequest(ctx, rc)
	rc.span.Enter()
	return ctx
}

// finish runs SpanActive -> Finalizing -> Closed. Only the first caller
// completes the span.
func (m *Middleware) finish(rc *RequestContext, outcome *Outcome) {
	if !rc.transition(StateSpanActive, StateFinalizing) {
		return
	}
	if outcome.RequestID.IsZero() {
		outcome.RequestID = rc.id
	}
	rc.setOutcome(outcome)
	m.safely("end", func() { m.builder.OnRequestEnd(rc.span, outcome) })
	rc.span.Exit()
	rc.span.Release()
	rc.transition(StateFinalizing, StateClosed)
}

// safely contains failures of builders and propagators so that tracing
// can never fail a request.
func (m *Middleware) safely(stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("request tracing failed",
				zap.String("stage", stage),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}
