package tracing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/reqtrace/internal/shared/id"
	"github.com/GriffinCanCode/reqtrace/internal/telemetry"
)

// StatusClientClosedRequest is reported when the client went away before
// any response was written.
const StatusClientClosedRequest = 499

// RequestMetadata is the read-only view of an inbound request that root span
// builders work from.
type RequestMetadata struct {
	// Protocol is "http" or "grpc"; it doubles as the span target.
	Protocol  string
	Method    string
	Route     string
	Path      string
	Flavor    string
	Scheme    string
	Host      string
	Target    string
	ClientIP  string
	UserAgent string
	Header    http.Header

	RequestID id.RequestID
	Parent    PropagatedTraceContext

	// Unmatched is set when no route pattern matched; Route then holds the
	// raw path.
	Unmatched bool
}

func newHTTPMetadata(c *gin.Context, rid id.RequestID, parent PropagatedTraceContext) *RequestMetadata {
	r := c.Request
	route := c.FullPath()
	unmatched := route == ""
	if unmatched {
		route = r.URL.Path
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return &RequestMetadata{
		Protocol:  "http",
		Method:    r.Method,
		Route:     route,
		Unmatched: unmatched,
		Path:      r.URL.Path,
		Flavor:    fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		Scheme:    scheme,
		Host:      r.Host,
		Target:    r.URL.RequestURI(),
		ClientIP:  c.ClientIP(),
		UserAgent: r.UserAgent(),
		Header:    r.Header,
		RequestID: rid,
		Parent:    parent,
	}
}

// Outcome describes how request handling ended.
type Outcome struct {
	// Status is the response status the handler set, 0 if none was sent.
	Status int
	// Written reports whether a response was already sent, so Status is
	// what the client received.
	Written bool
	// Err is the error the handler reported, if any.
	Err error
	// Aborted is set when handling never completed: a panic or a canceled
	// request context.
	Aborted bool
	// Cause explains an abort.
	Cause error
	// Panic holds the recovered value when the handler panicked.
	Panic any
	// RequestID is filled by the middleware before the end hook runs.
	RequestID id.RequestID
}

// StatusCode returns the status to report. A written status is kept unless
// the handler panicked. When nothing was written it is synthesized: 500 for
// errors, 504 for an expired deadline and 499 when the client canceled.
func (o *Outcome) StatusCode() int {
	if o.Status >= http.StatusBadRequest {
		return o.Status
	}
	switch {
	case o.Panic != nil:
		return http.StatusInternalServerError
	case o.Aborted && errors.Is(o.Cause, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case o.Aborted:
		return StatusClientClosedRequest
	case o.Err != nil && !o.Written:
		return http.StatusInternalServerError
	case o.Status == 0:
		return http.StatusOK
	}
	return o.Status
}

// Failed reports whether the request should be traced as a failure. An
// error recorded next to a successful response the client already received
// does not fail the request.
func (o *Outcome) Failed() bool {
	status := o.StatusCode()
	switch {
	case o.Aborted, status >= http.StatusInternalServerError:
		return true
	case o.Err != nil:
		return status >= http.StatusBadRequest
	}
	return false
}

// State is the lifecycle position of one request.
type State int32

const (
	StateIdle State = iota
	StateSpanActive
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpanActive:
		return "span_active"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// RequestContext is the per-request tracing state owned by the middleware.
// Handlers reach it through the context accessors.
type RequestContext struct {
	id     id.RequestID
	parent PropagatedTraceContext
	span   *telemetry.Span
	state  atomic.Int32

	mu      sync.Mutex
	outcome *Outcome
}

func newRequestContext() *RequestContext {
	return &RequestContext{id: id.NewRequestID(), span: telemetry.Disabled()}
}

func (rc *RequestContext) RequestID() id.RequestID { return rc.id }

// RootSpan returns the request's root span, disabled if none was recorded.
func (rc *RequestContext) RootSpan() *telemetry.Span { return rc.span }

// Parent returns the remote parent found in the request headers.
func (rc *RequestContext) Parent() PropagatedTraceContext { return rc.parent }

func (rc *RequestContext) State() State { return State(rc.state.Load()) }

// Outcome returns the recorded outcome once the request was finalized.
func (rc *RequestContext) Outcome() (*Outcome, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.outcome, rc.outcome != nil
}

func (rc *RequestContext) setOutcome(o *Outcome) {
	rc.mu.Lock()
	rc.outcome = o
	rc.mu.Unlock()
}

func (rc *RequestContext) transition(from, to State) bool {
	return rc.state.CompareAndSwap(int32(from), int32(to))
}

// ============================================================================
// Accessors
// ============================================================================

type requestContextKey struct{}

// ginRequestContextKey stores the RequestContext in gin.Context.Keys.
const ginRequestContextKey = "reqtrace.request"

func contextWithRequest(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom returns the tracing state of the request ctx belongs to.
func RequestContextFrom(ctx context.Context) (*RequestContext, bool) {
	if ctx == nil {
		return nil, false
	}
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok
}

// RootSpanFromContext returns the request's root span. Outside a traced
// request it reports false.
func RootSpanFromContext(ctx context.Context) (*telemetry.Span, bool) {
	rc, ok := RequestContextFrom(ctx)
	if !ok {
		return nil, false
	}
	return rc.span, true
}

// RequestIDFromContext returns the id assigned to the request.
func RequestIDFromContext(ctx context.Context) (id.RequestID, bool) {
	rc, ok := RequestContextFrom(ctx)
	if !ok {
		return id.RequestID{}, false
	}
	return rc.id, true
}

// RootSpan returns the root span of a gin request.
func RootSpan(c *gin.Context) (*telemetry.Span, bool) {
	if rc, ok := ginRequestContext(c); ok {
		return rc.span, true
	}
	return nil, false
}

// RequestID returns the id of a gin request.
func RequestID(c *gin.Context) (id.RequestID, bool) {
	if rc, ok := ginRequestContext(c); ok {
		return rc.id, true
	}
	return id.RequestID{}, false
}

func ginRequestContext(c *gin.Context) (*RequestContext, bool) {
	if c == nil {
		return nil, false
	}
	if v, ok := c.Get(ginRequestContextKey); ok {
		rc, ok := v.(*RequestContext)
		return rc, ok
	}
	if c.Request != nil {
		return RequestContextFrom(c.Request.Context())
	}
	return nil, false
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
