package tracing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"

	"github.com/GriffinCanCode/reqtrace/internal/telemetry"
)

// ErrUnknownPropagator is returned for a propagator name NewPropagator does
// not know.
var ErrUnknownPropagator = errors.New("tracing: unknown propagator")

// Legacy headers used by services that predate W3C trace context.
const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

// PropagatedTraceContext is the remote parent found in inbound headers. The
// zero value means "no parent": the request starts a new trace.
type PropagatedTraceContext struct {
	sc      trace.SpanContext
	baggage baggage.Baggage
}

// IsValid reports whether a usable remote parent was found.
func (p PropagatedTraceContext) IsValid() bool { return p.sc.IsValid() }

func (p PropagatedTraceContext) TraceID() trace.TraceID { return p.sc.TraceID() }

func (p PropagatedTraceContext) SpanID() trace.SpanID { return p.sc.SpanID() }

func (p PropagatedTraceContext) Flags() trace.TraceFlags { return p.sc.TraceFlags() }

func (p PropagatedTraceContext) SpanContext() trace.SpanContext { return p.sc }

// Baggage returns W3C baggage members sent alongside the trace context.
func (p PropagatedTraceContext) Baggage() baggage.Baggage { return p.baggage }

// Propagator extracts and injects trace context using a configured set of
// text-based encodings.
type Propagator struct {
	names []string
	tm    propagation.TextMapPropagator
}

// NewPropagator composes propagators by name: "tracecontext" (W3C
// traceparent/tracestate), "baggage" (W3C baggage) and "xtrace" (legacy
// X-Trace-ID/X-Span-ID). With no names it uses tracecontext and baggage.
func NewPropagator(names ...string) (*Propagator, error) {
	if len(names) == 0 {
		names = []string{"tracecontext", "baggage"}
	}

	var parts []propagation.TextMapPropagator
	var used []string
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "":
			continue
		case "tracecontext":
			parts = append(parts, propagation.TraceContext{})
		case "baggage":
			parts = append(parts, propagation.Baggage{})
		case "xtrace":
			parts = append(parts, legacyHeaders{})
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownPropagator, name)
		}
		used = append(used, name)
	}

	return &Propagator{
		names: used,
		tm:    propagation.NewCompositeTextMapPropagator(parts...),
	}, nil
}

// DefaultPropagator returns the W3C tracecontext + baggage propagator.
func DefaultPropagator() *Propagator {
	p, _ := NewPropagator()
	return p
}

// Names returns the configured propagator names in order.
func (p *Propagator) Names() []string { return append([]string(nil), p.names...) }

// Fields returns the header names the propagator reads and writes.
func (p *Propagator) Fields() []string { return p.tm.Fields() }

// Extract reads a remote parent from inbound headers. It never fails:
// absent or malformed headers yield the zero PropagatedTraceContext.
func (p *Propagator) Extract(header http.Header) PropagatedTraceContext {
	return p.ExtractCarrier(propagation.HeaderCarrier(header))
}

// ExtractMetadata reads a remote parent from gRPC metadata.
func (p *Propagator) ExtractMetadata(md metadata.MD) PropagatedTraceContext {
	return p.ExtractCarrier(metadataCarrier(md))
}

// ExtractCarrier reads a remote parent from any text map carrier.
func (p *Propagator) ExtractCarrier(carrier propagation.TextMapCarrier) (out PropagatedTraceContext) {
	defer func() {
		if recover() != nil {
			out = PropagatedTraceContext{}
		}
	}()

	ctx := p.tm.Extract(context.Background(), carrier)
	out.baggage = baggage.FromContext(ctx)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		out.sc = sc
	}
	return out
}

// Inject writes the context of the span active in ctx, plus any baggage in
// ctx, into header.
func (p *Propagator) Inject(ctx context.Context, header http.Header) {
	p.InjectCarrier(ctx, propagation.HeaderCarrier(header))
}

// InjectMetadata writes the active span's context into gRPC metadata.
func (p *Propagator) InjectMetadata(ctx context.Context, md metadata.MD) {
	p.InjectCarrier(ctx, metadataCarrier(md))
}

// InjectCarrier writes the active span's context into carrier.
func (p *Propagator) InjectCarrier(ctx context.Context, carrier propagation.TextMapCarrier) {
	if sc := telemetry.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		ctx = trace.ContextWithSpanContext(ctx, sc)
	}
	p.tm.Inject(ctx, carrier)
}

// legacyHeaders speaks the X-Trace-ID / X-Span-ID convention, hex encoded.
type legacyHeaders struct{}

func (legacyHeaders) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return
	}
	carrier.Set(HeaderTraceID, sc.TraceID().String())
	carrier.Set(HeaderSpanID, sc.SpanID().String())
}

func (legacyHeaders) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	tid, err := trace.TraceIDFromHex(strings.TrimSpace(carrier.Get(HeaderTraceID)))
	if err != nil {
		return ctx
	}
	sid, err := trace.SpanIDFromHex(strings.TrimSpace(carrier.Get(HeaderSpanID)))
	if err != nil {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
}

func (legacyHeaders) Fields() []string { return []string{HeaderTraceID, HeaderSpanID} }

// metadataCarrier adapts gRPC metadata, whose keys are lowercase, to the
// text map carrier interface.
type metadataCarrier metadata.MD

func (m metadataCarrier) Get(key string) string {
	vals := metadata.MD(m).Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func (m metadataCarrier) Set(key, value string) { metadata.MD(m).Set(key, value) }

func (m metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
