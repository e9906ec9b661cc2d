package tracing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/GriffinCanCode/reqtrace/internal/telemetry"
)

// Root span field keys.
const (
	FieldMethod     = "http.method"
	FieldRoute      = "http.route"
	FieldFlavor     = "http.flavor"
	FieldScheme     = "http.scheme"
	FieldHost       = "http.host"
	FieldTarget     = "http.target"
	FieldClientIP   = "http.client_ip"
	FieldUserAgent  = "http.user_agent"
	FieldStatusCode = "http.status_code"
	FieldOtelName   = "otel.name"
	FieldOtelKind   = "otel.kind"
	FieldOtelStatus = "otel.status_code"
	FieldRequestID  = "request_id"
	FieldTraceID    = "trace_id"
	FieldExcMessage = "exception.message"
	FieldExcDetails = "exception.details"
)

// FieldRouteUnmatched is only declared, as true, when no route pattern
// matched the request.
const FieldRouteUnmatched = "http.route_unmatched"

// Values of otel.status_code.
const (
	OtelStatusOK    = "OK"
	OtelStatusError = "ERROR"
)

// RootSpanBuilder decides how the root span of a request is created and how
// it is completed. OnRequestEnd is called exactly once per span returned by
// OnRequestStart.
type RootSpanBuilder interface {
	OnRequestStart(ctx context.Context, d *telemetry.Dispatcher, req *RequestMetadata) *telemetry.Span
	OnRequestEnd(span *telemetry.Span, outcome *Outcome)
}

// NewRootSpan starts a root span with the default field set plus extra
// declared fields. Custom builders use it to add fields they fill later
// from handlers.
func NewRootSpan(ctx context.Context, d *telemetry.Dispatcher, req *RequestMetadata, extra ...telemetry.Field) *telemetry.Span {
	fields := []telemetry.Field{
		telemetry.String(FieldMethod, req.Method),
		telemetry.String(FieldRoute, req.Route),
		telemetry.String(FieldFlavor, req.Flavor),
		telemetry.String(FieldScheme, req.Scheme),
		telemetry.String(FieldHost, req.Host),
		telemetry.String(FieldTarget, req.Target),
		telemetry.String(FieldClientIP, req.ClientIP),
	}
	if req.Unmatched {
		fields = append(fields, telemetry.Bool(FieldRouteUnmatched, true))
	}
	if req.UserAgent != "" {
		fields = append(fields, telemetry.String(FieldUserAgent, req.UserAgent))
	}
	fields = append(fields,
		telemetry.Declare(FieldStatusCode),
		telemetry.String(FieldOtelName, req.Method+" "+req.Route),
		telemetry.String(FieldOtelKind, "server"),
		telemetry.Declare(FieldOtelStatus),
		telemetry.String(FieldRequestID, req.RequestID.String()),
	)
	if req.Parent.IsValid() {
		fields = append(fields, telemetry.String(FieldTraceID, req.Parent.TraceID().String()))
	} else {
		fields = append(fields, telemetry.Declare(FieldTraceID))
	}
	fields = append(fields,
		telemetry.Declare(FieldExcMessage),
		telemetry.Declare(FieldExcDetails),
	)
	fields = append(fields, extra...)

	opts := []telemetry.SpanOption{
		telemetry.WithTarget(req.Protocol),
		telemetry.WithLevel(telemetry.InfoLevel),
		telemetry.WithFields(fields...),
		telemetry.AsRoot(),
	}
	if req.Parent.IsValid() {
		opts = append(opts, telemetry.WithRemoteParent(req.Parent.SpanContext()))
	}

	_, span := d.StartSpan(ctx, rootSpanName(req.Protocol), opts...)
	return span
}

func rootSpanName(protocol string) string {
	if protocol == "grpc" {
		return "gRPC request"
	}
	return "HTTP request"
}

// ErrorEventPolicy controls the events emitted for failed requests.
type ErrorEventPolicy uint8

const (
	// ErrorEventsOnce emits one event per failed request.
	ErrorEventsOnce ErrorEventPolicy = iota
	// ErrorEventsChain emits one event per link of the error's cause chain.
	ErrorEventsChain
	// ErrorEventsOff records the failure on the span only.
	ErrorEventsOff
)

// ParseErrorEventPolicy parses "once", "chain" or "off".
func ParseErrorEventPolicy(s string) (ErrorEventPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "once":
		return ErrorEventsOnce, nil
	case "chain":
		return ErrorEventsChain, nil
	case "off", "none":
		return ErrorEventsOff, nil
	}
	return ErrorEventsOnce, fmt.Errorf("unknown error event policy %q", s)
}

func (p ErrorEventPolicy) String() string {
	switch p {
	case ErrorEventsChain:
		return "chain"
	case ErrorEventsOff:
		return "off"
	default:
		return "once"
	}
}

const errorEventMessage = "error encountered while processing the incoming request"

// DefaultRootSpanBuilder creates the default root span and completes it with
// status, otel status and exception details.
type DefaultRootSpanBuilder struct {
	ErrorEvents ErrorEventPolicy
	// Fields are declared on every root span in addition to the defaults,
	// typically with telemetry.Declare so handlers can fill them.
	Fields []telemetry.Field
}

func (b DefaultRootSpanBuilder) OnRequestStart(ctx context.Context, d *telemetry.Dispatcher, req *RequestMetadata) *telemetry.Span {
	return NewRootSpan(ctx, d, req, b.Fields...)
}

func (b DefaultRootSpanBuilder) OnRequestEnd(span *telemetry.Span, outcome *Outcome) {
	status := outcome.StatusCode()
	_ = span.Record(FieldStatusCode, status)

	if !outcome.Failed() {
		_ = span.Record(FieldOtelStatus, OtelStatusOK)
		return
	}

	otelStatus := OtelStatusError
	if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
		otelStatus = OtelStatusOK
	}
	_ = span.Record(FieldOtelStatus, otelStatus)

	err := outcome.Err
	if err == nil {
		err = outcome.Cause
	}
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	chain := causeChain(err)
	details := strings.Join(chain, "\ncaused by: ")
	_ = span.Record(FieldExcMessage, err.Error())
	_ = span.Record(FieldExcDetails, details)

	level := telemetry.ErrorLevel
	if status < http.StatusInternalServerError {
		level = telemetry.WarnLevel
	}
	rid := ""
	if !outcome.RequestID.IsZero() {
		rid = outcome.RequestID.String()
	} else if data := span.Data(); data != nil {
		if f, ok := data.Field(FieldRequestID); ok {
			rid = f.String()
		}
	}

	switch b.ErrorEvents {
	case ErrorEventsOnce:
		span.Event(level, errorEventMessage,
			telemetry.String(FieldExcMessage, err.Error()),
			telemetry.String(FieldExcDetails, details),
			telemetry.String(FieldRequestID, rid),
			telemetry.Int(FieldStatusCode, status),
		)
	case ErrorEventsChain:
		for i, link := range chain {
			span.Event(level, errorEventMessage,
				telemetry.String(FieldExcMessage, link),
				telemetry.Int("exception.depth", i),
				telemetry.String(FieldRequestID, rid),
				telemetry.Int(FieldStatusCode, status),
			)
		}
	}
}

// causeChain lists the messages of err and every error it wraps, outermost
// first. Joined errors are walked depth first.
func causeChain(err error) []string {
	var out []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		out = append(out, e.Error())
		switch u := e.(type) {
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		}
	}
	walk(err)
	return out
}
