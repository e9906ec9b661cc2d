/*
Package tracing wraps every inbound request in a root span and carries trace
context across service boundaries.

# Overview

The middleware assigns each request a RequestID, extracts a remote parent
from the inbound headers, asks a RootSpanBuilder for the root span and makes
that span the active span of the request context. All handler work,
including goroutines started with the request context, nests under it. When
the handler returns, panics or the client goes away, the builder's end hook
runs exactly once and the span is released.

# Lifecycle

	Idle -> SpanActive -> Finalizing -> Closed

Transitions are compare-and-swap on the RequestContext, so finalization is
idempotent even when several exit paths race.

# Usage

	d := telemetry.NewDispatcher(layers)
	mw := tracing.New(d,
		tracing.WithPropagator(propagator),
		tracing.WithDiagnosticLogger(logger),
	)

	router.Use(mw.Handler())

	server := grpc.NewServer(
		grpc.UnaryInterceptor(mw.UnaryServerInterceptor()),
		grpc.StreamInterceptor(mw.StreamServerInterceptor()),
	)

Inside a handler:

	if span, ok := tracing.RootSpan(c); ok {
		_ = span.Record("app.user", user)
	}

# Propagation

NewPropagator composes W3C tracecontext, W3C baggage and the legacy
X-Trace-ID / X-Span-ID headers. Extraction never fails; a missing or
malformed parent simply starts a new trace. Outbound calls made through
Transport or Client inject the context of the span active in the request
context.
*/
package tracing
