package telemetry

import "context"

type spanKey struct{}

// ContextWithSpan returns a context in which span is the active span.
// Goroutines started with the returned context inherit it; the association
// follows the context, not the OS thread.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanKey{}, span)
}

// SpanFromContext returns the active span, or nil.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}
