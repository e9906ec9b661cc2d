package telemetry

import "context"

// EventFilter wraps a layer and drops events below a fixed threshold before
// they reach it. Span callbacks and interest queries pass straight through,
// so the wrapped layer still sees every span the global directive allows.
//
// The threshold composes with the directive by intersection: an event must
// pass both. Different sinks can therefore apply stricter local caps without
// re-deriving the global filter.
type EventFilter struct {
	inner     Layer
	threshold Level
}

// NewEventFilter returns a layer forwarding to inner only events whose
// normalized level is at least threshold.
func NewEventFilter(inner Layer, threshold Level) *EventFilter {
	return &EventFilter{inner: inner, threshold: threshold}
}

// Threshold returns the configured cap.
func (f *EventFilter) Threshold() Level { return f.threshold }

// Inner returns the wrapped layer.
func (f *EventFilter) Inner() Layer { return f.inner }

func (f *EventFilter) RegisterCallsite(meta *Metadata) Interest {
	return f.inner.RegisterCallsite(meta)
}

func (f *EventFilter) Enabled(meta *Metadata) bool { return f.inner.Enabled(meta) }

func (f *EventFilter) MaxLevelHint() (Level, bool) { return f.inner.MaxLevelHint() }

func (f *EventFilter) OnNewSpan(span *SpanData) { f.inner.OnNewSpan(span) }

func (f *EventFilter) OnRecord(span *SpanData, field Field) { f.inner.OnRecord(span, field) }

func (f *EventFilter) OnFollowsFrom(span, follows *SpanData) { f.inner.OnFollowsFrom(span, follows) }

func (f *EventFilter) OnEnter(span *SpanData) { f.inner.OnEnter(span) }

func (f *EventFilter) OnExit(span *SpanData) { f.inner.OnExit(span) }

func (f *EventFilter) OnClose(span *SpanData) { f.inner.OnClose(span) }

// OnEvent is the only filtered path.
func (f *EventFilter) OnEvent(ev *Event) {
	if ev.NormalizedLevel().AtLeast(f.threshold) {
		f.inner.OnEvent(ev)
	}
}

// Shutdown forwards to the wrapped layer.
func (f *EventFilter) Shutdown(ctx context.Context) error {
	if s, ok := f.inner.(Shutdowner); ok {
		return s.Shutdown(ctx)
	}
	return nil
}
