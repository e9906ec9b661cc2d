package telemetry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrUndeclaredField is returned when recording a key the span did not
	// declare at creation. The span is left unchanged.
	ErrUndeclaredField = errors.New("telemetry: field not declared at span creation")

	// ErrSpanClosed is returned when recording into a span whose last holder
	// already released it.
	ErrSpanClosed = errors.New("telemetry: span is closed")
)

// SpanData is the shared record behind every handle to one span. Layers
// receive it in callbacks; handler code goes through Span.
type SpanData struct {
	d        *Dispatcher
	meta     *Metadata
	callsite *callsite

	traceID      trace.TraceID
	spanID       trace.SpanID
	parentID     trace.SpanID
	remoteParent bool
	flags        trace.TraceFlags
	start        time.Time

	mu     sync.RWMutex
	keys   map[string]int
	fields []Field
	end    time.Time

	refs   atomic.Int64
	closed atomic.Bool
}

func (s *SpanData) Metadata() *Metadata { return s.meta }

func (s *SpanData) Name() string { return s.meta.Name }

func (s *SpanData) TraceID() trace.TraceID { return s.traceID }

func (s *SpanData) SpanID() trace.SpanID { return s.spanID }

// ParentSpanID is the local or remote parent, zero for a trace root.
func (s *SpanData) ParentSpanID() trace.SpanID { return s.parentID }

// HasRemoteParent reports whether the parent came from a propagated context.
func (s *SpanData) HasRemoteParent() bool { return s.remoteParent }

// IsTraceRoot reports whether the span started a new trace.
func (s *SpanData) IsTraceRoot() bool { return !s.parentID.IsValid() }

func (s *SpanData) Start() time.Time { return s.start }

// End returns the close time, zero while the span is open.
func (s *SpanData) End() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.end
}

// Duration returns the span's duration, or the time elapsed so far.
func (s *SpanData) Duration() time.Duration {
	end := s.End()
	if end.IsZero() {
		return time.Since(s.start)
	}
	return end.Sub(s.start)
}

func (s *SpanData) Closed() bool { return s.closed.Load() }

// Fields returns a copy of the declared fields in declaration order.
func (s *SpanData) Fields() []Field {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a declared field. ok is false if the key was not declared.
func (s *SpanData) Field(key string) (Field, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.keys[key]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// SpanContext returns the span's identity in OpenTelemetry form.
func (s *SpanData) SpanContext() trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    s.traceID,
		SpanID:     s.spanID,
		TraceFlags: s.flags,
	})
}

func (s *SpanData) record(key string, value any) (Field, error) {
	if s.closed.Load() {
		return Field{}, ErrSpanClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.keys[key]
	if !ok {
		return Field{}, ErrUndeclaredField
	}
	s.fields[i].Value = value
	return s.fields[i], nil
}

// acquire adds a holder unless the span already closed.
func (s *SpanData) acquire() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *SpanData) release() {
	if s.refs.Add(-1) != 0 {
		return
	}
	s.mu.Lock()
	s.end = time.Now()
	s.mu.Unlock()
	s.closed.Store(true)
	s.d.closeSpan(s)
}

// Span is one holder's handle to a span. The span closes when every handle
// obtained from StartSpan or Clone has been released. A nil or disabled
// Span accepts every call and does nothing, so telemetry access can never
// break a request.
//
// Field mutation through a handle should stay on the goroutine that owns
// it; hand background work its own Clone.
type Span struct {
	data     *SpanData
	released atomic.Bool

	// set on handles whose span the filters rejected; events are still
	// offered to the dispatcher, without a parent span
	d    *Dispatcher
	meta *Metadata
}

var disabled = &Span{}

// Disabled returns a span handle that records nothing.
func Disabled() *Span { return disabled }

// Data exposes the shared record, nil for a disabled span.
func (s *Span) Data() *SpanData {
	if s == nil {
		return nil
	}
	return s.data
}

// IsEnabled reports whether the span is recorded by any layer.
func (s *Span) IsEnabled() bool { return s.Data() != nil }

// Record fills a field declared when the span was created.
func (s *Span) Record(key string, value any) error {
	data := s.Data()
	if data == nil {
		return nil
	}
	f, err := data.record(key, value)
	if err != nil {
		return err
	}
	data.d.recordSpan(data, f)
	return nil
}

// Clone returns a new handle that keeps the span open until it is released.
func (s *Span) Clone() *Span {
	data := s.Data()
	if data == nil {
		if s != nil && s.d != nil {
			return s
		}
		return disabled
	}
	if !data.acquire() {
		return disabled
	}
	return &Span{data: data}
}

// Release drops this handle's hold on the span. Calling it more than once
// is a no-op.
func (s *Span) Release() {
	data := s.Data()
	if data == nil || !s.released.CompareAndSwap(false, true) {
		return
	}
	data.release()
}

// Enter notifies layers that work is executing inside the span.
func (s *Span) Enter() {
	if data := s.Data(); data != nil {
		data.d.enterSpan(data)
	}
}

// Exit notifies layers that work left the span.
func (s *Span) Exit() {
	if data := s.Data(); data != nil {
		data.d.exitSpan(data)
	}
}

// FollowsFrom links the span to a causally related span outside its parent
// chain.
func (s *Span) FollowsFrom(other *Span) {
	data, follows := s.Data(), other.Data()
	if data == nil || follows == nil {
		return
	}
	data.d.followsFrom(data, follows)
}

// Event emits an event inside the span. When the span itself was filtered
// out the event is still offered to the layers, with no parent span, so a
// verbosity directive stricter than the span's level does not hide errors.
func (s *Span) Event(level Level, msg string, fields ...Field) {
	data := s.Data()
	var (
		d    *Dispatcher
		meta *Metadata
	)
	switch {
	case data != nil:
		d, meta = data.d, data.meta
	case s != nil && s.d != nil:
		d, meta = s.d, s.meta
	default:
		return
	}
	d.Emit(&Event{
		Meta: &Metadata{
			Name:   "event",
			Target: meta.Target,
			Level:  level,
			Kind:   KindEvent,
		},
		Time:    time.Now(),
		Message: msg,
		Fields:  fields,
		Span:    data,
	})
}

// SpanContext returns the OpenTelemetry identity, invalid for a disabled span.
func (s *Span) SpanContext() trace.SpanContext {
	if data := s.Data(); data != nil {
		return data.SpanContext()
	}
	return trace.SpanContext{}
}
