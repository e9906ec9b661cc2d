package tracing

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/reqtrace/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// capture keeps closed spans and events for assertions.
type capture struct {
	telemetry.BaseLayer

	mu     sync.Mutex
	closed []*telemetry.SpanData
	events []*telemetry.Event
}

func (c *capture) OnClose(span *telemetry.SpanData) {
	c.mu.Lock()
	c.closed = append(c.closed, span)
	c.mu.Unlock()
}

func (c *capture) OnEvent(ev *telemetry.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *capture) Closed() []*telemetry.SpanData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*telemetry.SpanData(nil), c.closed...)
}

func (c *capture) Events() []*telemetry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*telemetry.Event(nil), c.events...)
}

// spansNamed returns the closed spans called name.
func (c *capture) spansNamed(name string) []*telemetry.SpanData {
	var out []*telemetry.SpanData
	for _, s := range c.Closed() {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

func newCapture() (*capture, *telemetry.Dispatcher) {
	c := &capture{}
	return c, telemetry.NewDispatcher([]telemetry.Layer{c})
}

// countingBuilder counts hook invocations around the default builder.
type countingBuilder struct {
	DefaultRootSpanBuilder
	starts atomic.Int64
	ends   atomic.Int64
}

func (b *countingBuilder) OnRequestStart(ctx context.Context, d *telemetry.Dispatcher, req *RequestMetadata) *telemetry.Span {
	b.starts.Add(1)
	return b.DefaultRootSpanBuilder.OnRequestStart(ctx, d, req)
}

func (b *countingBuilder) OnRequestEnd(span *telemetry.Span, outcome *Outcome) {
	b.ends.Add(1)
	b.DefaultRootSpanBuilder.OnRequestEnd(span, outcome)
}

func fieldValue(s *telemetry.SpanData, key string) interface{} {
	f, ok := s.Field(key)
	if !ok {
		return nil
	}
	if f.IsEmpty() {
		return nil
	}
	return f.Value
}
