package telemetry

import (
	"sync"
)

// recorder is a Layer that remembers every callback.
type recorder struct {
	BaseLayer

	mu      sync.Mutex
	calls   []string
	events  []*Event
	closed  []*SpanData
	records []Field

	hint    Level
	hasHint bool
	enabled func(*Metadata) bool
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) Enabled(meta *Metadata) bool {
	if r.enabled != nil {
		return r.enabled(meta)
	}
	return true
}

func (r *recorder) MaxLevelHint() (Level, bool) { return r.hint, r.hasHint }

func (r *recorder) OnNewSpan(span *SpanData) { r.add("new:" + span.Name()) }

func (r *recorder) OnRecord(span *SpanData, f Field) {
	r.add("record:" + f.Key)
	r.mu.Lock()
	r.records = append(r.records, f)
	r.mu.Unlock()
}

func (r *recorder) OnFollowsFrom(span, _ *SpanData) { r.add("follows:" + span.Name()) }

func (r *recorder) OnEnter(span *SpanData) { r.add("enter:" + span.Name()) }

func (r *recorder) OnExit(span *SpanData) { r.add("exit:" + span.Name()) }

func (r *recorder) OnClose(span *SpanData) {
	r.add("close:" + span.Name())
	r.mu.Lock()
	r.closed = append(r.closed, span)
	r.mu.Unlock()
}

func (r *recorder) OnEvent(ev *Event) {
	r.add("event:" + ev.Message)
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Event(nil), r.events...)
}

func (r *recorder) Closed() []*SpanData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*SpanData(nil), r.closed...)
}

func (r *recorder) messages() []string {
	var out []string
	for _, ev := range r.Events() {
		out = append(out, ev.Message)
	}
	return out
}
