package telemetry

import "context"

// Kind distinguishes span callsites from event callsites.
type Kind uint8

const (
	KindSpan Kind = iota
	KindEvent
)

func (k Kind) String() string {
	if k == KindSpan {
		return "span"
	}
	return "event"
}

// Metadata describes a span or event callsite.
type Metadata struct {
	Name   string
	Target string
	Level  Level
	Kind   Kind
}

// Interest is a layer's standing answer for a callsite.
type Interest uint8

const (
	// InterestNever drops every span or event from the callsite.
	InterestNever Interest = iota
	// InterestSometimes asks Enabled on every occurrence.
	InterestSometimes
	// InterestAlways skips the Enabled check.
	InterestAlways
)

// Layer consumes span lifecycle notifications and events. Callbacks may run
// concurrently from many request goroutines; a Layer is responsible for its
// own synchronization.
type Layer interface {
	// RegisterCallsite is consulted once per callsite and cached.
	RegisterCallsite(meta *Metadata) Interest
	// Enabled is consulted per occurrence when the interest is Sometimes.
	Enabled(meta *Metadata) bool
	// MaxLevelHint returns the most verbose level the layer can accept.
	MaxLevelHint() (Level, bool)

	OnNewSpan(span *SpanData)
	OnRecord(span *SpanData, field Field)
	OnFollowsFrom(span *SpanData, follows *SpanData)
	OnEnter(span *SpanData)
	OnExit(span *SpanData)
	OnClose(span *SpanData)
	OnEvent(ev *Event)
}

// Shutdowner is implemented by layers that hold resources.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// BaseLayer implements Layer with no-ops. Embed it and override what the
// layer needs.
type BaseLayer struct{}

func (BaseLayer) RegisterCallsite(*Metadata) Interest { return InterestSometimes }
func (BaseLayer) Enabled(*Metadata) bool { return true }
func (BaseLayer) MaxLevelHint() (Level, bool) { return TraceLevel, false }
func (BaseLayer) OnNewSpan(*SpanData) {}
func (BaseLayer) OnRecord(*SpanData, Field) {}
func (BaseLayer) OnFollowsFrom(*SpanData, *SpanData) {}
func (BaseLayer) OnEnter(*SpanData) {}
func (BaseLayer) OnExit(*SpanData) {}
func (BaseLayer) OnClose(*SpanData) {}
func (BaseLayer) OnEvent(*Event) {}
