package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/reqtrace/internal/shared/id"
)

// Dispatcher is the process-scoped registry of layers. It is built once at
// startup, handed explicitly to the components that create spans, and torn
// down with Shutdown. The layer list and directive never change after
// construction, so callbacks read them without locking.
type Dispatcher struct {
	layers    []Layer
	directive *Directive
	ids       *id.Generator
	logger    *zap.Logger

	// most verbose level that both the directive and the layers accept
	maxLevel Level

	callsites sync.Map // callsiteKey -> *callsite
	stopped   atomic.Bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDirective sets the global verbosity directive.
func WithDirective(dir *Directive) Option {
	return func(d *Dispatcher) { d.directive = dir }
}

// WithLogger sets the diagnostic logger used to report layer failures.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithIDGenerator overrides the trace and span id source.
func WithIDGenerator(gen *id.Generator) Option {
	return func(d *Dispatcher) { d.ids = gen }
}

// NewDispatcher creates a dispatcher over layers.
func NewDispatcher(layers []Layer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		layers:    layers,
		directive: NewDirective(TraceLevel),
		ids:       id.Default(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.maxLevel = d.directive.MaxLevel()
	if hint, ok := d.layersHint(); ok && hint > d.maxLevel {
		d.maxLevel = hint
	}
	return d
}

// layersHint returns the most verbose level any layer accepts, when every
// layer offers a hint.
func (d *Dispatcher) layersHint() (Level, bool) {
	if len(d.layers) == 0 {
		return OffLevel, true
	}
	most := OffLevel
	for _, l := range d.layers {
		hint, ok := l.MaxLevelHint()
		if !ok {
			return TraceLevel, false
		}
		if hint < most {
			most = hint
		}
	}
	return most, true
}

// Directive returns the global directive.
func (d *Dispatcher) Directive() *Directive { return d.directive }

// MaxLevel returns the most verbose level that can reach any layer.
func (d *Dispatcher) MaxLevel() Level { return d.maxLevel }

// ============================================================================
// Callsite interest
// ============================================================================

type callsiteKey struct {
	kind   Kind
	level  Level
	target string
	name   string
}

type callsite struct {
	enabled  bool // directive decision
	interest []Interest
}

func (d *Dispatcher) callsite(meta *Metadata) *callsite {
	key := callsiteKey{kind: meta.Kind, level: meta.Level, target: meta.Target, name: meta.Name}
	if cs, ok := d.callsites.Load(key); ok {
		return cs.(*callsite)
	}

	cs := &callsite{
		enabled:  meta.Level.AtLeast(d.maxLevel) && d.directive.Enabled(meta),
		interest: make([]Interest, len(d.layers)),
	}
	if cs.enabled {
		for i, l := range d.layers {
			cs.interest[i] = InterestNever
			d.guard(meta.Kind.String()+".register_callsite", func() {
				cs.interest[i] = l.RegisterCallsite(meta)
			})
		}
	}
	actual, _ := d.callsites.LoadOrStore(key, cs)
	return actual.(*callsite)
}

// selectLayers returns which layers accept this occurrence, nil if none.
func (d *Dispatcher) selectLayers(cs *callsite, meta *Metadata) []bool {
	if !cs.enabled {
		return nil
	}
	var mask []bool
	for i, l := range d.layers {
		ok := false
		switch cs.interest[i] {
		case InterestAlways:
			ok = true
		case InterestSometimes:
			d.guard(meta.Kind.String()+".enabled", func() { ok = l.Enabled(meta) })
		}
		if ok {
			if mask == nil {
				mask = make([]bool, len(d.layers))
			}
			mask[i] = true
		}
	}
	return mask
}

// Enabled reports whether a span or event at meta would reach any layer.
func (d *Dispatcher) Enabled(meta *Metadata) bool {
	if d.stopped.Load() {
		return false
	}
	return d.selectLayers(d.callsite(meta), meta) != nil
}

// ============================================================================
// Spans
// ============================================================================

type spanConfig struct {
	target string
	level  Level
	fields []Field
	remote trace.SpanContext
	root   bool
}

// SpanOption configures StartSpan.
type SpanOption func(*spanConfig)

// WithTarget sets the span's target, the prefix the directive matches on.
func WithTarget(target string) SpanOption {
	return func(c *spanConfig) { c.target = target }
}

// WithLevel sets the span's level. The default is info.
func WithLevel(level Level) SpanOption {
	return func(c *spanConfig) { c.level = level }
}

// WithFields declares the span's fields. Later Record calls may only fill
// these keys; use Declare for values not yet known.
func WithFields(fields ...Field) SpanOption {
	return func(c *spanConfig) { c.fields = append(c.fields, fields...) }
}

// WithRemoteParent parents the span under a propagated context. An invalid
// context is ignored.
func WithRemoteParent(sc trace.SpanContext) SpanOption {
	return func(c *spanConfig) { c.remote = sc }
}

// AsRoot ignores any span active in the context.
func AsRoot() SpanOption {
	return func(c *spanConfig) { c.root = true }
}

// StartSpan creates a span and returns a context in which it is active.
// The caller owns one hold on the span and must Release it.
func (d *Dispatcher) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := spanConfig{level: InfoLevel}
	for _, opt := range opts {
		opt(&cfg)
	}

	meta := &Metadata{Name: name, Target: cfg.target, Level: cfg.level, Kind: KindSpan}
	if d.stopped.Load() {
		return ctx, disabled
	}
	cs := d.callsite(meta)
	mask := d.selectLayers(cs, meta)
	if mask == nil {
		return ctx, &Span{d: d, meta: meta}
	}

	data := &SpanData{
		d:        d,
		meta:     meta,
		callsite: &callsite{enabled: true, interest: maskInterest(mask)},
		spanID:   d.ids.SpanID(),
		start:    time.Now(),
		keys:     make(map[string]int, len(cfg.fields)),
		fields:   make([]Field, 0, len(cfg.fields)),
	}
	switch parent := SpanFromContext(ctx).Data(); {
	case cfg.remote.IsValid():
		data.traceID = cfg.remote.TraceID()
		data.parentID = cfg.remote.SpanID()
		data.flags = cfg.remote.TraceFlags()
		data.remoteParent = true
	case parent != nil && !cfg.root:
		data.traceID = parent.traceID
		data.parentID = parent.spanID
		data.flags = parent.flags
	default:
		data.traceID = d.ids.TraceID()
		data.flags = trace.FlagsSampled
	}
	for _, f := range cfg.fields {
		if _, dup := data.keys[f.Key]; dup {
			continue
		}
		data.keys[f.Key] = len(data.fields)
		data.fields = append(data.fields, f)
	}
	data.refs.Store(1)

	d.each(data.callsite, "span.new", func(l Layer) { l.OnNewSpan(data) })

	span := &Span{data: data}
	return ContextWithSpan(ctx, span), span
}

func maskInterest(mask []bool) []Interest {
	out := make([]Interest, len(mask))
	for i, ok := range mask {
		if ok {
			out[i] = InterestAlways
		}
	}
	return out
}

func (d *Dispatcher) recordSpan(s *SpanData, f Field) {
	d.each(s.callsite, "span.record", func(l Layer) { l.OnRecord(s, f) })
}

func (d *Dispatcher) enterSpan(s *SpanData) {
	d.each(s.callsite, "span.enter", func(l Layer) { l.OnEnter(s) })
}

func (d *Dispatcher) exitSpan(s *SpanData) {
	d.each(s.callsite, "span.exit", func(l Layer) { l.OnExit(s) })
}

func (d *Dispatcher) followsFrom(s, follows *SpanData) {
	d.each(s.callsite, "span.follows_from", func(l Layer) { l.OnFollowsFrom(s, follows) })
}

func (d *Dispatcher) closeSpan(s *SpanData) {
	d.each(s.callsite, "span.close", func(l Layer) { l.OnClose(s) })
}

// ============================================================================
// Events
// ============================================================================

// Event emits an event inside the span active in ctx.
func (d *Dispatcher) Event(ctx context.Context, level Level, target, msg string, fields ...Field) {
	d.Emit(&Event{
		Meta:    &Metadata{Name: "event", Target: target, Level: level, Kind: KindEvent},
		Time:    time.Now(),
		Message: msg,
		Fields:  fields,
		Span:    SpanFromContext(ctx).Data(),
	})
}

// Emit delivers a fully built event to every interested layer.
func (d *Dispatcher) Emit(ev *Event) {
	if ev == nil || ev.Meta == nil || d.stopped.Load() {
		return
	}
	meta := ev.Meta
	if lvl := ev.NormalizedLevel(); lvl != meta.Level {
		normalized := *meta
		normalized.Level = lvl
		meta = &normalized
	}
	cs := d.callsite(meta)
	mask := d.selectLayers(cs, meta)
	for i, l := range d.layers {
		if mask == nil || !mask[i] {
			continue
		}
		d.guard("event", func() { l.OnEvent(ev) })
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

// Shutdown stops accepting spans and events and shuts down every layer that
// holds resources. Calling it again is a no-op.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if !d.stopped.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for _, l := range d.layers {
		if s, ok := l.(Shutdowner); ok {
			if err := s.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) each(cs *callsite, op string, fn func(Layer)) {
	for i, l := range d.layers {
		if cs.interest[i] == InterestNever {
			continue
		}
		d.guard(op, func() { fn(l) })
	}
}

// guard contains a panicking layer so that one broken sink cannot take the
// request down with it.
func (d *Dispatcher) guard(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("telemetry layer panicked",
				zap.String("op", op),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}
