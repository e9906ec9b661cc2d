package telemetry

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const spanFieldKey = "telemetry.span"

// ZapSpan returns a zap field that ties a log entry written through a bridge
// core to the span active in ctx. Ordinary zap cores skip it.
func ZapSpan(ctx context.Context) zap.Field {
	return zap.Field{Key: spanFieldKey, Type: zapcore.SkipType, Interface: SpanFromContext(ctx)}
}

// zapCore adapts zap's leveled logging onto the dispatcher: each entry
// becomes an Event carrying its original zap level in a LegacyRecord.
type zapCore struct {
	d      *Dispatcher
	target string
	fields []zapcore.Field
}

// NewZapCore returns a zapcore.Core that feeds entries to d as events under
// target. Use it for libraries that only know how to log.
func NewZapCore(d *Dispatcher, target string) zapcore.Core {
	return &zapCore{d: d, target: target}
}

func (c *zapCore) Enabled(lvl zapcore.Level) bool {
	return c.d.Enabled(&Metadata{
		Name:   "log event",
		Target: c.target,
		Level:  FromZap(lvl),
		Kind:   KindEvent,
	})
}

func (c *zapCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &zapCore{d: c.d, target: c.target}
	clone.fields = make([]zapcore.Field, 0, len(c.fields)+len(fields))
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return clone
}

func (c *zapCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *zapCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ev := &Event{
		Meta: &Metadata{
			Name:   "log event",
			Target: c.target,
			Level:  FromZap(ent.Level),
			Kind:   KindEvent,
		},
		Time:    ent.Time,
		Message: ent.Message,
		Legacy: &LegacyRecord{
			Level:      ent.Level,
			LoggerName: ent.LoggerName,
		},
	}
	if ent.Caller.Defined {
		ev.Legacy.Caller = ent.Caller.TrimmedPath()
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, group := range [][]zapcore.Field{c.fields, fields} {
		for _, f := range group {
			if f.Key == spanFieldKey {
				if span, ok := f.Interface.(*Span); ok {
					ev.Span = span.Data()
				}
				continue
			}
			f.AddTo(enc)
		}
	}
	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Fields = append(ev.Fields, Field{Key: k, Value: enc.Fields[k]})
	}

	c.d.Emit(ev)
	return nil
}

func (c *zapCore) Sync() error { return nil }
