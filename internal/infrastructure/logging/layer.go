package logging

import (
	"context"
	"errors"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/reqtrace/internal/telemetry"
)

// LogLayer is the structured log sink: it writes events and, optionally,
// closed spans through a zap logger.
type LogLayer struct {
	telemetry.BaseLayer
	logger   *zap.Logger
	logSpans bool
}

// LayerOption configures a LogLayer.
type LayerOption func(*LogLayer)

// WithSpanClose also writes one line per closed span.
func WithSpanClose() LayerOption {
	return func(l *LogLayer) { l.logSpans = true }
}

// NewLogLayer creates a sink writing to logger. The logger must not be built
// on a telemetry bridge core, or events would loop.
func NewLogLayer(logger *zap.Logger, opts ...LayerOption) *LogLayer {
	l := &LogLayer{logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Enabled defers to the logger's own level for events. Spans are always
// accepted since events need their identity even when close lines are off.
func (l *LogLayer) Enabled(meta *telemetry.Metadata) bool {
	if meta.Kind == telemetry.KindSpan {
		return true
	}
	return l.logger.Core().Enabled(meta.Level.ZapLevel())
}

// MaxLevelHint reports the logger's level on the span scale.
func (l *LogLayer) MaxLevelHint() (telemetry.Level, bool) {
	lvl := zapcore.LevelOf(l.logger.Core())
	if lvl == zapcore.InvalidLevel {
		return telemetry.TraceLevel, false
	}
	return telemetry.FromZap(lvl), true
}

// OnEvent writes the event with the active span's identity attached.
func (l *LogLayer) OnEvent(ev *telemetry.Event) {
	ce := l.logger.Check(ev.NormalizedLevel().ZapLevel(), ev.Message)
	if ce == nil {
		return
	}

	fields := make([]zap.Field, 0, len(ev.Fields)+5)
	if target := ev.Target(); target != "" {
		fields = append(fields, zap.String("target", target))
	}
	if ev.Span != nil {
		fields = append(fields, spanIdentity(ev.Span)...)
		if rid, ok := ev.Span.Field("request_id"); ok && !rid.IsEmpty() {
			fields = append(fields, zap.String("request_id", rid.String()))
		}
	}
	fields = append(fields, toZap(ev.Fields)...)
	ce.Write(fields...)
}

// OnClose writes one line describing the finished span.
func (l *LogLayer) OnClose(span *telemetry.SpanData) {
	if !l.logSpans {
		return
	}

	fields := append(spanIdentity(span),
		zap.Duration("duration", span.Duration()),
	)
	if span.HasRemoteParent() {
		fields = append(fields, zap.Bool("remote_parent", true))
	}
	fields = append(fields, toZap(span.Fields())...)

	if status, ok := span.Field("otel.status_code"); ok && status.Value == "ERROR" {
		l.logger.Error("span completed with error", fields...)
		return
	}
	if ce := l.logger.Check(span.Metadata().Level.ZapLevel(), "span completed"); ce != nil {
		ce.Write(fields...)
	}
}

// Shutdown flushes buffered log output.
func (l *LogLayer) Shutdown(context.Context) error {
	err := l.logger.Sync()
	// stdout and stderr cannot be fsynced on most platforms
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}

func spanIdentity(span *telemetry.SpanData) []zap.Field {
	fields := []zap.Field{
		zap.String("span", span.Name()),
		zap.String("trace_id", span.TraceID().String()),
		zap.String("span_id", span.SpanID().String()),
	}
	if parent := span.ParentSpanID(); parent.IsValid() {
		fields = append(fields, zap.String("parent_id", parent.String()))
	}
	return fields
}

// toZap converts telemetry fields, leaving out values never recorded.
func toZap(fields []telemetry.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		if f.IsEmpty() {
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
