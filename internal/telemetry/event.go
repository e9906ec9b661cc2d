package telemetry

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Event is a point-in-time record produced inside whatever span was active.
type Event struct {
	Meta    *Metadata
	Time    time.Time
	Message string
	Fields  []Field
	// Span is the active span when the event was produced, nil outside any span.
	Span *SpanData
	// Legacy is set for events bridged from a zap logger.
	Legacy *LegacyRecord
}

// LegacyRecord keeps what a leveled logger originally said about an entry.
type LegacyRecord struct {
	Level      zapcore.Level
	LoggerName string
	Caller     string
}

// NormalizedLevel returns the event's level on the span scale. Bridged
// entries are mapped from their original logger level so that filters
// compare everything on one ordinal scale.
func (e *Event) NormalizedLevel() Level {
	if e.Legacy != nil {
		return FromZap(e.Legacy.Level)
	}
	if e.Meta == nil {
		return InfoLevel
	}
	return e.Meta.Level
}

// Target returns the event's target, or the logger name for bridged entries.
func (e *Event) Target() string {
	if e.Meta != nil && e.Meta.Target != "" {
		return e.Meta.Target
	}
	if e.Legacy != nil {
		return e.Legacy.LoggerName
	}
	return ""
}
