package export

import (
	"time"

	"github.com/GriffinCanCode/reqtrace/internal/telemetry"
)

// FinishedSpan is the snapshot of a closed span handed to exporters.
type FinishedSpan struct {
	TraceID      string                 `json:"trace_id"`
	SpanID       string                 `json:"span_id"`
	ParentID     string                 `json:"parent_id,omitempty"`
	RemoteParent bool                   `json:"remote_parent,omitempty"`
	Service      string                 `json:"service,omitempty"`
	Name         string                 `json:"name"`
	Target       string                 `json:"target,omitempty"`
	Level        string                 `json:"level"`
	Start        time.Time              `json:"start"`
	End          time.Time              `json:"end"`
	Duration     time.Duration          `json:"duration_ns"`
	Fields       map[string]interface{} `json:"fields,omitempty"`
	Events       []EventRecord          `json:"events,omitempty"`
	FollowsFrom  []string               `json:"follows_from,omitempty"`
}

// EventRecord is an event that happened inside the span.
type EventRecord struct {
	Time    time.Time              `json:"time"`
	Level   string                 `json:"level"`
	Target  string                 `json:"target,omitempty"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// pending accumulates what happens to a span while it is open.
type pending struct {
	events  []EventRecord
	follows []string
}

func snapshot(s *telemetry.SpanData, service string, p *pending) FinishedSpan {
	fs := FinishedSpan{
		TraceID:      s.TraceID().String(),
		SpanID:       s.SpanID().String(),
		RemoteParent: s.HasRemoteParent(),
		Service:      service,
		Name:         s.Name(),
		Target:       s.Metadata().Target,
		Level:        s.Metadata().Level.String(),
		Start:        s.Start(),
		End:          s.End(),
		Duration:     s.Duration(),
		Fields:       fieldMap(s.Fields()),
	}
	if !s.IsTraceRoot() {
		fs.ParentID = s.ParentSpanID().String()
	}
	if p != nil {
		fs.Events = p.events
		fs.FollowsFrom = p.follows
	}
	return fs
}

func eventRecord(ev *telemetry.Event) EventRecord {
	return EventRecord{
		Time:    ev.Time,
		Level:   ev.NormalizedLevel().String(),
		Target:  ev.Target(),
		Message: ev.Message,
		Fields:  fieldMap(ev.Fields),
	}
}

// fieldMap drops fields that were declared but never recorded.
func fieldMap(fields []telemetry.Field) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		if f.IsEmpty() {
			continue
		}
		out[f.Key] = f.Value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
