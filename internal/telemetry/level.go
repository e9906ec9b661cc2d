package telemetry

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// ErrInvalidLevel is returned when a level name cannot be parsed.
var ErrInvalidLevel = errors.New("telemetry: invalid level")

// Level is the ordinal importance of a span or event. Higher is more severe.
type Level int8

const (
	TraceLevel Level = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
)

// OffLevel is a threshold that no span or event reaches.
const OffLevel = ErrorLevel + 1

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case TraceLevel:
		return "trace"
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case OffLevel:
		return "off"
	default:
		return fmt.Sprintf("Level(%d)", l)
	}
}

// AtLeast reports whether l is at least as severe as threshold.
func (l Level) AtLeast(threshold Level) bool {
	return l >= threshold
}

// ParseLevel converts a level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return TraceLevel, nil
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "off", "none":
		return OffLevel, nil
	}
	return InfoLevel, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// UnmarshalText implements encoding.TextUnmarshaler so levels can be loaded
// straight from the environment. An empty value means info.
func (l *Level) UnmarshalText(text []byte) error {
	if len(bytes.TrimSpace(text)) == 0 {
		*l = InfoLevel
		return nil
	}
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// FromZap maps a zap level onto the span level scale. Levels more verbose
// than debug (logr V-levels end up there) become trace; everything from
// error upwards becomes error.
func FromZap(l zapcore.Level) Level {
	switch {
	case l < zapcore.DebugLevel:
		return TraceLevel
	case l == zapcore.DebugLevel:
		return DebugLevel
	case l == zapcore.InfoLevel:
		return InfoLevel
	case l == zapcore.WarnLevel:
		return WarnLevel
	default:
		return ErrorLevel
	}
}

// ZapLevel maps the level onto zap. Trace has no zap equivalent and is
// written one step below debug.
func (l Level) ZapLevel() zapcore.Level {
	switch l {
	case TraceLevel:
		return zapcore.DebugLevel - 1
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
