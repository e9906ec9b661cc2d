package telemetry

import (
	"fmt"
	"time"
)

// Field is a key/value pair attached to a span or an event.
type Field struct {
	Key   string
	Value any
}

type emptyValue struct{}

func (emptyValue) String() string { return "" }

// Empty is the placeholder value for a span field that is declared at
// creation but recorded later.
var Empty any = emptyValue{}

// IsEmpty reports whether the field still holds the Empty placeholder.
func (f Field) IsEmpty() bool {
	_, ok := f.Value.(emptyValue)
	return ok
}

// String renders the value for text sinks.
func (f Field) String() string {
	if f.IsEmpty() {
		return ""
	}
	return fmt.Sprint(f.Value)
}

func String(key, value string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

func Any(key string, value any) Field { return Field{Key: key, Value: value} }

// Declare returns a field with no value yet.
func Declare(key string) Field { return Field{Key: key, Value: Empty} }

// Err records an error message under the "error" key.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: Empty}
	}
	return Field{Key: "error", Value: err.Error()}
}
