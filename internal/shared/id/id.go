// Package id provides centralized ID generation for request tracing.
//
// Three identifier families are produced here:
//   - RequestID: 128-bit random UUIDv4, scoped to one service boundary
//   - TraceID: 128-bit ULID bytes, k-sortable so traces order by start time
//   - SpanID: 64-bit random value, unique within a trace
//
// Trace and span IDs use the OpenTelemetry representations so they can be
// handed to propagators without conversion.
package id

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

// ============================================================================
// Request IDs
// ============================================================================

// RequestID identifies an inbound request
type RequestID struct {
	u uuid.UUID
}

// NewRequestID generates a new random request ID
func NewRequestID() RequestID {
	return RequestID{u: uuid.New()}
}

// ParseRequestID parses a canonical UUID string
func ParseRequestID(s string) (RequestID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return RequestID{}, err
	}
	return RequestID{u: u}, nil
}

// String renders the request ID for logs and error payloads
func (r RequestID) String() string {
	if r.IsZero() {
		return ""
	}
	return r.u.String()
}

// IsZero reports whether the request ID was never assigned
func (r RequestID) IsZero() bool {
	return r.u == uuid.Nil
}

// MarshalText implements encoding.TextMarshaler
func (r RequestID) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ============================================================================
// Trace and span IDs
// ============================================================================

// Generator generates trace and span IDs
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator that reads from entropy.
// When the reader fails or runs dry ids fall back to crypto/rand.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// TraceID creates a new trace ID from a ULID
func (g *Generator) TraceID() trace.TraceID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	u, err := ulid.New(ulid.Timestamp(time.Now()), g.entropy)
	if err != nil {
		// Entropy exhausted; fall back to crypto/rand so ids stay unique
		u = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	}
	return trace.TraceID(u)
}

// SpanID creates a new non-zero span ID
func (g *Generator) SpanID() trace.SpanID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	var sid trace.SpanID
	for {
		if _, err := io.ReadFull(g.entropy, sid[:]); err != nil {
			_, _ = rand.Read(sid[:])
		}
		if binary.BigEndian.Uint64(sid[:]) != 0 {
			return sid
		}
	}
}

// TraceTimestamp extracts the creation time embedded in a generated trace ID.
// Remote trace IDs are not ULIDs; the result for them is meaningless.
func TraceTimestamp(tid trace.TraceID) time.Time {
	return ulid.Time(ulid.ULID(tid).Time())
}
