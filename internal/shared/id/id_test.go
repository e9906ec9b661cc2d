package id

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestID(t *testing.T) {
	rid := NewRequestID()

	assert.False(t, rid.IsZero())
	assert.Len(t, rid.String(), 36)

	parsed, err := ParseRequestID(rid.String())
	require.NoError(t, err)
	assert.Equal(t, rid, parsed)
}

func TestZeroRequestID(t *testing.T) {
	var rid RequestID

	assert.True(t, rid.IsZero())
	assert.Equal(t, "", rid.String())
}

func TestParseRequestIDInvalid(t *testing.T) {
	_, err := ParseRequestID("not-a-uuid")
	assert.Error(t, err)
}

func TestConcurrentRequestIDs(t *testing.T) {
	const goroutines = 100
	const idsPerGoroutine = 100

	var wg sync.WaitGroup
	idChan := make(chan string, goroutines*idsPerGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < idsPerGoroutine; j++ {
				idChan <- NewRequestID().String()
			}
		}()
	}

	wg.Wait()
	close(idChan)

	seen := make(map[string]bool)
	for rid := range idChan {
		if seen[rid] {
			t.Errorf("Duplicate request ID found in concurrent generation: %s", rid)
		}
		seen[rid] = true
	}
	assert.Len(t, seen, goroutines*idsPerGoroutine)
}

func TestTraceIDValid(t *testing.T) {
	gen := NewGenerator()

	tid := gen.TraceID()
	assert.True(t, tid.IsValid())
	assert.NotEqual(t, tid, gen.TraceID())
}

func TestTraceTimestamp(t *testing.T) {
	gen := NewGenerator()

	before := time.Now()
	tid := gen.TraceID()
	after := time.Now()

	ts := TraceTimestamp(tid)
	assert.GreaterOrEqual(t, ts.UnixMilli(), before.UnixMilli())
	assert.LessOrEqual(t, ts.UnixMilli(), after.UnixMilli())
}

func TestSpanIDNeverZero(t *testing.T) {
	// Eight zero bytes first, then a usable value
	entropy := bytes.NewReader(append(make([]byte, 8), 1, 2, 3, 4, 5, 6, 7, 8))
	gen := NewGeneratorWithEntropy(entropy)

	sid := gen.SpanID()
	assert.True(t, sid.IsValid())
	assert.Equal(t, "0102030405060708", sid.String())
}

func TestDefaultGenerator(t *testing.T) {
	gen1 := Default()
	gen2 := Default()

	if gen1 != gen2 {
		t.Error("Default() should return the same instance")
	}
	assert.True(t, gen1.SpanID().IsValid())
}

func BenchmarkNewRequestID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = NewRequestID()
	}
}

func BenchmarkTraceID(b *testing.B) {
	gen := NewGenerator()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = gen.TraceID()
	}
}
