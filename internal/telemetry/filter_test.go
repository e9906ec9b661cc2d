package telemetry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestEventFilterThreshold(t *testing.T) {
	inner := &recorder{hint: TraceLevel, hasHint: true}
	filter := NewEventFilter(inner, InfoLevel)

	for _, lvl := range []Level{TraceLevel, DebugLevel, InfoLevel, WarnLevel, ErrorLevel} {
		filter.OnEvent(&Event{Meta: &Metadata{Level: lvl, Kind: KindEvent}, Message: lvl.String()})
	}

	assert.Equal(t, []string{"info", "warn", "error"}, inner.messages())
}

func TestEventFilterIgnoresInnerHints(t *testing.T) {
	// The inner layer wants everything; the filter still caps it.
	inner := &recorder{hint: TraceLevel, hasHint: true}
	d := NewDispatcher([]Layer{NewEventFilter(inner, InfoLevel)})

	d.Event(context.Background(), DebugLevel, "app", "debug event")
	d.Event(context.Background(), WarnLevel, "app", "warn event")

	assert.Equal(t, []string{"warn event"}, inner.messages())
}

func TestEventFilterPassesSpanCallbacks(t *testing.T) {
	inner := &recorder{}
	d := NewDispatcher([]Layer{NewEventFilter(inner, OffLevel)})

	_, span := d.StartSpan(context.Background(), "work",
		WithLevel(DebugLevel), WithFields(Declare("k")),
	)
	span.Enter()
	_ = span.Record("k", "v")
	span.Event(ErrorLevel, "dropped")
	span.Exit()
	span.Release()

	assert.Equal(t, []string{"new:work", "enter:work", "record:k", "exit:work", "close:work"}, inner.Calls())
}

func TestEventFilterPassesInterest(t *testing.T) {
	inner := &recorder{hint: WarnLevel, hasHint: true, enabled: func(m *Metadata) bool { return m.Target != "noisy" }}
	filter := NewEventFilter(inner, DebugLevel)

	hint, ok := filter.MaxLevelHint()
	assert.True(t, ok)
	assert.Equal(t, WarnLevel, hint)
	assert.False(t, filter.Enabled(&Metadata{Target: "noisy"}))
	assert.Equal(t, InterestSometimes, filter.RegisterCallsite(&Metadata{}))
	assert.Equal(t, DebugLevel, filter.Threshold())
	assert.Same(t, inner, filter.Inner())
}

func TestEventFilterNormalizesLegacyLevels(t *testing.T) {
	inner := &recorder{}
	filter := NewEventFilter(inner, DebugLevel)

	// Meta says info, but the zap entry underneath was a V-level trace line.
	filter.OnEvent(&Event{
		Meta:    &Metadata{Level: InfoLevel, Kind: KindEvent},
		Message: "verbose",
		Legacy:  &LegacyRecord{Level: zapcore.DebugLevel - 3},
	})
	filter.OnEvent(&Event{
		Meta:    &Metadata{Level: InfoLevel, Kind: KindEvent},
		Message: "warned",
		Legacy:  &LegacyRecord{Level: zapcore.WarnLevel},
	})

	assert.Equal(t, []string{"warned"}, inner.messages())
}

func TestEventFiltersAreIndependent(t *testing.T) {
	strict := &recorder{}
	loose := &recorder{}
	d := NewDispatcher([]Layer{
		NewEventFilter(strict, ErrorLevel),
		NewEventFilter(loose, DebugLevel),
	})

	d.Event(context.Background(), DebugLevel, "app", "d")
	d.Event(context.Background(), WarnLevel, "app", "w")
	d.Event(context.Background(), ErrorLevel, "app", "e")

	assert.Equal(t, []string{"e"}, strict.messages())
	assert.Equal(t, []string{"d", "w", "e"}, loose.messages())
}

func TestEventFilterIntersectsDirective(t *testing.T) {
	inner := &recorder{}
	dir, _ := ParseDirective("warn")
	d := NewDispatcher([]Layer{NewEventFilter(inner, DebugLevel)}, WithDirective(dir))

	d.Event(context.Background(), InfoLevel, "app", "info")
	d.Event(context.Background(), ErrorLevel, "app", "error")

	assert.Equal(t, []string{"error"}, inner.messages())
}

func TestEventFilterConcurrent(t *testing.T) {
	inner := &recorder{}
	d := NewDispatcher([]Layer{NewEventFilter(inner, WarnLevel)})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.Event(context.Background(), InfoLevel, "app", "info")
				d.Event(context.Background(), ErrorLevel, "app", "error")
			}
		}()
	}
	wg.Wait()

	assert.Len(t, inner.Events(), 20*50)
}
