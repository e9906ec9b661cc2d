package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/reqtrace/internal/telemetry"
)

// ErrCollectorClosed is returned by Submit after Shutdown.
var ErrCollectorClosed = errors.New("export: collector is closed")

// Exporter ships batches of finished spans out of the process.
type Exporter interface {
	ExportSpans(ctx context.Context, spans []FinishedSpan) error
}

// Config tunes the collector.
type Config struct {
	Service       string
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	ExportTimeout time.Duration
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:    1000,
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		ExportTimeout: 10 * time.Second,
	}
}

// Collector is a telemetry layer that snapshots closed spans, together with
// the events recorded inside them, and hands them to an exporter in batches
// from a background goroutine. Spans are dropped rather than blocking the
// request when the buffer is full.
type Collector struct {
	telemetry.BaseLayer

	cfg      Config
	exporter Exporter
	logger   *zap.Logger

	openMu sync.Mutex
	open   map[*telemetry.SpanData]*pending

	mu     sync.RWMutex
	closed bool
	spans  chan FinishedSpan
	done   chan struct{}

	dropped  atomic.Uint64
	exported atomic.Uint64
	failed   atomic.Uint64
}

// NewCollector starts a collector. Zero config values take their defaults.
func NewCollector(exporter Exporter, logger *zap.Logger, cfg Config) *Collector {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = def.ExportTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Collector{
		cfg:      cfg,
		exporter: exporter,
		logger:   logger,
		open:     make(map[*telemetry.SpanData]*pending),
		spans:    make(chan FinishedSpan, cfg.BufferSize),
		done:     make(chan struct{}),
	}

	go c.run()

	return c
}

// ============================================================================
// Layer callbacks
// ============================================================================

func (c *Collector) OnNewSpan(span *telemetry.SpanData) {
	c.openMu.Lock()
	c.open[span] = &pending{}
	c.openMu.Unlock()
}

func (c *Collector) OnFollowsFrom(span, follows *telemetry.SpanData) {
	c.openMu.Lock()
	if p, ok := c.open[span]; ok {
		p.follows = append(p.follows, follows.SpanID().String())
	}
	c.openMu.Unlock()
}

func (c *Collector) OnEvent(ev *telemetry.Event) {
	if ev.Span == nil {
		return
	}
	rec := eventRecord(ev)
	c.openMu.Lock()
	if p, ok := c.open[ev.Span]; ok {
		p.events = append(p.events, rec)
	}
	c.openMu.Unlock()
}

func (c *Collector) OnClose(span *telemetry.SpanData) {
	c.openMu.Lock()
	p := c.open[span]
	delete(c.open, span)
	c.openMu.Unlock()

	_ = c.Submit(snapshot(span, c.cfg.Service, p))
}

// ============================================================================
// Batching
// ============================================================================

// Submit queues a finished span for export without blocking.
func (c *Collector) Submit(span FinishedSpan) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.dropped.Add(1)
		return ErrCollectorClosed
	}

	select {
	case c.spans <- span:
	default:
		c.dropped.Add(1)
		c.logger.Warn("span buffer full, dropping span",
			zap.String("trace_id", span.TraceID),
			zap.String("span_id", span.SpanID),
		)
	}
	return nil
}

func (c *Collector) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]FinishedSpan, 0, c.cfg.BatchSize)
	for {
		select {
		case span, ok := <-c.spans:
			if !ok {
				c.export(batch)
				return
			}
			batch = append(batch, span)
			if len(batch) >= c.cfg.BatchSize {
				c.export(batch)
				batch = make([]FinishedSpan, 0, c.cfg.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				c.export(batch)
				batch = make([]FinishedSpan, 0, c.cfg.BatchSize)
			}
		}
	}
}

func (c *Collector) export(batch []FinishedSpan) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ExportTimeout)
	defer cancel()

	if err := c.exporter.ExportSpans(ctx, batch); err != nil {
		c.failed.Add(uint64(len(batch)))
		c.logger.Error("span export failed",
			zap.Int("spans", len(batch)),
			zap.Error(err),
		)
		return
	}
	c.exported.Add(uint64(len(batch)))
}

// Dropped returns how many spans were discarded because the buffer was full.
func (c *Collector) Dropped() uint64 { return c.dropped.Load() }

// Exported returns how many spans the exporter accepted.
func (c *Collector) Exported() uint64 { return c.exported.Load() }

// Failed returns how many spans were lost to exporter errors.
func (c *Collector) Failed() uint64 { return c.failed.Load() }

// Shutdown stops accepting spans, exports what is buffered and shuts the
// exporter down if it supports it.
func (c *Collector) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.spans)
	}
	c.mu.Unlock()

	select {
	case <-c.done:
	case <-ctx.Done():
		return fmt.Errorf("flush spans: %w", ctx.Err())
	}

	if s, ok := c.exporter.(interface{ Shutdown(context.Context) error }); ok {
		if err := s.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown exporter: %w", err)
		}
	}
	return nil
}
