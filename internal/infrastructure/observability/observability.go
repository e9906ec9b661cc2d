package observability

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/config"
	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/export"
	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/logging"
	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/reqtrace/internal/telemetry"
)

// Observability is the process-scoped telemetry state. It is built once at
// startup by Setup, passed to the servers that need it and torn down with
// Shutdown.
type Observability struct {
	Dispatcher *telemetry.Dispatcher
	Propagator *tracing.Propagator
	Middleware *tracing.Middleware
	// Metrics is nil when metrics are disabled.
	Metrics *monitoring.Metrics
	// Collector is nil when span export is disabled.
	Collector *export.Collector

	logger *logging.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

type options struct {
	builder  tracing.RootSpanBuilder
	fields   []telemetry.Field
	exporter export.Exporter
	layers   []telemetry.Layer
}

// Option customizes Setup.
type Option func(*options)

// WithRootSpanBuilder replaces the default root span builder.
func WithRootSpanBuilder(b tracing.RootSpanBuilder) Option {
	return func(o *options) { o.builder = b }
}

// WithRootSpanFields declares extra fields on every root span created by
// the default builder.
func WithRootSpanFields(fields ...telemetry.Field) Option {
	return func(o *options) { o.fields = append(o.fields, fields...) }
}

// WithExporter sends finished spans to exp instead of the configured
// output. It only takes effect when export is enabled.
func WithExporter(exp export.Exporter) Option {
	return func(o *options) { o.exporter = exp }
}

// WithLayers registers additional layers after the built-in ones.
func WithLayers(layers ...telemetry.Layer) Option {
	return func(o *options) { o.layers = append(o.layers, layers...) }
}

// Setup validates the tracing configuration and assembles the dispatcher
// with its layers: the structured log sink behind its own event threshold,
// Prometheus metrics, and the batch span collector.
func Setup(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Observability, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	directive, err := telemetry.ParseDirective(cfg.Tracing.Filter)
	if err != nil {
		return nil, fmt.Errorf("parse trace filter: %w", err)
	}
	propagator, err := tracing.NewPropagator(cfg.Tracing.Propagators...)
	if err != nil {
		return nil, fmt.Errorf("configure propagation: %w", err)
	}
	policy, err := tracing.ParseErrorEventPolicy(cfg.Tracing.ErrorEvents)
	if err != nil {
		return nil, fmt.Errorf("configure error events: %w", err)
	}

	obs := &Observability{Propagator: propagator, logger: logger}

	var sinkOpts []logging.LayerOption
	if cfg.Tracing.LogSpans {
		sinkOpts = append(sinkOpts, logging.WithSpanClose())
	}
	layers := []telemetry.Layer{
		telemetry.NewEventFilter(logging.NewLogLayer(logger.Logger, sinkOpts...), cfg.Tracing.SinkLevel),
	}

	if cfg.Metrics.Enabled {
		obs.Metrics = monitoring.NewMetrics(cfg.Metrics.Namespace, nil)
		layers = append(layers, obs.Metrics)
	}

	if cfg.Export.Enabled {
		exporter := o.exporter
		if exporter == nil {
			exporter, err = export.OpenJSONExporter(cfg.Export.Output)
			if err != nil {
				return nil, err
			}
		}
		obs.Collector = export.NewCollector(exporter, logger.Diagnostic("export"), export.Config{
			Service:       cfg.Tracing.Service,
			BufferSize:    cfg.Export.BufferSize,
			BatchSize:     cfg.Export.BatchSize,
			FlushInterval: cfg.Export.FlushInterval,
		})
		layers = append(layers, telemetry.NewEventFilter(obs.Collector, cfg.Export.EventLevel))

		if obs.Metrics != nil {
			collector := obs.Collector
			obs.Metrics.RegisterCounterFunc(cfg.Metrics.Namespace+"_spans_dropped_total",
				"Finished spans dropped because the export buffer was full",
				func() float64 { return float64(collector.Dropped()) })
			obs.Metrics.RegisterCounterFunc(cfg.Metrics.Namespace+"_spans_exported_total",
				"Finished spans accepted by the exporter",
				func() float64 { return float64(collector.Exported()) })
		}
	}

	layers = append(layers, o.layers...)

	obs.Dispatcher = telemetry.NewDispatcher(layers,
		telemetry.WithDirective(directive),
		telemetry.WithLogger(logger.Diagnostic("telemetry")),
	)

	builder := o.builder
	if builder == nil {
		builder = tracing.DefaultRootSpanBuilder{ErrorEvents: policy, Fields: o.fields}
	}
	mwOpts := []tracing.Option{
		tracing.WithRootSpanBuilder(builder),
		tracing.WithPropagator(propagator),
		tracing.WithDiagnosticLogger(logger.Diagnostic("tracing")),
		tracing.WithRequestIDHeader(cfg.Tracing.RequestIDHeader),
	}
	if cfg.Tracing.ResponseHeaders {
		mwOpts = append(mwOpts, tracing.WithResponseTraceHeaders())
	}
	obs.Middleware = tracing.New(obs.Dispatcher, mwOpts...)

	logger.Info("Request tracing initialized",
		zap.String("service", cfg.Tracing.Service),
		zap.Stringer("filter", directive),
		zap.Strings("propagators", propagator.Names()),
		zap.Stringer("sink_level", cfg.Tracing.SinkLevel),
		zap.Stringer("error_events", policy),
		zap.Bool("metrics", obs.Metrics != nil),
		zap.Bool("export", obs.Collector != nil),
	)

	return obs, nil
}

// Logger returns a zap logger whose entries become telemetry events with
// the given target. Pass telemetry.ZapSpan(ctx) as a field to attach the
// entry to the span active in ctx.
func (o *Observability) Logger(target string) *zap.Logger {
	return zap.New(telemetry.NewZapCore(o.Dispatcher, target))
}

// Client returns an outbound HTTP client that propagates trace context.
func (o *Observability) Client(cfg tracing.ClientConfig) *tracing.Client {
	return tracing.NewClient(o.Dispatcher, o.Propagator, cfg)
}

// Shutdown flushes and closes every layer. Only the first call does work.
func (o *Observability) Shutdown(ctx context.Context) error {
	o.shutdownOnce.Do(func() {
		o.shutdownErr = o.Dispatcher.Shutdown(ctx)
		if o.shutdownErr != nil {
			o.logger.Error("Telemetry shutdown failed", zap.Error(o.shutdownErr))
		}
	})
	return o.shutdownErr
}
