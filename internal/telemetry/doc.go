/*
Package telemetry provides the span and event model behind request tracing.

# Overview

A Dispatcher owns an immutable list of Layers (log sinks, exporters, metrics)
and a global Directive. Spans are created with StartSpan, carried through a
request in context.Context, and closed when the last handle is released.
Events are emitted inside whatever span is active.

	d := telemetry.NewDispatcher(
		[]telemetry.Layer{
			telemetry.NewEventFilter(logLayer, telemetry.InfoLevel),
			metricsLayer,
		},
		telemetry.WithDirective(directive),
	)
	defer d.Shutdown(ctx)

	ctx, span := d.StartSpan(ctx, "load user",
		telemetry.WithFields(telemetry.String("user.id", id), telemetry.Declare("user.plan")),
	)
	defer span.Release()
	span.Record("user.plan", plan)

# Fields

Span fields are declared when the span is created. Record fills a declared
field and rejects any other key with ErrUndeclaredField.

# Filtering

The Directive decides what is enabled globally. An EventFilter wrapped around
a layer applies an additional, independent threshold to that layer's events
only. Both must pass.

# Zap bridge

NewZapCore turns a zap.Logger into an event source so libraries that only log
take part in the same filtering as spans.
*/
package telemetry
