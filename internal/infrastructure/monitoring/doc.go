/*
Package monitoring derives Prometheus metrics from telemetry.

# Overview

Metrics is a telemetry layer. It counts request root spans by protocol,
method, route and final status, observes their duration, tracks how many
are in flight, and counts every closed span and every event by level.
Because request metrics are taken when the root span closes, they agree
with what the span itself reports.

# Usage

	metrics := monitoring.NewMetrics("reqtrace", nil)
	d := telemetry.NewDispatcher([]telemetry.Layer{logLayer, metrics})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

Each Metrics owns its registry unless one is passed in.
*/
package monitoring
