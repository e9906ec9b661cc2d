// Package logging builds the process's zap logger and the log sink for
// request telemetry.
//
// Production output is JSON keyed like exported spans (time, level,
// target, message). Development output is a colored console. Levels use
// the span scale, so LOG_LEVEL=trace writes one step below zap's debug.
//
// The same logger backs two roles. A Diagnostic logger reports failures of
// the telemetry pipeline itself. A LogLayer is a telemetry sink that writes
// events and closed spans with their trace identity attached; wrap it in a
// telemetry.EventFilter to give the sink its own event threshold.
//
//	logger, err := logging.FromConfig(cfg.Logging, "reqtrace")
//	sink := telemetry.NewEventFilter(logging.NewLogLayer(logger.Logger, logging.WithSpanClose()), telemetry.InfoLevel)
package logging
