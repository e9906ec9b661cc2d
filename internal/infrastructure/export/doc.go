// Package export turns closed spans into FinishedSpan snapshots and ships
// them in batches to an Exporter. The Collector is a telemetry layer; the
// JSON exporter writes newline-delimited JSON for collection by a log
// shipper.
package export
