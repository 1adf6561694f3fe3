// Package health tracks per-stream metrics and aggregates them into
// point-in-time snapshots.
//
// Collector is written by the stream manager at admission, per chunk and at
// terminal transitions; Snapshot only reads. Snapshots can be exported as
// Prometheus gauges (PrometheusCollector) or pushed on an interval to a
// Telemetry consumer (Reporter).
package health
