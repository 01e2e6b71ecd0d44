// Package observability provides the OpenTelemetry instruments recorded by
// the coordinator components: router outcomes, reservation conflicts,
// missing workers, reaped records, and leadership changes.
//
// Instruments come from the global MeterProvider by default; with no
// provider configured they are no-ops. A nil *Metrics is valid and records
// nothing.
//
// MetricsExtension counts lifecycle events through go-utils counters and is
// registered as an ext.Extension on coordinators and workers.
package observability
