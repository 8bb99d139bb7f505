// Package otel publishes trust plane metrics through an OpenTelemetry
// meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per engine counter,
// a labelled counter for admission decisions and one Int64ObservableGauge
// per histogram bucket. A single callback reads
// [trustplane.Engine.MetricsSnapshot] on each collection. Callers own the
// MeterProvider.
package otel
