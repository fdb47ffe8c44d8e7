// Package otel publishes tokenauth engine metrics through OpenTelemetry.
//
// [New] creates one Int64ObservableCounter per engine counter and one
// Int64ObservableGauge per latency bucket, all fed by a single callback that
// snapshots the engine on each collection. The caller owns the MeterProvider.
package otel
