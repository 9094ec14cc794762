// Package otel bridges the engine's internal counter table to OpenTelemetry
// observable instruments. The bridge is pull-based: a single registered
// callback snapshots the table whenever the meter's reader collects.
package otel
