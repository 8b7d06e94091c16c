// Package observability provides extensions that record system-wide
// lifecycle signals. MetricsExtension counts task and instance events
// via OpenTelemetry; LoggingExtension writes structured slog records
// for the same events.
//
// For per-execution tracing and latency histograms, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability
