// Package infrastructure provides cross-cutting runtime services:
// structured logging, run-scoped context propagation, and OpenTelemetry
// metrics and tracing.
//
// Logging is JSON-only with dual output (stdout plus a log file). Every
// log record carries the run_id injected from context, which ties a
// line in the log back to the run that produced the output artifacts.
// Metrics accumulate in a local Prometheus registry and are flushed to a
// textfile at shutdown; a batch run has no scrape endpoint.
package infrastructure
