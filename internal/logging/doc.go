// Package logging assembles the structured slog loggers used across gavel.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so pipeline code can tag log lines with
// task IDs, stages, and worker names without threading them by hand. A no-op
// logger is provided for tests and wiring code that cannot fail.
package logging
