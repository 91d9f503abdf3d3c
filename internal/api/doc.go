// Package api defines wire-format types and converters for the daemon's HTTP
// API. It translates internal task and health models into transport-friendly
// DTOs so the CLI and other consumers never couple to internal types, and it
// provides the HTTP client the CLI uses to reach a running daemon.
//
// DTOs use camelCase JSON tags. Internal enums (taskstate.Status,
// queue.Status, health.Status) are exposed as lowercase strings. Timestamps
// use RFC3339 with milliseconds.
package api
