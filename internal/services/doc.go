// Package services defines shared utilities consumed by the pipeline stage
// handlers and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, stage names, worker names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into the persisted failure reasons (storage_unavailable,
//     validation_failed, transient_io, auth_failed, unknown).
//   - Details extraction so log lines and API responses expose operation,
//     reason, and operator hint without string parsing.
//
// Use these helpers when wiring new stage logic so operational behaviour
// stays uniform across the pipeline.
package services
