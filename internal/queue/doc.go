// Package queue is the SQLite-backed task broker. It hands each queued task
// to at most one worker at a time via leases and supports delayed requeue for
// backoff.
//
// The broker is transient storage for dispatch only: durable task state lives
// in the state store, keyed by task id. Rows are deleted once a worker
// finishes with a task, whatever the outcome. A task whose lease expires
// without renewal returns to the queue on the next reclaim pass.
//
// Queued work is ordered by priority (lower value first), then enqueue time.
// Schema changes bump the version in schema.go; mismatched databases are
// refused rather than migrated.
package queue
