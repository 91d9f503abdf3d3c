// Package taskstate defines the task record model and the durable,
// TTL-bounded facade over the key/value store that holds records and
// priority entries.
//
// Records are written last-writer-wins; the pipeline serializes writes per
// task by construction (one worker owns a task at a time), so no cross-task
// locking exists here. TTLs are advisory cleanup, not correctness: the
// pipeline refreshes a record's TTL on every stage transition, and expiry of
// a record for a task that is still queued only costs the carried progress.
package taskstate
