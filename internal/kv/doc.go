// Package kv provides the SQLite-backed key/value store with per-entry TTLs
// that holds task records, progress, priorities, health results, and circuit
// state. Expired entries behave as absent on read and are physically removed
// by PurgeExpired, which the daemon runs on a timer.
package kv
