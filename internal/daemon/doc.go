// Package daemon coordinates the long-running gavel process.
//
// It wires configuration, the state stores, the pipeline orchestrator, the
// health manager, and the retention sweeper into a single lifecycle with
// flock-based locking to prevent multiple instances, and serves the HTTP
// admin API the CLI talks to.
//
// Keep orchestration logic here: pipeline stages and policy live in their
// respective packages while the daemon focuses on startup, shutdown, and
// request routing.
package daemon
