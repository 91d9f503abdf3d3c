// Package main hosts the gavel CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into calls
// against the daemon's HTTP API, falling back to the on-disk state store when
// no daemon is running. It centralizes configuration resolution and daemon
// address discovery so subcommands can focus on user experience instead of
// wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
