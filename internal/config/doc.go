// Package config loads, validates, and normalizes gavel configuration.
//
// Configuration is TOML with one section per subsystem. Load applies
// defaults, expands paths, pulls secrets from the environment where unset,
// and validates the result before anything else starts.
package config
