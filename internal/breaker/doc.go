// Package breaker guards calls to an external dependency with a circuit
// breaker. Failures inside a sliding window trip the circuit; while open,
// calls short-circuit without touching the dependency. After a cool-down one
// probe call is let through, and its outcome decides between closing the
// circuit and restarting the cool-down.
//
// State persists to the key/value store under circuit/<name> so it survives
// daemon restarts and stays visible to the CLI. Persistence is best-effort:
// a store outage degrades the breaker to in-memory operation rather than
// blocking calls.
package breaker
