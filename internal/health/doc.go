// Package health runs periodic probes against storage mounts, the publishing
// API, and local system resources, and serves the results to admission
// control, the admin API, and the metrics exporter.
//
// Each probe yields a three-level status (healthy, degraded, unhealthy) with
// a message. Records persist to the key/value store under health/<component>
// with a freshness-bounded TTL, so a record that outlives its freshness
// window simply disappears and consumers treat the component as unhealthy
// rather than trusting a stale answer.
package health
