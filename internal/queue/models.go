package queue

import (
	"strings"
	"time"
)

// Status is the broker-side dispatch state of a task. It is intentionally
// narrow: lifecycle outcomes live on the task record, not here.
type Status string

const (
	// StatusQueued means the task is waiting for a worker. A queued task
	// whose available_at lies in the future is delayed (backoff).
	StatusQueued Status = "queued"
	// StatusLeased means a worker holds the task under a lease.
	StatusLeased Status = "leased"
)

var statusSet = map[Status]struct{}{
	StatusQueued: {},
	StatusLeased: {},
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Task is a broker row: one dispatchable unit keyed by the durable task id.
type Task struct {
	ID             int64
	TaskID         string
	Kind           string
	Payload        string
	Priority       int
	Status         Status
	AvailableAt    time.Time
	LeaseExpiresAt *time.Time
	WorkerID       string
	Attempts       int
	EnqueuedAt     time.Time
	UpdatedAt      time.Time
}

// Delayed reports whether a queued task is still waiting out a requeue delay.
func (t Task) Delayed(now time.Time) bool {
	return t.Status == StatusQueued && t.AvailableAt.After(now)
}

// LeaseExpired reports whether a leased task's lease has lapsed.
func (t Task) LeaseExpired(now time.Time) bool {
	return t.Status == StatusLeased && t.LeaseExpiresAt != nil && t.LeaseExpiresAt.Before(now)
}

// Summary aggregates broker counts for diagnostics.
type Summary struct {
	Total   int
	Ready   int
	Delayed int
	Leased  int
}
