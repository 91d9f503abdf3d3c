package health

import "time"

// Status is the three-level component condition.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Level maps a status onto a numeric severity for metrics and comparison.
func (s Status) Level() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Worst returns the more severe of two statuses.
func Worst(a, b Status) Status {
	if b.Level() > a.Level() {
		return b
	}
	return a
}

// Record is the outcome of one probe of one component.
type Record struct {
	ComponentID string    `json:"component_id"`
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
	LatencyMS   int64     `json:"latency_ms"`
}

// Summary is the outcome of one full check round.
type Summary struct {
	Aggregate Status
	Records   []Record
}

// Component identifiers. Storage mounts use the mount: prefix so admission
// control can address them by configured mount name.
const (
	ComponentRecordingsMount = "mount:recordings"
	ComponentArchiveMount    = "mount:archive"
	ComponentVODAPI          = "vod_api"
	ComponentSystem          = "system"
)
