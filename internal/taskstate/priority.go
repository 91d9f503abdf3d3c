package taskstate

// DefaultPriority is the ordering weight assumed for tasks without a stored
// priority entry.
const DefaultPriority = 50

const (
	// MinPriority is the front of the queue: lower values dequeue first.
	MinPriority = 0
	// MaxPriority is the back of the queue.
	MaxPriority = 100
)

// ClampPriority maps a requested queue position into the accepted priority
// range. Out-of-range requests clamp to the nearest bound rather than fail,
// so an operator asking for position -1 still lands at the front.
func ClampPriority(position int) int {
	if position < MinPriority {
		return MinPriority
	}
	if position > MaxPriority {
		return MaxPriority
	}
	return position
}
