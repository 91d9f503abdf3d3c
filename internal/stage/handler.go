// Package stage defines the contract between the pipeline and the per-stage
// handlers.
package stage

import (
	"context"

	"gavel/internal/taskstate"
)

// Handler is one pipeline stage. Prepare runs before the record is
// persisted as running and should stay cheap: derive paths, validate
// inputs. Execute does the work and records progress on the record; the
// pipeline persists after both calls.
type Handler interface {
	Stage() taskstate.Stage
	Prepare(context.Context, *taskstate.TaskRecord) error
	Execute(context.Context, *taskstate.TaskRecord) error
	HealthCheck(context.Context) Health
}

// Health summarizes the readiness of a pipeline stage.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
