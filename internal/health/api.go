package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"gavel/internal/services"
)

// StatusPinger issues a lightweight authenticated request against the
// publishing platform.
type StatusPinger interface {
	Ping(ctx context.Context) error
}

// APIProbe checks the publishing API through its status endpoint. Timeouts
// and auth failures are unhealthy; a slow success is degraded.
type APIProbe struct {
	component        string
	pinger           StatusPinger
	latencyThreshold time.Duration
}

// NewAPIProbe builds a probe over the platform client's status endpoint.
func NewAPIProbe(component string, pinger StatusPinger, latencyThreshold time.Duration) *APIProbe {
	return &APIProbe{
		component:        component,
		pinger:           pinger,
		latencyThreshold: latencyThreshold,
	}
}

// Component returns the probe's component id.
func (p *APIProbe) Component() string {
	return p.component
}

// Check runs the probe.
func (p *APIProbe) Check(ctx context.Context) (Status, string) {
	start := time.Now()
	err := p.pinger.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		switch {
		case errors.Is(err, services.ErrAuth):
			return StatusUnhealthy, "authentication rejected; check vod.api_key"
		case errors.Is(err, context.DeadlineExceeded):
			return StatusUnhealthy, fmt.Sprintf("status request timed out after %s", latency.Round(time.Millisecond))
		default:
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return StatusUnhealthy, fmt.Sprintf("status request timed out after %s", latency.Round(time.Millisecond))
			}
			return StatusUnhealthy, fmt.Sprintf("status request failed: %v", err)
		}
	}

	if p.latencyThreshold > 0 && latency > p.latencyThreshold {
		return StatusDegraded, fmt.Sprintf("slow response: %s (threshold %s)", latency.Round(time.Millisecond), p.latencyThreshold)
	}
	return StatusHealthy, fmt.Sprintf("responded in %s", latency.Round(time.Millisecond))
}
