package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// ResourceProbe samples load average, available memory, workdir disk usage,
// and pipeline worker presence.
type ResourceProbe struct {
	component       string
	maxLoad1        float64
	minMemory       uint64
	workdir         string
	expectedWorkers int
	liveWorkers     func() int
}

// workdirUsageCutoff is the used-fraction of the workdir filesystem above
// which the probe reports degraded.
const workdirUsageCutoff = 0.95

// NewResourceProbe builds the system resources probe. liveWorkers reports
// the worker pool's size whether the workers are busy or idle; it may be nil
// when no pipeline is attached (CLI-triggered checks).
func NewResourceProbe(maxLoad1 float64, minMemoryMiB int, workdir string, expectedWorkers int, liveWorkers func() int) *ResourceProbe {
	return &ResourceProbe{
		component:       ComponentSystem,
		maxLoad1:        maxLoad1,
		minMemory:       uint64(minMemoryMiB) * humanize.MiByte,
		workdir:         workdir,
		expectedWorkers: expectedWorkers,
		liveWorkers:     liveWorkers,
	}
}

// Component returns the probe's component id.
func (p *ResourceProbe) Component() string {
	return p.component
}

// Check runs the probe. Worker absence is unhealthy (the pipeline is dead);
// resource pressure is degraded until it crosses double the cutoff.
func (p *ResourceProbe) Check(ctx context.Context) (Status, string) {
	status := StatusHealthy
	var issues []string

	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return StatusUnhealthy, fmt.Sprintf("sysinfo: %v", err)
	}

	load1 := float64(info.Loads[0]) / 65536.0
	if p.maxLoad1 > 0 && load1 > p.maxLoad1 {
		severity := StatusDegraded
		if load1 > 2*p.maxLoad1 {
			severity = StatusUnhealthy
		}
		status = Worst(status, severity)
		issues = append(issues, fmt.Sprintf("load %.2f above cutoff %.2f", load1, p.maxLoad1))
	}

	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	available := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	if p.minMemory > 0 && available < p.minMemory {
		severity := StatusDegraded
		if available < p.minMemory/2 {
			severity = StatusUnhealthy
		}
		status = Worst(status, severity)
		issues = append(issues, fmt.Sprintf("memory %s below floor %s", humanize.IBytes(available), humanize.IBytes(p.minMemory)))
	}

	if p.workdir != "" {
		var stat unix.Statfs_t
		if err := unix.Statfs(p.workdir, &stat); err != nil {
			status = Worst(status, StatusDegraded)
			issues = append(issues, fmt.Sprintf("statfs %s: %v", p.workdir, err))
		} else if stat.Blocks > 0 {
			used := 1.0 - float64(stat.Bavail)/float64(stat.Blocks)
			if used > workdirUsageCutoff {
				status = Worst(status, StatusDegraded)
				issues = append(issues, fmt.Sprintf("workdir %.0f%% full", used*100))
			}
		}
	}

	if p.expectedWorkers > 0 && p.liveWorkers != nil {
		live := p.liveWorkers()
		if live == 0 {
			status = Worst(status, StatusUnhealthy)
			issues = append(issues, fmt.Sprintf("no pipeline workers alive (expected %d)", p.expectedWorkers))
		} else if live < p.expectedWorkers {
			status = Worst(status, StatusDegraded)
			issues = append(issues, fmt.Sprintf("%d of %d pipeline workers alive", live, p.expectedWorkers))
		}
	}

	if len(issues) == 0 {
		return StatusHealthy, fmt.Sprintf("load %.2f, %s memory available", load1, humanize.IBytes(available))
	}
	return status, strings.Join(issues, "; ")
}
