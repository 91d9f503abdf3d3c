package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// StorageProbe checks one configured mount: presence, a small write-then-
// delete probe, and free space against the configured floor.
type StorageProbe struct {
	component string
	path      string
	minFree   uint64
}

// NewStorageProbe builds a probe for a mount path. minFreeGiB of zero
// disables the free-space floor.
func NewStorageProbe(component, path string, minFreeGiB int) *StorageProbe {
	return &StorageProbe{
		component: component,
		path:      path,
		minFree:   uint64(minFreeGiB) * humanize.GiByte,
	}
}

// Component returns the probe's component id.
func (p *StorageProbe) Component() string {
	return p.component
}

// Path returns the mount path the probe watches.
func (p *StorageProbe) Path() string {
	return p.path
}

// Check runs the probe. Not mounted (or otherwise unreachable) is
// unhealthy; mounted but unwritable is degraded; low free space is degraded.
func (p *StorageProbe) Check(ctx context.Context) (Status, string) {
	info, err := os.Stat(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return StatusUnhealthy, fmt.Sprintf("%s is not mounted", p.path)
		}
		return StatusUnhealthy, fmt.Sprintf("%s is not reachable: %v", p.path, err)
	}
	if !info.IsDir() {
		return StatusUnhealthy, fmt.Sprintf("%s is not a directory", p.path)
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(p.path, &stat); err != nil {
		return StatusUnhealthy, fmt.Sprintf("statfs %s: %v", p.path, err)
	}
	free := stat.Bavail * uint64(stat.Bsize)

	if err := p.writeProbe(); err != nil {
		return StatusDegraded, fmt.Sprintf("%s mounted but not writable: %v (%s free)", p.path, err, humanize.IBytes(free))
	}

	if p.minFree > 0 && free < p.minFree {
		return StatusDegraded, fmt.Sprintf("%s low on space: %s free, floor %s", p.path, humanize.IBytes(free), humanize.IBytes(p.minFree))
	}
	return StatusHealthy, fmt.Sprintf("%s free", humanize.IBytes(free))
}

func (p *StorageProbe) writeProbe() error {
	probePath := filepath.Join(p.path, ".gavel-health-"+uuid.NewString())
	if err := os.WriteFile(probePath, []byte("probe"), 0o644); err != nil {
		return err
	}
	return os.Remove(probePath)
}
