// Package discovery locates meeting recordings on the watched mount and
// stages a verified copy into the task's private working directory. The
// original recording is never modified; every later stage works on the
// staged copy.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"gavel/internal/config"
	"gavel/internal/fileutil"
	"gavel/internal/logging"
	"gavel/internal/services"
	"gavel/internal/stage"
	"gavel/internal/staging"
	"gavel/internal/taskstate"
)

// sourceSettleWindow guards against picking up a recording the encoder is
// still flushing. Mount-side writers update mtime as they append.
const sourceSettleWindow = time.Minute

// supportedExtensions lists the container formats municipal encoders produce.
var supportedExtensions = map[string]struct{}{
	".mp4":  {},
	".mkv":  {},
	".mov":  {},
	".ts":   {},
	".m2ts": {},
	".mpg":  {},
	".mpeg": {},
	".avi":  {},
	".webm": {},
}

// SupportedSource reports whether the path carries a container extension the
// discover stage accepts. Front doors use it to reject junk before a task is
// created.
func SupportedSource(path string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// FreeSpaceFunc reports the free bytes available at a path.
type FreeSpaceFunc func(path string) (uint64, error)

func statfsFreeSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// Discoverer is the discover stage handler.
type Discoverer struct {
	cfg       *config.Config
	logger    *slog.Logger
	freeSpace FreeSpaceFunc
	settle    time.Duration
}

// NewDiscoverer constructs the discover handler.
func NewDiscoverer(cfg *config.Config, logger *slog.Logger) *Discoverer {
	return NewDiscovererWithProbe(cfg, logger, statfsFreeSpace)
}

// NewDiscovererWithProbe allows injecting the free-space probe (used in tests).
func NewDiscovererWithProbe(cfg *config.Config, logger *slog.Logger, freeSpace FreeSpaceFunc) *Discoverer {
	if logger != nil {
		logger = logger.With(logging.String(logging.FieldComponent, "discovery"))
	}
	return &Discoverer{cfg: cfg, logger: logger, freeSpace: freeSpace, settle: sourceSettleWindow}
}

// Stage identifies the pipeline stage this handler drives.
func (d *Discoverer) Stage() taskstate.Stage {
	return taskstate.StageDiscover
}

// Prepare verifies the task names a recording to stage.
func (d *Discoverer) Prepare(ctx context.Context, record *taskstate.TaskRecord) error {
	_, err := stage.RequireParameter(record, d.Stage(), "source_path")
	return err
}

// Execute resolves the recording on the mount and copies it, with checksum
// verification, into the task working directory.
func (d *Discoverer) Execute(ctx context.Context, record *taskstate.TaskRecord) error {
	logger := logging.WithContext(ctx, d.logger)

	param, err := stage.RequireParameter(record, d.Stage(), "source_path")
	if err != nil {
		return err
	}
	resolved, err := d.resolveSource(param)
	if err != nil {
		return err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return services.Wrap(services.ErrValidation, string(d.Stage()), "locate recording",
				fmt.Sprintf("recording %s does not exist on the mount", resolved), err)
		}
		return services.Wrap(services.ErrTransient, string(d.Stage()), "locate recording",
			fmt.Sprintf("recording %s is unreachable", resolved), err)
	}
	if info.IsDir() {
		return services.Wrap(services.ErrValidation, string(d.Stage()), "locate recording",
			fmt.Sprintf("%s is a directory, not a recording", resolved), nil)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrValidation, string(d.Stage()), "inspect recording",
			fmt.Sprintf("recording %s is empty", resolved), nil)
	}
	if !SupportedSource(resolved) {
		return services.Wrap(services.ErrValidation, string(d.Stage()), "inspect recording",
			fmt.Sprintf("unsupported container %s", filepath.Ext(resolved)), nil)
	}
	if age := time.Since(info.ModTime()); age < d.settle {
		return services.Wrap(services.ErrTransient, string(d.Stage()), "inspect recording",
			fmt.Sprintf("recording modified %s ago and may still be written", age.Round(time.Second)), nil)
	}

	if err := d.checkWorkdirSpace(uint64(info.Size())); err != nil {
		return err
	}

	taskDir, err := staging.EnsureTaskDir(d.cfg.Paths.Workdir, record.TaskID)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, string(d.Stage()), "ensure workdir",
			"failed to create task working directory", err)
	}
	staged := filepath.Join(taskDir, filepath.Base(resolved))
	if err := fileutil.CopyVerified(resolved, staged); err != nil {
		return services.Wrap(services.ErrTransient, string(d.Stage()), "stage recording",
			fmt.Sprintf("verified copy of %s failed", resolved), err)
	}

	logger.Info("recording staged",
		logging.String("origin_path", resolved),
		logging.String("source_path", staged),
		logging.String("size", humanize.IBytes(uint64(info.Size()))),
		logging.String(logging.FieldEventType, "recording_staged"),
	)

	record.RecordProgress("origin_path", resolved)
	record.RecordProgress("source_path", staged)
	return nil
}

// HealthCheck verifies the recordings mount is configured and reachable.
func (d *Discoverer) HealthCheck(ctx context.Context) stage.Health {
	const name = "discovery"
	if d.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	mount := strings.TrimSpace(d.cfg.Mounts.Recordings)
	if mount == "" {
		return stage.Unhealthy(name, "recordings mount not configured")
	}
	info, err := os.Stat(mount)
	if err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("recordings mount %s unreachable: %v", mount, err))
	}
	if !info.IsDir() {
		return stage.Unhealthy(name, fmt.Sprintf("recordings mount %s is not a directory", mount))
	}
	if err := unix.Access(mount, unix.R_OK); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("recordings mount %s not readable: %v", mount, err))
	}
	return stage.Healthy(name)
}

// resolveSource turns the task parameter into an absolute path. Relative
// paths resolve against the recordings mount and must stay inside it.
func (d *Discoverer) resolveSource(param string) (string, error) {
	param = strings.TrimSpace(param)
	if filepath.IsAbs(param) {
		return filepath.Clean(param), nil
	}

	mount := strings.TrimSpace(d.cfg.Mounts.Recordings)
	if mount == "" {
		return "", services.Wrap(services.ErrConfiguration, string(d.Stage()), "resolve recording",
			"relative source_path requires mounts.recordings to be configured", nil)
	}
	resolved := filepath.Clean(filepath.Join(mount, param))
	rel, err := filepath.Rel(mount, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", services.Wrap(services.ErrValidation, string(d.Stage()), "resolve recording",
			fmt.Sprintf("source_path %q escapes the recordings mount", param), err)
	}
	return resolved, nil
}

// checkWorkdirSpace refuses to stage a recording the workdir cannot hold.
// The margin keeps room for the captioned output, which lands next to it.
func (d *Discoverer) checkWorkdirSpace(sourceBytes uint64) error {
	if d.freeSpace == nil {
		return nil
	}
	free, err := d.freeSpace(d.cfg.Paths.Workdir)
	if err != nil {
		// The workdir not existing yet is not a space problem.
		if os.IsNotExist(err) {
			return nil
		}
		return services.Wrap(services.ErrTransient, string(d.Stage()), "check space",
			fmt.Sprintf("cannot determine free space under %s", d.cfg.Paths.Workdir), err)
	}
	margin := uint64(d.cfg.Mounts.MinFreeGiB) * 1 << 30
	needed := sourceBytes*2 + margin
	if free < needed {
		return services.Wrap(services.ErrTransient, string(d.Stage()), "check space",
			fmt.Sprintf("workdir has %s free, staging needs %s", humanize.IBytes(free), humanize.IBytes(needed)), nil)
	}
	return nil
}
