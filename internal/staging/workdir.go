// Package staging manages per-task working directories under the configured
// workdir. Every pipeline invocation gets a private directory keyed by task
// id; the cleanup stage and the retention sweep tear them down.
package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gavel/internal/logging"
)

const taskDirParent = "tasks"

// TaskDir returns the private working directory for a task.
func TaskDir(workdir, taskID string) string {
	return filepath.Join(workdir, taskDirParent, taskID)
}

// EnsureTaskDir creates the task's working directory if needed.
func EnsureTaskDir(workdir, taskID string) (string, error) {
	dir := TaskDir(workdir, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// RemoveTaskDir deletes the task's working directory and everything in it.
func RemoveTaskDir(workdir, taskID string) error {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil
	}
	return os.RemoveAll(TaskDir(workdir, taskID))
}

// Result contains the outcome of a stale-directory sweep.
type Result struct {
	Removed []string
	Errors  []SweepError
}

// SweepError pairs a directory path with its removal error.
type SweepError struct {
	Path  string
	Error error
}

// CleanStale removes task directories older than maxAge whose task id is not
// in the active set. Directories for live tasks are never touched, no matter
// how old: a transcription can legitimately run for hours.
func CleanStale(ctx context.Context, workdir string, maxAge time.Duration, active map[string]struct{}, logger *slog.Logger) Result {
	result := Result{}

	workdir = strings.TrimSpace(workdir)
	if workdir == "" {
		return result
	}
	parent := filepath.Join(workdir, taskDirParent)

	entries, err := os.ReadDir(parent)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, SweepError{Path: parent, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		if !entry.IsDir() {
			continue
		}
		if _, live := active[entry.Name()]; live {
			continue
		}

		dirPath := filepath.Join(parent, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, SweepError{Path: dirPath, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, SweepError{Path: dirPath, Error: err})
			if logger != nil {
				logger.Warn("failed to remove stale task directory",
					logging.String("path", dirPath),
					logging.Error(err),
					logging.String(logging.FieldEventType, "workdir_sweep_failed"),
					logging.String(logging.FieldErrorHint, "check workdir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		if logger != nil {
			logger.Info("removed stale task directory",
				logging.String("path", dirPath),
				logging.Duration("age", time.Since(info.ModTime())),
				logging.String(logging.FieldEventType, "workdir_sweep"),
			)
		}
	}

	return result
}

// DirInfo contains metadata about one task working directory.
type DirInfo struct {
	TaskID  string
	Path    string
	ModTime time.Time
	Size    int64
}

// ListDirectories returns all task working directories with their metadata,
// used by the status surfaces to report workdir usage.
func ListDirectories(workdir string) ([]DirInfo, error) {
	workdir = strings.TrimSpace(workdir)
	if workdir == "" {
		return nil, nil
	}
	parent := filepath.Join(workdir, taskDirParent)

	entries, err := os.ReadDir(parent)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirPath := filepath.Join(parent, entry.Name())
		size, _ := dirSize(dirPath)
		dirs = append(dirs, DirInfo{
			TaskID:  entry.Name(),
			Path:    dirPath,
			ModTime: info.ModTime(),
			Size:    size,
		})
	}
	return dirs, nil
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
