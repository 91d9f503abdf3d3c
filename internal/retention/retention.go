// Package retention reclaims terminated task state and the working-directory
// artifacts it references. Windows are kind-scoped: scratch work ages out
// quickly while transcription and VOD pipeline records stay queryable long
// enough to diagnose a failed run.
package retention

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"gavel/internal/config"
	"gavel/internal/kv"
	"gavel/internal/logging"
	"gavel/internal/metrics"
	"gavel/internal/queue"
	"gavel/internal/staging"
	"gavel/internal/taskstate"
)

// ActiveFunc reports the task ids currently claimed by pipeline workers.
type ActiveFunc func() map[string]struct{}

// Summary counts what one sweep reclaimed.
type Summary struct {
	RecordsRemoved int
	FilesRemoved   int
	Errors         int
}

// Sweeper removes terminal task records past their retention window together
// with the artifacts their progress references. Orphaned task directories
// (left behind when a record expired by TTL) and expired state entries are
// folded into the same pass.
type Sweeper struct {
	cfg    *config.Config
	logger *slog.Logger
	tasks  *taskstate.Store
	broker *queue.Store
	kv     *kv.Store
	active ActiveFunc
}

// NewSweeper builds a sweeper. active may be nil when no pipeline runs in
// this process; broker and kvStore may be nil in reduced setups.
func NewSweeper(cfg *config.Config, tasks *taskstate.Store, broker *queue.Store, kvStore *kv.Store, logger *slog.Logger, active ActiveFunc) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		cfg:    cfg,
		logger: logger.With(logging.String(logging.FieldComponent, "retention")),
		tasks:  tasks,
		broker: broker,
		kv:     kvStore,
		active: active,
	}
}

// Run sweeps until ctx is done: once immediately, then on a jittered
// interval so sweeps do not line up with the health prober across restarts.
func (s *Sweeper) Run(ctx context.Context) error {
	s.Sweep(ctx)

	interval := time.Duration(s.cfg.Retention.SweepInterval) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: interval / 10})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and reports what it reclaimed. A failure on one task
// is counted and logged but never stops the rest of the pass.
func (s *Sweeper) Sweep(ctx context.Context) Summary {
	summary := Summary{}

	records, err := s.tasks.ListTasks(ctx)
	if err != nil {
		summary.Errors++
		metrics.IncRetentionError()
		s.logger.Warn("retention sweep could not list task records",
			logging.Error(err),
			logging.String(logging.FieldEventType, "retention_sweep_failed"),
		)
		return summary
	}

	// Directories for anything in this set survive the orphan sweep no
	// matter how old they look.
	protected := make(map[string]struct{})
	for taskID := range s.activeClaims() {
		protected[taskID] = struct{}{}
	}

	now := time.Now().UTC()
	removedByKind := make(map[taskstate.Kind]int)

	for _, record := range records {
		if ctx.Err() != nil {
			return summary
		}
		// Live work is untouchable regardless of age.
		if !record.Status.Terminal() {
			protected[record.TaskID] = struct{}{}
			continue
		}
		if _, claimed := protected[record.TaskID]; claimed {
			continue
		}
		window := s.window(record.Kind)
		age := now.Sub(record.UpdatedAt)
		if age <= window {
			protected[record.TaskID] = struct{}{}
			continue
		}

		files, errs, removed := s.sweepTask(ctx, record)
		summary.FilesRemoved += files
		summary.Errors += errs
		if !removed {
			protected[record.TaskID] = struct{}{}
			continue
		}
		summary.RecordsRemoved++
		removedByKind[record.Kind]++
		s.logger.Info("terminated task reclaimed",
			logging.String(logging.FieldTaskID, record.TaskID),
			logging.String("kind", string(record.Kind)),
			logging.String("status", string(record.Status)),
			logging.Duration("age", age),
			logging.Int("files_removed", files),
			logging.String(logging.FieldEventType, "retention_task_removed"),
		)
	}

	summary.Errors += s.sweepOrphans(ctx, protected)
	summary.Errors += s.purgeExpired(ctx)

	for kind, count := range removedByKind {
		metrics.AddRetentionTasksRemoved(string(kind), count)
	}
	if summary.FilesRemoved > 0 {
		metrics.AddRetentionFilesRemoved(summary.FilesRemoved)
	}

	s.logger.Info("retention sweep complete",
		logging.Int("records_removed", summary.RecordsRemoved),
		logging.Int("files_removed", summary.FilesRemoved),
		logging.Int("errors", summary.Errors),
		logging.String(logging.FieldEventType, "retention_sweep"),
	)
	return summary
}

// sweepTask removes the artifacts a record's progress references inside its
// working directory, then the directory, then the record and any leftover
// broker row. The record survives when its directory could not be removed so
// the next pass retries.
func (s *Sweeper) sweepTask(ctx context.Context, record *taskstate.TaskRecord) (files, errs int, removed bool) {
	taskDir := staging.TaskDir(s.cfg.Paths.Workdir, record.TaskID)
	prefix := taskDir + string(os.PathSeparator)

	for _, value := range record.Progress {
		// Mount-side paths and non-path outputs are not ours to touch.
		if !strings.HasPrefix(value, prefix) {
			continue
		}
		if err := os.Remove(value); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			errs++
			metrics.IncRetentionError()
			s.logger.Warn("failed to remove task artifact",
				logging.String(logging.FieldTaskID, record.TaskID),
				logging.String("path", value),
				logging.Error(err),
				logging.String(logging.FieldEventType, "retention_artifact_failed"),
			)
			continue
		}
		files++
	}

	if err := staging.RemoveTaskDir(s.cfg.Paths.Workdir, record.TaskID); err != nil {
		errs++
		metrics.IncRetentionError()
		s.logger.Warn("failed to remove task working directory",
			logging.String(logging.FieldTaskID, record.TaskID),
			logging.String("path", taskDir),
			logging.Error(err),
			logging.String(logging.FieldEventType, "retention_workdir_failed"),
			logging.String(logging.FieldErrorHint, "check workdir permissions"),
			logging.String(logging.FieldImpact, "disk space not reclaimed"),
		)
		return files, errs, false
	}

	if err := s.tasks.DeleteTask(ctx, record.TaskID); err != nil {
		errs++
		metrics.IncRetentionError()
		s.logger.Warn("failed to remove task record",
			logging.String(logging.FieldTaskID, record.TaskID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "retention_record_failed"),
		)
		return files, errs, false
	}

	if s.broker != nil {
		if _, err := s.broker.Remove(ctx, record.TaskID); err != nil {
			errs++
			metrics.IncRetentionError()
			s.logger.Warn("failed to remove broker row",
				logging.String(logging.FieldTaskID, record.TaskID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "retention_broker_failed"),
			)
		}
	}
	return files, errs, true
}

// sweepOrphans removes task directories whose records are already gone. A
// directory older than the longest window cannot belong to anything the
// policy still protects.
func (s *Sweeper) sweepOrphans(ctx context.Context, protected map[string]struct{}) int {
	result := staging.CleanStale(ctx, s.cfg.Paths.Workdir, s.longestWindow(), protected, s.logger)
	for range result.Errors {
		metrics.IncRetentionError()
	}
	return len(result.Errors)
}

// purgeExpired drops state entries whose TTL lapsed. Expiry is advisory;
// this keeps the store compact between reads.
func (s *Sweeper) purgeExpired(ctx context.Context) int {
	if s.kv == nil {
		return 0
	}
	purged, err := s.kv.PurgeExpired(ctx)
	if err != nil {
		metrics.IncRetentionError()
		s.logger.Warn("failed to purge expired state entries",
			logging.Error(err),
			logging.String(logging.FieldEventType, "retention_purge_failed"),
		)
		return 1
	}
	if purged > 0 {
		s.logger.Debug("purged expired state entries", logging.Int64("purged", purged))
	}
	return 0
}

// window returns the retention window for a kind. Transcription and VOD
// pipeline evidence is kept longer than scratch work.
func (s *Sweeper) window(kind taskstate.Kind) time.Duration {
	hours := s.cfg.Retention.TaskHours
	switch kind {
	case taskstate.KindTranscription:
		hours = s.cfg.Retention.TranscriptionHours
	case taskstate.KindVODPipeline:
		hours = s.cfg.Retention.VODHours
	}
	return time.Duration(hours) * time.Hour
}

func (s *Sweeper) longestWindow() time.Duration {
	longest := s.window(taskstate.KindOther)
	for _, kind := range []taskstate.Kind{taskstate.KindTranscription, taskstate.KindVODPipeline} {
		if w := s.window(kind); w > longest {
			longest = w
		}
	}
	return longest
}

func (s *Sweeper) activeClaims() map[string]struct{} {
	if s.active == nil {
		return nil
	}
	return s.active()
}
