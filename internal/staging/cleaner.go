package staging

import (
	"context"
	"log/slog"
	"strings"

	"gavel/internal/config"
	"gavel/internal/logging"
	"gavel/internal/services"
	"gavel/internal/stage"
	"gavel/internal/taskstate"
)

// Cleaner is the final pipeline stage. It tears down the task's private
// working directory; archived and published artifacts live outside the
// workdir and are never touched here. Cancelled tasks run the same stage to
// drop their partial artifacts.
type Cleaner struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewCleaner builds the cleanup stage handler.
func NewCleaner(cfg *config.Config, logger *slog.Logger) *Cleaner {
	return &Cleaner{
		cfg:    cfg,
		logger: logger.With(logging.String(logging.FieldComponent, "cleanup")),
	}
}

// Stage identifies the pipeline stage this handler owns.
func (c *Cleaner) Stage() taskstate.Stage {
	return taskstate.StageCleanup
}

// Prepare is a no-op; removing a directory needs no preconditions.
func (c *Cleaner) Prepare(_ context.Context, _ *taskstate.TaskRecord) error {
	return nil
}

// Execute removes the task's working directory. A directory that is already
// gone counts as success.
func (c *Cleaner) Execute(_ context.Context, record *taskstate.TaskRecord) error {
	dir := TaskDir(c.cfg.Paths.Workdir, record.TaskID)
	if err := RemoveTaskDir(c.cfg.Paths.Workdir, record.TaskID); err != nil {
		return services.Wrap(services.ErrTransient, string(taskstate.StageCleanup), "remove_workdir",
			"remove task working directory", err)
	}
	c.logger.Info("task workdir removed",
		logging.String(logging.FieldTaskID, record.TaskID),
		logging.String("path", dir),
		logging.String(logging.FieldEventType, "workdir_removed"),
	)
	return nil
}

// HealthCheck verifies the workdir is configured.
func (c *Cleaner) HealthCheck(_ context.Context) stage.Health {
	const name = "cleanup"
	if strings.TrimSpace(c.cfg.Paths.Workdir) == "" {
		return stage.Unhealthy(name, "paths.workdir is not configured")
	}
	return stage.Healthy(name)
}
