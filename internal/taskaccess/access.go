// Package taskaccess answers task and health queries from a running daemon
// when one responds, and straight from the on-disk stores when none does.
// The CLI is the only consumer; the daemon always goes through its own
// collaborators.
package taskaccess

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gavel/internal/api"
	"gavel/internal/config"
	"gavel/internal/deps"
	"gavel/internal/health"
	"gavel/internal/kv"
	"gavel/internal/logging"
	"gavel/internal/pipeline"
	"gavel/internal/queue"
	"gavel/internal/services/vod"
	"gavel/internal/taskstate"
)

// Access provides task operations regardless of daemon or direct store
// backing.
type Access interface {
	Status(ctx context.Context) (*api.DaemonStatus, error)
	Health(ctx context.Context) (*api.HealthReport, error)
	List(ctx context.Context, statuses ...string) ([]api.TaskView, error)
	Describe(ctx context.Context, taskID string) (*api.TaskView, error)
	Enqueue(ctx context.Context, kind string, parameters map[string]string) (*api.TaskView, error)
	Resume(ctx context.Context, taskID string) (*api.TaskView, error)
	Cancel(ctx context.Context, taskID string) (*api.TaskView, error)
	Reorder(ctx context.Context, taskID string, position int) (int, error)
}

type daemonAccess struct {
	client *api.Client
}

func (a *daemonAccess) Status(ctx context.Context) (*api.DaemonStatus, error) {
	return a.client.Status(ctx)
}

func (a *daemonAccess) Health(ctx context.Context) (*api.HealthReport, error) {
	return a.client.Health(ctx)
}

func (a *daemonAccess) List(ctx context.Context, statuses ...string) ([]api.TaskView, error) {
	return a.client.ListTasks(ctx, statuses...)
}

func (a *daemonAccess) Describe(ctx context.Context, taskID string) (*api.TaskView, error) {
	return a.client.DescribeTask(ctx, taskID)
}

func (a *daemonAccess) Enqueue(ctx context.Context, kind string, parameters map[string]string) (*api.TaskView, error) {
	return a.client.Enqueue(ctx, kind, parameters)
}

func (a *daemonAccess) Resume(ctx context.Context, taskID string) (*api.TaskView, error) {
	return a.client.Resume(ctx, taskID)
}

func (a *daemonAccess) Cancel(ctx context.Context, taskID string) (*api.TaskView, error) {
	return a.client.Cancel(ctx, taskID)
}

func (a *daemonAccess) Reorder(ctx context.Context, taskID string, position int) (int, error) {
	return a.client.Reorder(ctx, taskID, position)
}

// directAccess operates on the stores the daemon would use. Queue operations
// go through the same orchestrator methods the daemon calls, so validation
// and rollback behavior is identical; only the worker pool is absent.
type directAccess struct {
	cfg    *config.Config
	kv     *kv.Store
	broker *queue.Store
	svc    *api.TaskService
	ops    *pipeline.Orchestrator
}

func newDirectAccess(cfg *config.Config) (*directAccess, func() error, error) {
	kvStore, err := kv.Open(cfg.Paths.StateDB)
	if err != nil {
		return nil, nil, fmt.Errorf("open state database: %w", err)
	}
	broker, err := queue.Open(cfg)
	if err != nil {
		kvStore.Close()
		return nil, nil, fmt.Errorf("open queue store: %w", err)
	}
	tasks := taskstate.New(kvStore, cfg)
	ops, err := pipeline.New(cfg, tasks, broker, nil, logging.NewNop())
	if err != nil {
		broker.Close()
		kvStore.Close()
		return nil, nil, err
	}
	access := &directAccess{
		cfg:    cfg,
		kv:     kvStore,
		broker: broker,
		svc:    api.NewTaskService(tasks, broker),
		ops:    ops,
	}
	closeFn := func() error {
		return errors.Join(broker.Close(), kvStore.Close())
	}
	return access, closeFn, nil
}

func (a *directAccess) Status(ctx context.Context) (*api.DaemonStatus, error) {
	summary, err := a.broker.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &api.DaemonStatus{
		Running:      false,
		QueueStats:   api.FromQueueSummary(summary),
		StateDBPath:  a.broker.Path(),
		Dependencies: api.FromDependencyStatuses(deps.Check(a.cfg)),
	}, nil
}

// Health runs a fresh probe round instead of reading stale persisted records;
// without a daemon nothing else keeps them current.
func (a *directAccess) Health(ctx context.Context) (*api.HealthReport, error) {
	mgr := health.NewManager(a.cfg, a.kv, logging.NewNop(),
		health.DefaultProbes(a.cfg, vod.NewClient(a.cfg), nil)...)
	summary := mgr.RunChecks(ctx)
	report := api.FromHealthRecords(summary.Records)
	return &report, nil
}

func (a *directAccess) List(ctx context.Context, statuses ...string) ([]api.TaskView, error) {
	parsed := make([]taskstate.Status, 0, len(statuses))
	for _, status := range statuses {
		trimmed := strings.ToLower(strings.TrimSpace(status))
		if trimmed == "" {
			continue
		}
		parsed = append(parsed, taskstate.Status(trimmed))
	}
	return a.svc.List(ctx, parsed...)
}

func (a *directAccess) Describe(ctx context.Context, taskID string) (*api.TaskView, error) {
	view, err := a.svc.Describe(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, fmt.Errorf("%w: task %s", api.ErrNotFound, taskID)
	}
	return view, nil
}

func (a *directAccess) Enqueue(ctx context.Context, kind string, parameters map[string]string) (*api.TaskView, error) {
	parsed, err := taskstate.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	record, err := a.ops.Enqueue(ctx, parsed, parameters)
	if err != nil {
		return nil, err
	}
	view := api.FromTaskRecord(record)
	return &view, nil
}

func (a *directAccess) Resume(ctx context.Context, taskID string) (*api.TaskView, error) {
	record, err := a.ops.Resume(ctx, taskID)
	if err != nil {
		return nil, err
	}
	view := api.FromTaskRecord(record)
	return &view, nil
}

func (a *directAccess) Cancel(ctx context.Context, taskID string) (*api.TaskView, error) {
	record, err := a.ops.Cancel(ctx, taskID)
	if err != nil {
		return nil, err
	}
	view := api.FromTaskRecord(record)
	return &view, nil
}

func (a *directAccess) Reorder(ctx context.Context, taskID string, position int) (int, error) {
	return a.ops.Reorder(ctx, taskID, position)
}
