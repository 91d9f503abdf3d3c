package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"log/slog"

	"github.com/gofrs/flock"

	"gavel/internal/api"
	"gavel/internal/breaker"
	"gavel/internal/config"
	"gavel/internal/deps"
	"gavel/internal/health"
	"gavel/internal/kv"
	"gavel/internal/logging"
	"gavel/internal/pipeline"
	"gavel/internal/queue"
	"gavel/internal/retention"
	"gavel/internal/stage"
	"gavel/internal/taskstate"
)

// Daemon owns the background services and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	kv      *kv.Store
	tasks   *taskstate.Store
	broker  *queue.Store
	orch    *pipeline.Orchestrator
	health  *health.Manager
	sweeper *retention.Sweeper
	circuit *breaker.Breaker

	taskSvc *api.TaskService
	api     *apiServer
	logPath string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	Workers       int
	QueueStats    queue.Summary
	StageHealth   []stage.Health
	HealthRecords []health.Record
	StateDBPath   string
	LockFilePath  string
	Dependencies  []deps.Status
	Circuits      []breaker.Snapshot
}

// New constructs a daemon with initialized dependencies. circuit guards the
// publishing platform and may be nil in reduced setups.
func New(cfg *config.Config, logger *slog.Logger, kvStore *kv.Store, tasks *taskstate.Store, broker *queue.Store, orch *pipeline.Orchestrator, healthMgr *health.Manager, sweeper *retention.Sweeper, circuit *breaker.Breaker) (*Daemon, error) {
	if cfg == nil || logger == nil || kvStore == nil || tasks == nil || broker == nil || orch == nil || healthMgr == nil || sweeper == nil {
		return nil, errors.New("daemon requires config, logger, stores, orchestrator, health manager, and sweeper")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "gaveld.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		kv:       kvStore,
		tasks:    tasks,
		broker:   broker,
		orch:     orch,
		health:   healthMgr,
		sweeper:  sweeper,
		circuit:  circuit,
		taskSvc:  api.NewTaskService(tasks, broker),
		logPath:  filepath.Join(cfg.Paths.LogDir, "gaveld.log"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock and launches the pipeline, the health loop,
// the retention loop, and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another gavel daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.orch.Start(d.ctx); err != nil {
		d.teardown()
		return fmt.Errorf("start pipeline: %w", err)
	}

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		if err := d.health.Run(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("health loop exited", logging.Error(err))
		}
	}()
	go func() {
		defer d.wg.Done()
		if err := d.sweeper.Run(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("retention loop exited", logging.Error(err))
		}
	}()

	if d.api != nil {
		if err := d.api.start(d.ctx); err != nil {
			d.orch.Stop()
			d.teardown()
			d.wg.Wait()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("gavel daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) teardown() {
	_ = d.lock.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	d.ctx = nil
	d.cancel = nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.orch.Stop()
	d.api.stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file manually before restarting"),
			logging.String(logging.FieldImpact, "the next daemon start may refuse to run"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("gavel daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.broker != nil {
		if err := d.broker.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.kv != nil {
		if err := d.kv.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Enqueue submits a new task through the pipeline.
func (d *Daemon) Enqueue(ctx context.Context, kind taskstate.Kind, parameters map[string]string) (*taskstate.TaskRecord, error) {
	return d.orch.Enqueue(ctx, kind, parameters)
}

// Resume clones a failed or cancelled task into a fresh pending task.
func (d *Daemon) Resume(ctx context.Context, taskID string) (*taskstate.TaskRecord, error) {
	return d.orch.Resume(ctx, taskID)
}

// Cancel requests cancellation of a task.
func (d *Daemon) Cancel(ctx context.Context, taskID string) (*taskstate.TaskRecord, error) {
	return d.orch.Cancel(ctx, taskID)
}

// Reorder moves a pending task to the given queue position.
func (d *Daemon) Reorder(ctx context.Context, taskID string, position int) (int, error) {
	return d.orch.Reorder(ctx, taskID, position)
}

// Tasks exposes read-only task views for the API layer.
func (d *Daemon) Tasks() *api.TaskService {
	return d.taskSvc
}

// HealthSnapshot returns the most recent probe outcome per component.
func (d *Daemon) HealthSnapshot() []health.Record {
	return d.health.Snapshot()
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// APIAddr returns the bound admin API address, empty when the API is
// disabled or the daemon has not started.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	stats, err := d.broker.Stats(ctx)
	if err != nil {
		d.logger.Debug("queue stats unavailable", logging.Error(err))
	}
	st := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		Workers:       d.orch.LiveWorkers(),
		QueueStats:    stats,
		StageHealth:   d.orch.StageHealth(ctx),
		HealthRecords: d.health.Snapshot(),
		StateDBPath:   d.broker.Path(),
		LockFilePath:  d.lockPath,
		Dependencies:  deps.Check(d.cfg),
	}
	if d.circuit != nil {
		st.Circuits = []breaker.Snapshot{d.circuit.Snapshot()}
	}
	return st
}
