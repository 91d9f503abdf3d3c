// Package pipeline drives tasks through the processing stages. Workers claim
// tasks from the queue broker under a lease, walk the stage sequence from the
// task's resume point, and persist every transition to the task state store.
// All retry, backoff, and cancellation policy lives here; stage handlers only
// report what happened.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gavel/internal/config"
	"gavel/internal/health"
	"gavel/internal/logging"
	"gavel/internal/metrics"
	"gavel/internal/queue"
	"gavel/internal/stage"
	"gavel/internal/taskstate"
)

// HealthSource answers the admission-control questions the orchestrator asks
// before starting work on a task.
type HealthSource interface {
	EffectiveStatus(ctx context.Context, componentID string) health.Status
	StorageComponentForPath(path string) string
}

// Orchestrator owns the worker pool and the stage walk.
type Orchestrator struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *taskstate.Store
	broker   *queue.Store
	health   HealthSource
	handlers map[taskstate.Stage]stage.Handler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	live     atomic.Int32
	busy     atomic.Int32
	inFlight sync.Map
}

// New builds an Orchestrator from its collaborators. Handlers register by
// their own Stage(); a duplicate or unknown stage is a wiring bug and fails
// construction.
func New(cfg *config.Config, store *taskstate.Store, broker *queue.Store, healthSource HealthSource, logger *slog.Logger, handlers ...stage.Handler) (*Orchestrator, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	registered := make(map[taskstate.Stage]stage.Handler, len(handlers))
	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		st := handler.Stage()
		if taskstate.StageIndex(st) < 0 {
			return nil, fmt.Errorf("handler registered for unknown stage %q", st)
		}
		if _, exists := registered[st]; exists {
			return nil, fmt.Errorf("duplicate handler for stage %q", st)
		}
		registered[st] = handler
	}
	return &Orchestrator{
		cfg:      cfg,
		logger:   logger.With(logging.String(logging.FieldComponent, "pipeline")),
		store:    store,
		broker:   broker,
		health:   healthSource,
		handlers: registered,
	}, nil
}

// Start reclaims expired leases and launches the worker pool plus the lease
// janitor. It returns once everything is running.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errors.New("pipeline already running")
	}
	if len(o.handlers) == 0 {
		o.mu.Unlock()
		return errors.New("pipeline has no stage handlers")
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	workers := o.cfg.Pipeline.Workers
	o.wg.Add(workers + 1)
	o.mu.Unlock()

	if reclaimed, err := o.broker.ReclaimExpired(runCtx); err != nil {
		o.logger.Warn("startup lease reclaim failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lease_reclaim_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	} else if reclaimed > 0 {
		o.logger.Info("reclaimed expired leases from a previous run",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldEventType, "lease_reclaimed"),
		)
	}

	host := workerHostLabel()
	for i := 0; i < workers; i++ {
		go o.runWorker(runCtx, fmt.Sprintf("%s-w%d", host, i+1))
	}
	go o.runJanitor(runCtx)

	o.logger.Info("pipeline started",
		logging.Int("workers", workers),
		logging.String(logging.FieldEventType, "pipeline_started"),
	)
	return nil
}

// Stop terminates background processing and waits for workers to finish or
// release their claims.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.running = false
	o.cancel = nil
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
	o.logger.Info("pipeline stopped",
		logging.String(logging.FieldEventType, "pipeline_stopped"),
	)
}

// LiveWorkers reports how many worker goroutines are alive, idle or busy.
// The system resource probe compares this against the configured pool size;
// an idle pool is a healthy pool.
func (o *Orchestrator) LiveWorkers() int {
	return int(o.live.Load())
}

// RunningWorkers reports how many workers currently hold a claim.
func (o *Orchestrator) RunningWorkers() int {
	return int(o.busy.Load())
}

// ActiveTaskIDs returns the tasks currently being processed. Sweeps over the
// workdir must not touch these.
func (o *Orchestrator) ActiveTaskIDs() map[string]struct{} {
	active := make(map[string]struct{})
	o.inFlight.Range(func(key, _ any) bool {
		if id, ok := key.(string); ok {
			active[id] = struct{}{}
		}
		return true
	})
	return active
}

// StageHealth runs every registered handler's readiness check in stage order.
func (o *Orchestrator) StageHealth(ctx context.Context) []stage.Health {
	out := make([]stage.Health, 0, len(o.handlers))
	for _, st := range taskstate.Stages() {
		if handler, ok := o.handlers[st]; ok {
			out = append(out, handler.HealthCheck(ctx))
		}
	}
	return out
}

func (o *Orchestrator) runWorker(ctx context.Context, workerID string) {
	defer o.wg.Done()
	o.live.Add(1)
	defer o.live.Add(-1)
	logger := o.logger.With(logging.String(logging.FieldWorker, workerID))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		claim, err := o.broker.Dequeue(ctx, workerID, o.leaseDuration())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to claim next task",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			o.waitForWorkOrShutdown(ctx)
			continue
		}
		if claim == nil {
			o.waitForWorkOrShutdown(ctx)
			continue
		}

		o.processClaim(ctx, logger, workerID, claim)
	}
}

// runJanitor periodically returns expired leases to the queue and refreshes
// the queue depth gauges.
func (o *Orchestrator) runJanitor(ctx context.Context) {
	defer o.wg.Done()

	interval := o.leaseDuration() / 4
	if floor := o.pollInterval(); interval < floor {
		interval = floor
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if reclaimed, err := o.broker.ReclaimExpired(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			o.logger.Warn("lease reclaim failed; expired claims may linger",
				logging.Error(err),
				logging.String(logging.FieldEventType, "lease_reclaim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		} else if reclaimed > 0 {
			o.logger.Info("reclaimed expired leases",
				logging.Int64("count", reclaimed),
				logging.String(logging.FieldEventType, "lease_reclaimed"),
			)
		}

		o.publishQueueGauges(ctx)
	}
}

func (o *Orchestrator) publishQueueGauges(ctx context.Context) {
	summary, err := o.broker.Stats(ctx)
	if err != nil {
		return
	}
	metrics.SetQueueTasks("ready", summary.Ready)
	metrics.SetQueueTasks("delayed", summary.Delayed)
	metrics.SetQueueTasks("leased", summary.Leased)
}

func (o *Orchestrator) waitForWorkOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(o.pollInterval()):
	}
}

// pollInterval may be zero, which spin-polls the queue; production configs
// validate it positive, tests rely on zero for fast turnaround.
func (o *Orchestrator) pollInterval() time.Duration {
	return time.Duration(o.cfg.Pipeline.PollInterval) * time.Second
}

func (o *Orchestrator) leaseDuration() time.Duration {
	return time.Duration(o.cfg.Pipeline.LeaseDuration) * time.Second
}

func (o *Orchestrator) heartbeatInterval() time.Duration {
	if o.cfg.Pipeline.HeartbeatInterval <= 0 {
		return 15 * time.Second
	}
	return time.Duration(o.cfg.Pipeline.HeartbeatInterval) * time.Second
}

func workerHostLabel() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		host = "gavel"
	}
	if idx := strings.IndexByte(host, '.'); idx > 0 {
		host = host[:idx]
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
