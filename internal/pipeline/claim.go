package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gavel/internal/health"
	"gavel/internal/logging"
	"gavel/internal/metrics"
	"gavel/internal/queue"
	"gavel/internal/services"
	"gavel/internal/stage"
	"gavel/internal/taskstate"
)

// session tracks one worker's ownership of one claim.
type session struct {
	workerID  string
	logger    *slog.Logger
	leaseLost atomic.Bool
}

func (o *Orchestrator) processClaim(ctx context.Context, logger *slog.Logger, workerID string, claim *queue.Task) {
	o.busy.Add(1)
	defer o.busy.Add(-1)
	o.inFlight.Store(claim.TaskID, struct{}{})
	defer o.inFlight.Delete(claim.TaskID)

	sess := &session{
		workerID: workerID,
		logger:   logger.With(logging.String(logging.FieldTaskID, claim.TaskID)),
	}

	record, err := o.store.LoadTask(ctx, claim.TaskID)
	if err != nil {
		sess.logger.Warn("task record unavailable, returning claim to the queue",
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_load_failed"),
			logging.String(logging.FieldErrorHint, "check the state database"),
			logging.String(logging.FieldImpact, "task delayed, not failed"),
		)
		o.requeueClaim(ctx, sess, claim.TaskID, o.pollInterval(), "state_unavailable")
		return
	}
	if record == nil {
		sess.logger.Warn("queue entry has no task record, dropping it",
			logging.String(logging.FieldEventType, "task_record_missing"),
			logging.String(logging.FieldErrorHint, "the record likely aged out; enqueue the source again"),
		)
		o.completeClaim(ctx, sess, claim.TaskID)
		return
	}

	if record.Status.Terminal() {
		// Cancelled while queued: the claim is our chance to run cleanup.
		if record.Status == taskstate.StatusCancelled {
			o.finishCancelled(ctx, sess, record)
			return
		}
		sess.logger.Info("claimed task already finished, dropping queue entry",
			logging.String("status", string(record.Status)),
			logging.String(logging.FieldEventType, "task_already_terminal"),
		)
		o.completeClaim(ctx, sess, claim.TaskID)
		return
	}

	resume, ok := record.ResumePoint()
	if !ok {
		record.MarkSucceeded()
		o.persist(ctx, sess.logger, record)
		o.completeClaim(ctx, sess, claim.TaskID)
		metrics.IncTaskOutcome("succeeded")
		return
	}

	// Admission control gates the first byte of work, not resumed tasks that
	// already hold a verified local copy.
	if resume == taskstate.StageDiscover {
		if !o.admitTask(ctx, sess, record) {
			return
		}
	}

	taskCtx, cancelTask := context.WithCancel(ctx)
	defer cancelTask()
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go o.heartbeatLoop(taskCtx, &hbWG, sess, record.TaskID, cancelTask)

	o.runStages(taskCtx, sess, record, resume)

	cancelTask()
	hbWG.Wait()
}

// admitTask decides whether the task may start based on the health of the
// store holding its source. Unhealthy defers with doubling backoff until the
// admission budget runs out; degraded admits with a warning.
func (o *Orchestrator) admitTask(ctx context.Context, sess *session, record *taskstate.TaskRecord) bool {
	source, _ := record.Parameter("source_path")
	component := o.health.StorageComponentForPath(source)
	status := o.health.EffectiveStatus(ctx, component)

	if status != health.StatusUnhealthy {
		if status == health.StatusDegraded {
			attrs := append(logging.DecisionAttrs("admission", "admitted", "source store degraded"),
				logging.String("component", component),
				logging.String(logging.FieldEventType, "admission_degraded"),
				logging.String(logging.FieldErrorHint, "watch the next health round"),
				logging.String(logging.FieldImpact, "task runs against a slow store"),
			)
			sess.logger.Warn("admitting task on a degraded source store", logging.Args(attrs...)...)
		}
		if record.FailureReason == services.ReasonStorageUnavailable {
			record.FailureReason = ""
		}
		return true
	}

	record.Retries.Admission++
	record.FailureReason = services.ReasonStorageUnavailable

	if record.Retries.Admission > o.cfg.Pipeline.AdmissionRetryLimit {
		err := services.Wrap(services.ErrStorageUnavailable, string(taskstate.StageDiscover), "admission",
			fmt.Sprintf("source store %s stayed unhealthy through %d deferrals", component, o.cfg.Pipeline.AdmissionRetryLimit), nil)
		o.failTask(ctx, sess, record, taskstate.StageDiscover, err)
		return false
	}

	delay := o.retryBackoff(record.Retries.Admission)
	record.Status = taskstate.StatusPending
	o.persist(ctx, sess.logger, record)
	o.requeueClaim(ctx, sess, record.TaskID, delay, "admission")

	attrs := append(logging.DecisionAttrs("admission", "deferred", "source store unhealthy"),
		logging.String("component", component),
		logging.Int("attempt", record.Retries.Admission),
		logging.Int("limit", o.cfg.Pipeline.AdmissionRetryLimit),
		logging.Duration("backoff", delay),
		logging.String(logging.FieldEventType, "admission_deferred"),
	)
	sess.logger.Info("task deferred until its source store recovers", logging.Args(attrs...)...)
	return false
}

// heartbeatLoop extends the queue lease and refreshes the record TTL while a
// stage runs. Losing the lease cancels the task context: the work now belongs
// to whichever worker claims it next.
func (o *Orchestrator) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, sess *session, taskID string, cancelTask context.CancelFunc) {
	defer wg.Done()
	ticker := time.NewTicker(o.heartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		held, err := o.broker.ExtendLease(ctx, taskID, sess.workerID, o.leaseDuration())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sess.logger.Warn("lease heartbeat failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "heartbeat_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
				logging.String(logging.FieldImpact, "lease may expire and hand the task to another worker"),
			)
			continue
		}
		if !held {
			sess.logger.Warn("lease no longer held, stopping work on this task",
				logging.String(logging.FieldEventType, "lease_lost"),
				logging.String(logging.FieldErrorHint, "another worker resumes from recorded progress"),
			)
			sess.leaseLost.Store(true)
			cancelTask()
			return
		}
		if _, err := o.store.TouchTask(ctx, taskID); err != nil && ctx.Err() == nil {
			sess.logger.Debug("task record ttl refresh failed", logging.Error(err))
		}
	}
}

func (o *Orchestrator) runStages(ctx context.Context, sess *session, record *taskstate.TaskRecord, resume taskstate.Stage) {
	stages := taskstate.Stages()
	start := taskstate.StageIndex(resume)
	if start < 0 {
		start = 0
	}

	for idx := start; idx < len(stages); idx++ {
		current := stages[idx]

		if o.cancellationRequested(ctx, sess, record) {
			return
		}
		if ctx.Err() != nil {
			o.releaseInterrupted(sess, record)
			return
		}

		if stageOutputsPresent(record, current) {
			sess.logger.Info("stage outputs already recorded, skipping",
				logging.String(logging.FieldStage, string(current)),
				logging.String(logging.FieldEventType, "stage_skipped"),
			)
			continue
		}

		handler, ok := o.handlers[current]
		if !ok {
			err := services.Wrap(services.ErrConfiguration, string(current), "run_stage",
				"no handler registered for stage", nil)
			o.failTask(ctx, sess, record, current, err)
			return
		}

		err := o.executeStage(ctx, sess, record, handler)
		if err != nil && current == taskstate.StageValidate && errors.Is(err, services.ErrValidation) {
			err = o.retryValidation(ctx, sess, record, err)
		}
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			o.releaseInterrupted(sess, record)
			return
		}

		o.resolveStageFailure(ctx, sess, record, current, err)
		return
	}

	record.MarkSucceeded()
	o.persist(ctx, sess.logger, record)
	o.completeClaim(ctx, sess, record.TaskID)
	if err := o.store.DeletePriority(ctx, record.TaskID); err != nil && ctx.Err() == nil {
		sess.logger.Debug("priority entry cleanup failed", logging.Error(err))
	}
	metrics.IncTaskOutcome("succeeded")
	sess.logger.Info("task succeeded",
		logging.String("kind", string(record.Kind)),
		logging.String(logging.FieldEventType, "task_succeeded"),
	)
}

// executeStage runs one handler through its Prepare and Execute phases,
// persisting the record on both sides of the work.
func (o *Orchestrator) executeStage(ctx context.Context, sess *session, record *taskstate.TaskRecord, handler stage.Handler) error {
	current := handler.Stage()
	stageLogger := sess.logger.With(logging.String(logging.FieldStage, string(current)))

	if err := handler.Prepare(ctx, record); err != nil {
		return err
	}
	record.MarkRunning(current)
	if err := o.store.SaveTask(ctx, record); err != nil {
		return err
	}

	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
	)
	started := time.Now()
	execErr := handler.Execute(ctx, record)
	elapsed := time.Since(started)
	metrics.ObserveStageDuration(string(current), elapsed.Seconds())

	if execErr != nil {
		return execErr
	}

	// An administrative cancel may have landed while the stage ran; the
	// completed outputs are kept, but the cancel must survive this write.
	if fresh, err := o.store.LoadTask(ctx, record.TaskID); err == nil && fresh != nil && fresh.Status == taskstate.StatusCancelled {
		record.Status = taskstate.StatusCancelled
	}
	if err := o.store.SaveTask(ctx, record); err != nil {
		return err
	}
	stageLogger.Info("stage completed",
		logging.Duration("stage_duration", elapsed.Round(time.Millisecond)),
		logging.String(logging.FieldEventType, "stage_complete"),
	)
	return nil
}

// retryValidation re-runs caption embedding and validation until validation
// passes or the retry budget is spent. Artifact paths are deterministic, so a
// re-run overwrites the rejected output in place.
func (o *Orchestrator) retryValidation(ctx context.Context, sess *session, record *taskstate.TaskRecord, vErr error) error {
	embed, embedOK := o.handlers[taskstate.StageCaptionEmbed]
	validate, validateOK := o.handlers[taskstate.StageValidate]
	if !embedOK || !validateOK {
		return vErr
	}

	limit := o.cfg.Pipeline.ValidationRetryLimit
	for errors.Is(vErr, services.ErrValidation) && record.Retries.Validation < limit {
		if ctx.Err() != nil {
			return vErr
		}
		record.Retries.Validation++
		record.FailureReason = services.ReasonValidationFailed
		o.persist(ctx, sess.logger, record)

		attrs := append(logging.DecisionAttrs("validation_retry", "re_embed", services.Details(vErr).Message),
			logging.Int("attempt", record.Retries.Validation),
			logging.Int("limit", limit),
			logging.String(logging.FieldEventType, "validation_retry"),
			logging.String(logging.FieldErrorHint, "inspect the caption output in the task workdir if retries keep failing"),
			logging.String(logging.FieldImpact, "captions re-encoded from the stored transcript"),
		)
		sess.logger.Warn("validation failed, re-embedding captions", logging.Args(attrs...)...)

		if err := o.executeStage(ctx, sess, record, embed); err != nil {
			return err
		}
		vErr = o.executeStage(ctx, sess, record, validate)
	}

	if vErr == nil {
		record.FailureReason = ""
	}
	return vErr
}

// resolveStageFailure applies the retry policy to a failed stage: retryable
// errors go back to the queue with a delay until their budget runs out,
// everything else fails the task.
func (o *Orchestrator) resolveStageFailure(ctx context.Context, sess *session, record *taskstate.TaskRecord, current taskstate.Stage, stageErr error) {
	record.FailureReason = services.FailureReason(stageErr)

	// Storage outages retry alongside the transient family: the condition
	// clears when the mount or database comes back.
	retryable := services.IsRetryable(stageErr) || errors.Is(stageErr, services.ErrStorageUnavailable)
	if !retryable {
		o.failTask(ctx, sess, record, current, stageErr)
		return
	}

	var (
		attempt int
		limit   int
		delay   time.Duration
		cause   string
	)
	switch {
	case errors.Is(stageErr, services.ErrCircuitOpen):
		// The breaker refused the call before anything moved; pause for the
		// cool-down instead of hammering a failing platform.
		record.Retries.Publish++
		attempt, limit = record.Retries.Publish, o.cfg.Pipeline.PublishRetryLimit
		delay = time.Duration(o.cfg.Breaker.Cooldown) * time.Second
		cause = "circuit_open"
	case current == taskstate.StagePublish:
		record.Retries.Publish++
		attempt, limit = record.Retries.Publish, o.cfg.Pipeline.PublishRetryLimit
		delay = o.retryBackoff(attempt)
		cause = "publish_retry"
	default:
		record.Retries.Transient++
		attempt, limit = record.Retries.Transient, o.cfg.Pipeline.StageRetryLimit
		delay = o.retryBackoff(attempt)
		cause = "transient"
	}

	if attempt > limit {
		o.failTask(ctx, sess, record, current, stageErr)
		return
	}

	record.Status = taskstate.StatusPending
	o.persist(ctx, sess.logger, record)
	o.requeueClaim(ctx, sess, record.TaskID, delay, cause)

	details := services.Details(stageErr)
	attrs := []logging.Attr{
		logging.String(logging.FieldStage, string(current)),
		logging.String("failure_reason", details.Reason),
		logging.String("detail", details.Message),
		logging.Int("attempt", attempt),
		logging.Int("limit", limit),
		logging.Duration("backoff", delay),
		logging.String(logging.FieldEventType, "stage_requeued"),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.String(logging.FieldImpact, "task delayed, not failed"),
	}
	if details.Cause != nil {
		attrs = append(attrs, logging.Error(details.Cause))
	} else {
		attrs = append(attrs, logging.Error(stageErr))
	}
	sess.logger.Warn("stage failed, task requeued", logging.Args(attrs...)...)
}

func (o *Orchestrator) failTask(ctx context.Context, sess *session, record *taskstate.TaskRecord, current taskstate.Stage, stageErr error) {
	details := services.Details(stageErr)
	record.MarkFailed(details.Reason)
	o.persist(ctx, sess.logger, record)
	o.completeClaim(ctx, sess, record.TaskID)
	metrics.IncTaskOutcome("failed")

	attrs := []logging.Attr{
		logging.String(logging.FieldStage, string(current)),
		logging.String("failure_reason", details.Reason),
		logging.String("operation", details.Operation),
		logging.String("detail", details.Message),
		logging.Alert("task_failed"),
		logging.String(logging.FieldEventType, "task_failed"),
		logging.String(logging.FieldErrorHint, details.Hint),
	}
	if details.Cause != nil {
		attrs = append(attrs, logging.Error(details.Cause))
	} else {
		attrs = append(attrs, logging.Error(stageErr))
	}
	sess.logger.Error("task failed", logging.Args(attrs...)...)
}

// cancellationRequested reloads the record at a stage boundary and, when an
// administrative cancel came in, runs cleanup and finishes the task.
func (o *Orchestrator) cancellationRequested(ctx context.Context, sess *session, record *taskstate.TaskRecord) bool {
	fresh, err := o.store.LoadTask(ctx, record.TaskID)
	if err != nil || fresh == nil {
		// A state store hiccup never cancels work; keep driving the record
		// we own.
		return false
	}
	if fresh.Status != taskstate.StatusCancelled {
		return false
	}
	sess.logger.Info("cancellation observed at stage boundary",
		logging.String(logging.FieldStage, string(record.Stage)),
		logging.String(logging.FieldEventType, "cancel_observed"),
	)
	o.finishCancelled(ctx, sess, record)
	return true
}

// finishCancelled runs the cleanup stage for a cancelled task, keeping the
// cancelled status, and retires the queue entry.
func (o *Orchestrator) finishCancelled(ctx context.Context, sess *session, record *taskstate.TaskRecord) {
	record.Stage = taskstate.StageCleanup
	if handler, ok := o.handlers[taskstate.StageCleanup]; ok {
		if err := handler.Execute(ctx, record); err != nil && ctx.Err() == nil {
			sess.logger.Warn("cleanup after cancellation failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "cleanup_failed"),
				logging.String(logging.FieldErrorHint, "the workdir sweep removes the directory later"),
				logging.String(logging.FieldImpact, "disk space held until the next sweep"),
			)
		}
	}
	record.MarkCancelled()
	o.persist(ctx, sess.logger, record)
	o.completeClaim(ctx, sess, record.TaskID)
	metrics.IncTaskOutcome("cancelled")
	sess.logger.Info("task cancelled",
		logging.String(logging.FieldEventType, "task_cancelled"),
	)
}

// releaseInterrupted hands an interrupted claim back to the queue on
// shutdown. When the lease was lost instead, the task already belongs to
// someone else and nothing here may touch the queue row.
func (o *Orchestrator) releaseInterrupted(sess *session, record *taskstate.TaskRecord) {
	if sess.leaseLost.Load() {
		return
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record.Status = taskstate.StatusPending
	if err := o.store.SaveTask(flushCtx, record); err != nil {
		sess.logger.Debug("could not persist record during shutdown", logging.Error(err))
	}
	if _, err := o.broker.Release(flushCtx, record.TaskID, sess.workerID); err != nil {
		sess.logger.Debug("could not release claim during shutdown", logging.Error(err))
		return
	}
	sess.logger.Info("task released for the next run",
		logging.String(logging.FieldStage, string(record.Stage)),
		logging.String(logging.FieldEventType, "task_released"),
	)
}

func (o *Orchestrator) persist(ctx context.Context, logger *slog.Logger, record *taskstate.TaskRecord) {
	if err := o.store.SaveTask(ctx, record); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("shutdown interrupted task persist")
			return
		}
		logger.Error("failed to persist task record",
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_persist_failed"),
			logging.String(logging.FieldErrorHint, "check the state database"),
		)
	}
}

func (o *Orchestrator) completeClaim(ctx context.Context, sess *session, taskID string) {
	if _, err := o.broker.Complete(ctx, taskID, sess.workerID); err != nil && ctx.Err() == nil {
		sess.logger.Warn("failed to clear queue entry",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_complete_failed"),
			logging.String(logging.FieldErrorHint, "lease expiry reclaims the entry"),
		)
	}
}

func (o *Orchestrator) requeueClaim(ctx context.Context, sess *session, taskID string, delay time.Duration, cause string) {
	requeued, err := o.broker.RequeueWithDelay(ctx, taskID, sess.workerID, delay)
	if err != nil {
		if ctx.Err() == nil {
			sess.logger.Error("failed to requeue task",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_requeue_failed"),
				logging.String(logging.FieldErrorHint, "lease expiry returns the task to the queue"),
			)
		}
		return
	}
	if !requeued {
		sess.logger.Warn("requeue skipped, lease no longer held",
			logging.String(logging.FieldEventType, "queue_requeue_skipped"),
		)
		return
	}
	metrics.IncRequeue(cause)
}

// retryBackoff doubles the configured base delay per attempt up to the cap.
func (o *Orchestrator) retryBackoff(attempt int) time.Duration {
	base := time.Duration(o.cfg.Pipeline.AdmissionBackoff) * time.Second
	upper := time.Duration(o.cfg.Pipeline.AdmissionBackoffCap) * time.Second
	return backoffDelay(base, upper, attempt)
}

func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if limit < base {
		limit = base
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	return delay
}

func stageOutputsPresent(record *taskstate.TaskRecord, current taskstate.Stage) bool {
	keys := taskstate.RequiredProgress(current)
	if len(keys) == 0 {
		return false
	}
	for _, key := range keys {
		if _, ok := record.ProgressValue(key); !ok {
			return false
		}
	}
	return true
}
