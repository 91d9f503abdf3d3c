package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gavel/internal/logging"
	"gavel/internal/services"
	"gavel/internal/taskstate"
)

// Enqueue creates a task record and its queue entry. The source_path
// parameter is mandatory; everything else rides along untouched.
func (o *Orchestrator) Enqueue(ctx context.Context, kind taskstate.Kind, parameters map[string]string) (*taskstate.TaskRecord, error) {
	source := strings.TrimSpace(parameters["source_path"])
	if source == "" {
		return nil, services.Wrap(services.ErrValidation, "", "enqueue",
			"source_path parameter is required", nil)
	}

	record := taskstate.NewRecord(kind, parameters)
	if err := o.store.SaveTask(ctx, record); err != nil {
		return nil, err
	}
	if _, err := o.broker.Enqueue(ctx, record.TaskID, string(kind), source, record.Priority); err != nil {
		// Do not leave a record the queue knows nothing about.
		_ = o.store.DeleteTask(ctx, record.TaskID)
		return nil, services.Wrap(services.ErrStorageUnavailable, "", "enqueue", "create queue entry", err)
	}

	o.logger.Info("task enqueued",
		logging.String(logging.FieldTaskID, record.TaskID),
		logging.String("kind", string(kind)),
		logging.String("source", source),
		logging.String(logging.FieldEventType, "task_enqueued"),
	)
	return record, nil
}

// Resume clones a failed or cancelled task into a fresh pending task. The
// clone keeps the parameters and the recorded progress, so execution picks up
// at the first stage whose outputs are missing; the original record is
// retired so one piece of work is never described twice.
func (o *Orchestrator) Resume(ctx context.Context, taskID string) (*taskstate.TaskRecord, error) {
	record, err := o.store.LoadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "resume",
			fmt.Sprintf("task %s not found", taskID), nil)
	}

	switch record.Status {
	case taskstate.StatusFailed, taskstate.StatusCancelled:
	default:
		return nil, services.Wrap(services.ErrNotResumable, "", "resume",
			fmt.Sprintf("task is %s; only failed or cancelled tasks resume", record.Status), nil)
	}

	clone := record.Clone()
	clone.TaskID = uuid.NewString()
	now := time.Now().UTC()
	clone.CreatedAt = now
	clone.UpdatedAt = now
	clone.Status = taskstate.StatusPending
	clone.Stage = ""
	clone.FailureReason = ""
	clone.Retries = taskstate.Retries{}

	point, ok := clone.ResumePoint()
	if !ok {
		return nil, services.Wrap(services.ErrNotResumable, "", "resume",
			"every stage already completed; nothing to resume", nil)
	}
	if err := checkProgressConsistency(clone, point); err != nil {
		return nil, err
	}

	if err := o.store.SaveTask(ctx, clone); err != nil {
		return nil, err
	}
	if clone.Priority != taskstate.DefaultPriority {
		if err := o.store.SetPriority(ctx, clone.TaskID, clone.Priority); err != nil {
			o.logger.Debug("could not carry priority to the resumed task", logging.Error(err))
		}
	}
	source, _ := clone.Parameter("source_path")
	if _, err := o.broker.Enqueue(ctx, clone.TaskID, string(clone.Kind), source, clone.Priority); err != nil {
		_ = o.store.DeleteTask(ctx, clone.TaskID)
		return nil, services.Wrap(services.ErrStorageUnavailable, "", "resume", "create queue entry", err)
	}

	if err := o.store.DeleteTask(ctx, taskID); err != nil {
		o.logger.Warn("could not retire the original task record",
			logging.String(logging.FieldTaskID, taskID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "resume_retire_failed"),
			logging.String(logging.FieldErrorHint, "the old record ages out through its ttl"),
		)
	}
	_, _ = o.broker.Remove(ctx, taskID)

	o.logger.Info("task resumed",
		logging.String(logging.FieldTaskID, clone.TaskID),
		logging.String("resumed_from", taskID),
		logging.String(logging.FieldStage, string(point)),
		logging.String(logging.FieldEventType, "task_resumed"),
	)
	return clone, nil
}

// checkProgressConsistency rejects records whose progress claims a later
// stage finished while an earlier one did not. Resuming such a record would
// regenerate artifacts that downstream outputs already depend on.
func checkProgressConsistency(record *taskstate.TaskRecord, point taskstate.Stage) error {
	resumeIdx := taskstate.StageIndex(point)
	for _, later := range taskstate.Stages()[resumeIdx+1:] {
		for _, key := range taskstate.RequiredProgress(later) {
			if _, found := record.ProgressValue(key); found {
				return services.Wrap(services.ErrNotResumable, "", "resume",
					fmt.Sprintf("progress records %s from stage %s but stage %s never finished", key, later, point), nil)
			}
		}
	}
	return nil
}

// Cancel marks a task cancelled. A queued task is picked up once more solely
// to run its cleanup stage; a running task notices at its next stage
// boundary.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) (*taskstate.TaskRecord, error) {
	record, err := o.store.LoadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "cancel",
			fmt.Sprintf("task %s not found", taskID), nil)
	}
	if record.Status.Terminal() {
		return nil, services.Wrap(services.ErrValidation, "", "cancel",
			fmt.Sprintf("task is already %s", record.Status), nil)
	}

	record.MarkCancelled()
	if err := o.store.SaveTask(ctx, record); err != nil {
		return nil, err
	}

	o.logger.Info("task cancellation requested",
		logging.String(logging.FieldTaskID, taskID),
		logging.String(logging.FieldStage, string(record.Stage)),
		logging.String(logging.FieldEventType, "cancel_requested"),
	)
	return record, nil
}

// Reorder moves a pending task to the given queue position. Positions clamp
// into the accepted priority range; lower positions dequeue first.
func (o *Orchestrator) Reorder(ctx context.Context, taskID string, position int) (int, error) {
	record, err := o.store.LoadTask(ctx, taskID)
	if err != nil {
		return 0, err
	}
	if record == nil {
		return 0, services.Wrap(services.ErrNotFound, "", "reorder",
			fmt.Sprintf("task %s not found", taskID), nil)
	}
	if record.Status != taskstate.StatusPending {
		return 0, services.Wrap(services.ErrValidation, "", "reorder",
			fmt.Sprintf("task is %s; only pending tasks reorder", record.Status), nil)
	}

	clamped := taskstate.ClampPriority(position)
	if err := o.store.SetPriority(ctx, taskID, clamped); err != nil {
		return 0, err
	}
	moved, err := o.broker.SetPriority(ctx, taskID, clamped)
	if err != nil {
		return 0, services.Wrap(services.ErrStorageUnavailable, "", "reorder", "update queue priority", err)
	}
	if !moved {
		// The queue row is gone or already claimed; the stored priority still
		// applies if the task returns to the queue.
		o.logger.Debug("queue entry not reordered",
			logging.String(logging.FieldTaskID, taskID),
		)
	}

	record.Priority = clamped
	if err := o.store.SaveTask(ctx, record); err != nil {
		return clamped, err
	}

	o.logger.Info("task reordered",
		logging.String(logging.FieldTaskID, taskID),
		logging.Int("position", clamped),
		logging.String(logging.FieldEventType, "task_reordered"),
	)
	return clamped, nil
}
