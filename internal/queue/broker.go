package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timeFormat pads fractional seconds to a fixed width so the broker's
// available_at and lease_expires_at predicates compare correctly as TEXT.
// RFC3339Nano trims trailing zeros, which breaks lexicographic ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Enqueue inserts a dispatchable task. Enqueueing a task id that is already
// queued or leased is a no-op returning the existing row, so callers can
// retry safely.
func (s *Store) Enqueue(ctx context.Context, taskID, kind, payload string, priority int) (*Task, error) {
	if taskID == "" {
		return nil, errors.New("task id is required")
	}
	now := time.Now().UTC()
	timestamp := now.Format(timeFormat)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO queue_tasks (
            task_id, kind, payload, priority, status, available_at, enqueued_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(task_id) DO NOTHING`,
		taskID,
		kind,
		nullableString(payload),
		priority,
		StatusQueued,
		timestamp,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return s.GetByTaskID(ctx, taskID)
	}
	return s.GetByTaskID(ctx, taskID)
}

// Dequeue claims the most urgent ready task for a worker and starts a lease.
// Returns (nil, nil) when nothing is ready. Ready means queued with
// available_at at or before now; ordering is priority first (lower value
// wins), then insertion order.
func (s *Store) Dequeue(ctx context.Context, workerID string, lease time.Duration) (*Task, error) {
	ctx = ensureContext(ctx)
	var claimed *Task
	err := retryOnBusy(ctx, func() error {
		claimed = nil
		now := time.Now().UTC()

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(
			ctx,
			`SELECT `+taskColumns+` FROM queue_tasks
             WHERE status = ? AND available_at <= ?
             ORDER BY priority, id LIMIT 1`,
			StatusQueued,
			now.Format(timeFormat),
		)
		task, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select ready task: %w", err)
		}

		expires := now.Add(lease)
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE queue_tasks
             SET status = ?, worker_id = ?, lease_expires_at = ?, attempts = attempts + 1, updated_at = ?
             WHERE id = ?`,
			StatusLeased,
			workerID,
			expires.Format(timeFormat),
			now.Format(timeFormat),
			task.ID,
		); err != nil {
			return fmt.Errorf("lease task: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim: %w", err)
		}

		task.Status = StatusLeased
		task.WorkerID = workerID
		task.LeaseExpiresAt = &expires
		task.Attempts++
		task.UpdatedAt = now
		claimed = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ExtendLease renews a worker's lease on a task. Returns false when the
// worker no longer holds the lease (expired and reclaimed, or completed
// elsewhere), at which point the worker must stop touching the task.
func (s *Store) ExtendLease(ctx context.Context, taskID, workerID string, lease time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_tasks SET lease_expires_at = ?, updated_at = ?
         WHERE task_id = ? AND worker_id = ? AND status = ?`,
		now.Add(lease).Format(timeFormat),
		now.Format(timeFormat),
		taskID,
		workerID,
		StatusLeased,
	)
	if err != nil {
		return false, fmt.Errorf("extend lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RequeueWithDelay releases a worker's claim and makes the task dispatchable
// again after the delay elapses. A zero delay is an immediate release.
func (s *Store) RequeueWithDelay(ctx context.Context, taskID, workerID string, delay time.Duration) (bool, error) {
	if delay < 0 {
		delay = 0
	}
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_tasks
         SET status = ?, worker_id = NULL, lease_expires_at = NULL, available_at = ?, updated_at = ?
         WHERE task_id = ? AND worker_id = ? AND status = ?`,
		StatusQueued,
		now.Add(delay).Format(timeFormat),
		now.Format(timeFormat),
		taskID,
		workerID,
		StatusLeased,
	)
	if err != nil {
		return false, fmt.Errorf("requeue task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Release returns a claimed task to the queue immediately.
func (s *Store) Release(ctx context.Context, taskID, workerID string) (bool, error) {
	return s.RequeueWithDelay(ctx, taskID, workerID, 0)
}

// Complete removes a task the worker finished with, whatever the outcome.
// The durable record carries the result; the broker row has served its
// purpose.
func (s *Store) Complete(ctx context.Context, taskID, workerID string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM queue_tasks WHERE task_id = ? AND worker_id = ?`,
		taskID,
		workerID,
	)
	if err != nil {
		return false, fmt.Errorf("complete task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Remove deletes a task regardless of claim state. Used by cancel paths.
func (s *Store) Remove(ctx context.Context, taskID string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_tasks WHERE task_id = ?`, taskID)
	if err != nil {
		return false, fmt.Errorf("remove task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetPriority updates the ordering weight of a queued task. Leased tasks are
// left alone: the claim already happened, so reordering them would lie.
func (s *Store) SetPriority(ctx context.Context, taskID string, priority int) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_tasks SET priority = ?, updated_at = ?
         WHERE task_id = ? AND status = ?`,
		priority,
		time.Now().UTC().Format(timeFormat),
		taskID,
		StatusQueued,
	)
	if err != nil {
		return false, fmt.Errorf("set priority: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ReclaimExpired returns tasks with lapsed leases to the queue. Run at
// startup and periodically so work lost to a dead worker resurfaces.
func (s *Store) ReclaimExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_tasks
         SET status = ?, worker_id = NULL, lease_expires_at = NULL, available_at = ?, updated_at = ?
         WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`,
		StatusQueued,
		now.Format(timeFormat),
		now.Format(timeFormat),
		StatusLeased,
		now.Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all broker rows.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_tasks`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}
