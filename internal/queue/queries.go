package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const taskColumns = "id, task_id, kind, payload, priority, status, available_at, lease_expires_at, worker_id, attempts, enqueued_at, updated_at"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id          int64
		taskID      string
		kind        string
		payload     sql.NullString
		priority    int
		statusStr   string
		availableAt sql.NullString
		leaseRaw    sql.NullString
		workerID    sql.NullString
		attempts    int
		enqueuedRaw sql.NullString
		updatedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&taskID,
		&kind,
		&payload,
		&priority,
		&statusStr,
		&availableAt,
		&leaseRaw,
		&workerID,
		&attempts,
		&enqueuedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:       id,
		TaskID:   taskID,
		Kind:     kind,
		Payload:  payload.String,
		Priority: priority,
		Status:   Status(statusStr),
		WorkerID: workerID.String,
		Attempts: attempts,
	}
	if available, err := parseTimeString(availableAt.String); err == nil {
		task.AvailableAt = available
	}
	if leaseRaw.Valid {
		if lease, err := parseTimeString(leaseRaw.String); err == nil {
			task.LeaseExpiresAt = &lease
		}
	}
	if enqueued, err := parseTimeString(enqueuedRaw.String); err == nil {
		task.EnqueuedAt = enqueued
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		task.UpdatedAt = updated
	}
	return task, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

// GetByTaskID fetches a broker row by the durable task id.
func (s *Store) GetByTaskID(ctx context.Context, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM queue_tasks WHERE task_id = ?`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// List returns broker rows in dispatch order, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Task, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + taskColumns + ` FROM queue_tasks`
	orderClause := ` ORDER BY priority, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list queue tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Stats summarizes broker rows for diagnostics and metrics.
func (s *Store) Stats(ctx context.Context) (Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, available_at FROM queue_tasks`)
	if err != nil {
		return Summary{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	summary := Summary{}
	for rows.Next() {
		var statusStr string
		var availableRaw sql.NullString
		if err := rows.Scan(&statusStr, &availableRaw); err != nil {
			return Summary{}, err
		}
		summary.Total++
		switch Status(statusStr) {
		case StatusLeased:
			summary.Leased++
		case StatusQueued:
			if available, err := parseTimeString(availableRaw.String); err == nil && available.After(now) {
				summary.Delayed++
			} else {
				summary.Ready++
			}
		}
	}
	return summary, rows.Err()
}

// CountReady returns how many tasks could be dispatched right now.
func (s *Store) CountReady(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM queue_tasks WHERE status = ? AND available_at <= ?`,
		StatusQueued,
		time.Now().UTC().Format(timeFormat),
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count ready: %w", err)
	}
	return count, nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
