package api

import (
	"context"
	"slices"
	"strings"

	"gavel/internal/queue"
	"gavel/internal/taskstate"
)

// TaskReader abstracts the record reads the API layer needs.
type TaskReader interface {
	ListTasks(ctx context.Context) ([]*taskstate.TaskRecord, error)
	LoadTask(ctx context.Context, taskID string) (*taskstate.TaskRecord, error)
}

// BrokerReader abstracts broker-side reads.
type BrokerReader interface {
	GetByTaskID(ctx context.Context, taskID string) (*queue.Task, error)
	Stats(ctx context.Context) (queue.Summary, error)
}

// TaskService exposes read-only task operations returning API DTOs. Records
// come from the task store; each view is joined with its broker row so
// consumers see dispatch state (ready, delayed, leased) next to lifecycle
// state.
type TaskService struct {
	tasks  TaskReader
	broker BrokerReader
}

// NewTaskService constructs a TaskService around the provided readers. The
// broker reader may be nil; views then carry no queue entry.
func NewTaskService(tasks TaskReader, broker BrokerReader) *TaskService {
	if tasks == nil {
		return nil
	}
	return &TaskService{tasks: tasks, broker: broker}
}

// List returns task views, optionally filtered by lifecycle status. Views
// sort queued-work first: pending and running ahead of terminal records, then
// priority, then age.
func (s *TaskService) List(ctx context.Context, statuses ...taskstate.Status) ([]TaskView, error) {
	if s == nil || s.tasks == nil {
		return nil, nil
	}
	records, err := s.tasks.ListTasks(ctx)
	if err != nil {
		return nil, err
	}

	filter := make(map[taskstate.Status]struct{}, len(statuses))
	for _, status := range statuses {
		filter[status] = struct{}{}
	}

	views := make([]TaskView, 0, len(records))
	for _, record := range records {
		if len(filter) > 0 {
			if _, ok := filter[record.Status]; !ok {
				continue
			}
		}
		view := FromTaskRecord(record)
		if s.broker != nil {
			if row, rowErr := s.broker.GetByTaskID(ctx, record.TaskID); rowErr == nil {
				view.Queue = FromBrokerTask(row)
			}
		}
		views = append(views, view)
	}

	slices.SortFunc(views, func(a, b TaskView) int {
		if ta, tb := terminalRank(a.Status), terminalRank(b.Status); ta != tb {
			return ta - tb
		}
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		if a.CreatedAt != b.CreatedAt {
			return strings.Compare(a.CreatedAt, b.CreatedAt)
		}
		return strings.Compare(a.TaskID, b.TaskID)
	})
	return views, nil
}

// Stats returns broker dispatch counts.
func (s *TaskService) Stats(ctx context.Context) (QueueStats, error) {
	if s == nil || s.broker == nil {
		return QueueStats{}, nil
	}
	summary, err := s.broker.Stats(ctx)
	if err != nil {
		return QueueStats{}, err
	}
	return FromQueueSummary(summary), nil
}

// Describe fetches a single task view, nil when the task does not exist.
func (s *TaskService) Describe(ctx context.Context, taskID string) (*TaskView, error) {
	if s == nil || s.tasks == nil {
		return nil, nil
	}
	record, err := s.tasks.LoadTask(ctx, taskID)
	if err != nil || record == nil {
		return nil, err
	}
	view := FromTaskRecord(record)
	if s.broker != nil {
		if row, rowErr := s.broker.GetByTaskID(ctx, taskID); rowErr == nil {
			view.Queue = FromBrokerTask(row)
		}
	}
	return &view, nil
}

func terminalRank(status string) int {
	switch taskstate.Status(status) {
	case taskstate.StatusPending, taskstate.StatusRunning:
		return 0
	default:
		return 1
	}
}
