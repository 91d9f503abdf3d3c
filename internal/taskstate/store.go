package taskstate

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"gavel/internal/config"
	"gavel/internal/kv"
	"gavel/internal/services"
)

const (
	taskKeyPrefix     = "task/"
	priorityKeyPrefix = "priority/"
)

// Store persists task records and priority entries in the key/value store.
// Every write refreshes the entry's TTL, so records stay alive as long as
// the pipeline keeps touching them.
type Store struct {
	kv          *kv.Store
	taskTTL     time.Duration
	priorityTTL time.Duration
}

// New builds a Store with TTLs taken from configuration.
func New(kvStore *kv.Store, cfg *config.Config) *Store {
	return &Store{
		kv:          kvStore,
		taskTTL:     time.Duration(cfg.State.TaskTTL) * time.Second,
		priorityTTL: time.Duration(cfg.State.PriorityTTL) * time.Second,
	}
}

// SaveTask writes the record under its task key and refreshes the TTL. The
// record's UpdatedAt is stamped as part of the write. Callers that can make
// progress without durable state treat a failure here as non-fatal.
func (s *Store) SaveTask(ctx context.Context, record *TaskRecord) error {
	if record == nil || record.TaskID == "" {
		return services.Wrap(services.ErrValidation, "", "save_task", "task record requires a task id", nil)
	}
	record.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(record)
	if err != nil {
		return services.Wrap(services.ErrValidation, string(record.Stage), "save_task", "encode task record", err)
	}
	if err := s.kv.Set(ctx, taskKey(record.TaskID), payload, s.taskTTL); err != nil {
		return services.Wrap(services.ErrStorageUnavailable, string(record.Stage), "save_task", "persist task record", err)
	}
	return nil
}

// LoadTask retrieves a record by id. A missing or expired record returns
// (nil, nil).
func (s *Store) LoadTask(ctx context.Context, taskID string) (*TaskRecord, error) {
	payload, found, err := s.kv.Get(ctx, taskKey(taskID))
	if err != nil {
		return nil, services.Wrap(services.ErrStorageUnavailable, "", "load_task", "read task record", err)
	}
	if !found {
		return nil, nil
	}
	record := &TaskRecord{}
	if err := json.Unmarshal(payload, record); err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "load_task", "decode task record", err)
	}
	return record, nil
}

// TouchTask refreshes a record's TTL without rewriting its payload. The
// worker heartbeat uses this while a stage handler owns the record, so a
// long transcription cannot age out mid-stage. Reports false when the
// record is already gone.
func (s *Store) TouchTask(ctx context.Context, taskID string) (bool, error) {
	found, err := s.kv.Touch(ctx, taskKey(taskID), s.taskTTL)
	if err != nil {
		return false, services.Wrap(services.ErrStorageUnavailable, "", "touch_task", "refresh task record ttl", err)
	}
	return found, nil
}

// DeleteTask removes a record and its priority entry.
func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	if err := s.kv.Delete(ctx, taskKey(taskID)); err != nil {
		return services.Wrap(services.ErrStorageUnavailable, "", "delete_task", "remove task record", err)
	}
	if err := s.kv.Delete(ctx, priorityKey(taskID)); err != nil {
		return services.Wrap(services.ErrStorageUnavailable, "", "delete_task", "remove priority entry", err)
	}
	return nil
}

// ListTasks returns every live task record. Entries that fail to decode are
// skipped; they age out through their TTL.
func (s *Store) ListTasks(ctx context.Context) ([]*TaskRecord, error) {
	entries, err := s.kv.ListPrefix(ctx, taskKeyPrefix)
	if err != nil {
		return nil, services.Wrap(services.ErrStorageUnavailable, "", "list_tasks", "scan task records", err)
	}
	records := make([]*TaskRecord, 0, len(entries))
	for _, entry := range entries {
		record := &TaskRecord{}
		if err := json.Unmarshal(entry.Value, record); err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// SetPriority stores a clamped priority value for the task and refreshes the
// priority TTL.
func (s *Store) SetPriority(ctx context.Context, taskID string, priority int) error {
	clamped := ClampPriority(priority)
	payload := []byte(strconv.Itoa(clamped))
	if err := s.kv.Set(ctx, priorityKey(taskID), payload, s.priorityTTL); err != nil {
		return services.Wrap(services.ErrStorageUnavailable, "", "set_priority", "persist priority entry", err)
	}
	return nil
}

// GetPriority returns the stored priority for the task. Absent or expired
// entries report the default. The returned value is always usable: on store
// failure it is the default alongside the error, so ordering can degrade
// instead of stalling.
func (s *Store) GetPriority(ctx context.Context, taskID string) (int, error) {
	payload, found, err := s.kv.Get(ctx, priorityKey(taskID))
	if err != nil {
		return DefaultPriority, services.Wrap(services.ErrStorageUnavailable, "", "get_priority", "read priority entry", err)
	}
	if !found {
		return DefaultPriority, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil {
		return DefaultPriority, nil
	}
	return ClampPriority(value), nil
}

// DeletePriority removes a task's priority entry, returning it to default
// ordering.
func (s *Store) DeletePriority(ctx context.Context, taskID string) error {
	if err := s.kv.Delete(ctx, priorityKey(taskID)); err != nil {
		return services.Wrap(services.ErrStorageUnavailable, "", "delete_priority", "remove priority entry", err)
	}
	return nil
}

// Health verifies the underlying store responds.
func (s *Store) Health(ctx context.Context) error {
	return s.kv.Health(ctx)
}

func taskKey(taskID string) string {
	return taskKeyPrefix + taskID
}

func priorityKey(taskID string) string {
	return priorityKeyPrefix + taskID
}
