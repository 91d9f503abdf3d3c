package testsupport

import (
	"context"
	"testing"

	"gavel/internal/config"
	"gavel/internal/kv"
	"gavel/internal/queue"
	"gavel/internal/taskstate"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenKV opens a kv.Store on the test config's state database and
// registers cleanup.
func MustOpenKV(t testing.TB, cfg *config.Config) *kv.Store {
	t.Helper()

	store, err := kv.Open(cfg.Paths.StateDB)
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenTaskStore builds a task state store over a fresh kv store.
func MustOpenTaskStore(t testing.TB, cfg *config.Config) *taskstate.Store {
	t.Helper()
	return taskstate.New(MustOpenKV(t, cfg), cfg)
}

// Enqueue creates a pending task record and its broker row for tests.
func Enqueue(t testing.TB, tasks *taskstate.Store, broker *queue.Store, kind taskstate.Kind, params map[string]string) *taskstate.TaskRecord {
	t.Helper()

	ctx := context.Background()
	record := taskstate.NewRecord(kind, params)
	if err := tasks.SaveTask(ctx, record); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}
	if _, err := broker.Enqueue(ctx, record.TaskID, string(record.Kind), "", record.Priority); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return record
}
