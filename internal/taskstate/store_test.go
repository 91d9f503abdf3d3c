package taskstate_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gavel/internal/config"
	"gavel/internal/kv"
	"gavel/internal/taskstate"
)

func openStore(t *testing.T) *taskstate.Store {
	t.Helper()
	kvStore, err := kv.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open kv store: %v", err)
	}
	t.Cleanup(func() {
		if err := kvStore.Close(); err != nil {
			t.Errorf("close kv store: %v", err)
		}
	})
	cfg := config.Default()
	return taskstate.New(kvStore, &cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	record := taskstate.NewRecord(taskstate.KindVODPipeline, map[string]string{"meeting_id": "cc-2026-08-12"})
	record.RecordProgress("source_path", "/mnt/recordings/cc-2026-08-12.mkv")
	before := record.UpdatedAt

	time.Sleep(5 * time.Millisecond)
	if err := store.SaveTask(ctx, record); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}
	if !record.UpdatedAt.After(before) {
		t.Fatal("SaveTask must stamp UpdatedAt")
	}

	loaded, err := store.LoadTask(ctx, record.TaskID)
	if err != nil {
		t.Fatalf("LoadTask: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected record, got absent")
	}
	if loaded.Kind != taskstate.KindVODPipeline {
		t.Fatalf("kind = %s", loaded.Kind)
	}
	if value, _ := loaded.Parameter("meeting_id"); value != "cc-2026-08-12" {
		t.Fatalf("parameter lost in round trip: %q", value)
	}
	if value, _ := loaded.ProgressValue("source_path"); value != "/mnt/recordings/cc-2026-08-12.mkv" {
		t.Fatalf("progress lost in round trip: %q", value)
	}
}

func TestLoadAbsentTask(t *testing.T) {
	store := openStore(t)

	record, err := store.LoadTask(context.Background(), "no-such-task")
	if err != nil {
		t.Fatalf("LoadTask: %v", err)
	}
	if record != nil {
		t.Fatalf("expected absent record, got %+v", record)
	}
}

func TestSaveRejectsEmptyID(t *testing.T) {
	store := openStore(t)

	if err := store.SaveTask(context.Background(), &taskstate.TaskRecord{}); err == nil {
		t.Fatal("expected error for record without task id")
	}
}

func TestDeleteRemovesRecordAndPriority(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	record := taskstate.NewRecord(taskstate.KindTranscription, nil)
	if err := store.SaveTask(ctx, record); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}
	if err := store.SetPriority(ctx, record.TaskID, 10); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}

	if err := store.DeleteTask(ctx, record.TaskID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}

	loaded, err := store.LoadTask(ctx, record.TaskID)
	if err != nil || loaded != nil {
		t.Fatalf("expected record gone, got %+v err=%v", loaded, err)
	}
	priority, err := store.GetPriority(ctx, record.TaskID)
	if err != nil {
		t.Fatalf("GetPriority: %v", err)
	}
	if priority != taskstate.DefaultPriority {
		t.Fatalf("expected default priority after delete, got %d", priority)
	}
}

func TestPriorityDefaultsAndClamping(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	priority, err := store.GetPriority(ctx, "unseen")
	if err != nil {
		t.Fatalf("GetPriority: %v", err)
	}
	if priority != taskstate.DefaultPriority {
		t.Fatalf("expected default %d, got %d", taskstate.DefaultPriority, priority)
	}

	if err := store.SetPriority(ctx, "task-a", -5); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	priority, err = store.GetPriority(ctx, "task-a")
	if err != nil {
		t.Fatalf("GetPriority: %v", err)
	}
	if priority != taskstate.MinPriority {
		t.Fatalf("expected clamp to %d, got %d", taskstate.MinPriority, priority)
	}

	if err := store.SetPriority(ctx, "task-a", 250); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	priority, _ = store.GetPriority(ctx, "task-a")
	if priority != taskstate.MaxPriority {
		t.Fatalf("expected clamp to %d, got %d", taskstate.MaxPriority, priority)
	}
}

func TestReorderToFrontIsIdempotent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := store.SetPriority(ctx, "task-a", 0); err != nil {
			t.Fatalf("SetPriority attempt %d: %v", i, err)
		}
		priority, err := store.GetPriority(ctx, "task-a")
		if err != nil {
			t.Fatalf("GetPriority attempt %d: %v", i, err)
		}
		if priority != 0 {
			t.Fatalf("attempt %d: expected priority 0, got %d", i, priority)
		}
	}
}

func TestListTasks(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first := taskstate.NewRecord(taskstate.KindVODPipeline, map[string]string{"meeting_id": "cc-1"})
	second := taskstate.NewRecord(taskstate.KindCleanup, nil)
	for _, record := range []*taskstate.TaskRecord{first, second} {
		if err := store.SaveTask(ctx, record); err != nil {
			t.Fatalf("SaveTask: %v", err)
		}
	}

	records, err := store.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	seen := map[string]bool{}
	for _, record := range records {
		seen[record.TaskID] = true
	}
	if !seen[first.TaskID] || !seen[second.TaskID] {
		t.Fatalf("missing records in listing: %v", seen)
	}
}

func TestSaveRefreshesLastWriterWins(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	record := taskstate.NewRecord(taskstate.KindVODPipeline, nil)
	if err := store.SaveTask(ctx, record); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	record.MarkRunning(taskstate.StageDiscover)
	if err := store.SaveTask(ctx, record); err != nil {
		t.Fatalf("SaveTask update: %v", err)
	}

	loaded, err := store.LoadTask(ctx, record.TaskID)
	if err != nil || loaded == nil {
		t.Fatalf("LoadTask: %+v err=%v", loaded, err)
	}
	if loaded.Status != taskstate.StatusRunning || loaded.Stage != taskstate.StageDiscover {
		t.Fatalf("update lost: %s/%s", loaded.Status, loaded.Stage)
	}
}
