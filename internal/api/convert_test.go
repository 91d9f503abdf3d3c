package api

import (
	"testing"
	"time"

	"gavel/internal/health"
	"gavel/internal/queue"
	"gavel/internal/stage"
	"gavel/internal/taskstate"
)

func TestFromTaskRecord(t *testing.T) {
	record := taskstate.NewRecord(taskstate.KindVODPipeline, map[string]string{
		"source_path": "/mnt/recordings/council-2026-08-12.mp4",
	})
	record.MarkRunning(taskstate.StageTranscribe)
	record.RecordProgress("source_path", "/work/tasks/"+record.TaskID+"/council-2026-08-12.mp4")

	view := FromTaskRecord(record)
	if view.TaskID != record.TaskID {
		t.Fatalf("unexpected task id: %q", view.TaskID)
	}
	if view.Kind != string(taskstate.KindVODPipeline) {
		t.Fatalf("unexpected kind: %q", view.Kind)
	}
	if view.Stage != string(taskstate.StageTranscribe) {
		t.Fatalf("unexpected stage: %q", view.Stage)
	}
	if view.Status != string(taskstate.StatusRunning) {
		t.Fatalf("unexpected status: %q", view.Status)
	}
	if view.Parameters["source_path"] != "/mnt/recordings/council-2026-08-12.mp4" {
		t.Fatalf("unexpected parameters: %v", view.Parameters)
	}
	if _, ok := view.Progress["source_path"]; !ok {
		t.Fatalf("expected staged path in progress, got %v", view.Progress)
	}
	if view.CreatedAt == "" || view.UpdatedAt == "" {
		t.Fatal("expected timestamps to be formatted")
	}

	// DTO maps must be copies, not aliases.
	view.Parameters["source_path"] = "mutated"
	if record.Parameters["source_path"] == "mutated" {
		t.Fatal("view mutation leaked into record")
	}
}

func TestFromBrokerTask(t *testing.T) {
	expires := time.Date(2026, 8, 12, 19, 30, 0, 0, time.UTC)
	entry := FromBrokerTask(&queue.Task{
		TaskID:         "abc",
		Status:         queue.StatusLeased,
		Priority:       3,
		Attempts:       2,
		WorkerID:       "worker-1",
		AvailableAt:    expires.Add(-time.Hour),
		LeaseExpiresAt: &expires,
	})
	if entry == nil {
		t.Fatal("expected entry")
	}
	if entry.State != string(queue.StatusLeased) {
		t.Fatalf("unexpected state: %q", entry.State)
	}
	if entry.WorkerID != "worker-1" || entry.Attempts != 2 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.LeaseExpiresAt == "" {
		t.Fatal("expected lease expiry to be formatted")
	}
	if FromBrokerTask(nil) != nil {
		t.Fatal("nil task should convert to nil entry")
	}
}

func TestFromHealthRecordsAggregatesWorst(t *testing.T) {
	report := FromHealthRecords([]health.Record{
		{ComponentID: health.ComponentVODAPI, Status: health.StatusHealthy, CheckedAt: time.Now()},
		{ComponentID: health.ComponentRecordingsMount, Status: health.StatusDegraded, CheckedAt: time.Now()},
		{ComponentID: health.ComponentSystem, Status: health.StatusHealthy, CheckedAt: time.Now()},
	})
	if report.Aggregate != string(health.StatusDegraded) {
		t.Fatalf("unexpected aggregate: %q", report.Aggregate)
	}
	if len(report.Components) != 3 {
		t.Fatalf("unexpected component count: %d", len(report.Components))
	}
	if report.Components[0].ComponentID != health.ComponentRecordingsMount {
		t.Fatalf("expected components sorted by id, got %q first", report.Components[0].ComponentID)
	}
}

func TestFromHealthRecordsEmptyIsUnhealthy(t *testing.T) {
	report := FromHealthRecords(nil)
	if report.Aggregate != string(health.StatusUnhealthy) {
		t.Fatalf("unexpected aggregate for empty snapshot: %q", report.Aggregate)
	}
}

func TestStageHealthSliceSorts(t *testing.T) {
	out := StageHealthSlice([]stage.Health{
		stage.Unhealthy("transcribe", "uvx missing"),
		stage.Healthy("discover"),
	})
	if len(out) != 2 {
		t.Fatalf("unexpected length: %d", len(out))
	}
	if out[0].Name != "discover" || out[1].Name != "transcribe" {
		t.Fatalf("expected sorted names, got %+v", out)
	}
	if out[1].Ready || out[1].Detail != "uvx missing" {
		t.Fatalf("unexpected detail carry: %+v", out[1])
	}
}

func TestFormatTime(t *testing.T) {
	if FormatTime(time.Time{}) != "" {
		t.Fatal("zero time should format to empty string")
	}
	formatted := FormatTime(time.Date(2026, 8, 12, 18, 0, 0, 0, time.UTC))
	if formatted != "2026-08-12T18:00:00.000Z" {
		t.Fatalf("unexpected format: %q", formatted)
	}
}
