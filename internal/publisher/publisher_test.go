package publisher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gavel/internal/breaker"
	"gavel/internal/config"
	"gavel/internal/logging"
	"gavel/internal/services"
	"gavel/internal/services/vod"
	"gavel/internal/taskstate"
)

type stubClient struct {
	remoteID string
	err      error

	calls   int
	gotPath string
	gotMeta vod.Metadata
}

func (s *stubClient) Publish(ctx context.Context, filePath string, meta vod.Metadata) (string, error) {
	s.calls++
	s.gotPath = filePath
	s.gotMeta = meta
	if s.err != nil {
		return "", s.err
	}
	return s.remoteID, nil
}

func (s *stubClient) Channel() string { return "city-council" }

func newPublishSetup(t *testing.T, threshold int) (*config.Config, *taskstate.TaskRecord, *breaker.Breaker, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Workdir = t.TempDir()
	cfg.Mounts.Archive = t.TempDir()
	cfg.VOD.BaseURL = "https://vod.example.gov"
	cfg.VOD.APIKey = "token"

	output := filepath.Join(t.TempDir(), "city-council-2026-08-12-captioned.mp4")
	if err := os.WriteFile(output, []byte("captioned video"), 0o644); err != nil {
		t.Fatalf("write output: %v", err)
	}

	record := taskstate.NewRecord(taskstate.KindVODPipeline, nil)
	record.RecordProgress("output_path", output)

	circuit := breaker.New("vod", breaker.Options{
		FailureThreshold: threshold,
		FailureWindow:    time.Minute,
		Cooldown:         time.Hour,
	}, nil, logging.NewNop())

	return &cfg, record, circuit, output
}

func TestPublisherArchivesAndPublishes(t *testing.T) {
	cfg, record, circuit, output := newPublishSetup(t, 5)
	client := &stubClient{remoteID: "vid-118"}
	p := NewPublisher(cfg, logging.NewNop(), client, circuit)

	if err := p.Prepare(context.Background(), record); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := p.Execute(context.Background(), record); err != nil {
		t.Fatalf("execute: %v", err)
	}

	archivePath, ok := record.ProgressValue("archive_path")
	if !ok {
		t.Fatal("archive_path progress missing")
	}
	want := filepath.Join(cfg.Mounts.Archive, "city-council", "city-council-2026-08-12.mp4")
	if archivePath != want {
		t.Fatalf("archive path = %q, want %q", archivePath, want)
	}
	if _, err := os.Stat(archivePath); err != nil {
		t.Fatalf("archived output missing: %v", err)
	}
	if _, err := os.Stat(output); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("workdir output should have moved: %v", err)
	}

	if client.gotPath != archivePath {
		t.Fatalf("platform told about %q, want %q", client.gotPath, archivePath)
	}
	if client.gotMeta.Title != "City Council 2026-08-12" {
		t.Fatalf("unexpected title %q", client.gotMeta.Title)
	}
	if client.gotMeta.RecordedAt != "2026-08-12T00:00:00Z" {
		t.Fatalf("unexpected recorded_at %q", client.gotMeta.RecordedAt)
	}
	if got, _ := record.ProgressValue("remote_id"); got != "vid-118" {
		t.Fatalf("remote_id = %q, want vid-118", got)
	}
}

func TestPublisherPausesWhenCircuitOpen(t *testing.T) {
	cfg, record, circuit, output := newPublishSetup(t, 1)
	circuit.RecordFailure(context.Background())
	if circuit.State() != breaker.StateOpen {
		t.Fatal("test setup: circuit should be open")
	}

	client := &stubClient{remoteID: "vid-1"}
	p := NewPublisher(cfg, logging.NewNop(), client, circuit)
	err := p.Execute(context.Background(), record)
	if !errors.Is(err, services.ErrCircuitOpen) {
		t.Fatalf("expected circuit-open error, got %v", err)
	}

	if client.calls != 0 {
		t.Fatal("platform must not be called while the circuit is open")
	}
	if _, err := os.Stat(output); err != nil {
		t.Fatalf("output must stay in place while paused: %v", err)
	}
	if _, ok := record.ProgressValue("archive_path"); ok {
		t.Fatal("paused publish must leave progress unchanged")
	}
	if _, ok := record.ProgressValue("remote_id"); ok {
		t.Fatal("paused publish must leave progress unchanged")
	}
}

func TestPublisherRetriesWithoutRepeatingTheMove(t *testing.T) {
	cfg, record, circuit, _ := newPublishSetup(t, 5)
	client := &stubClient{err: services.Wrap(services.ErrTransient, "publish", "register", "gateway timeout", nil)}
	p := NewPublisher(cfg, logging.NewNop(), client, circuit)

	if err := p.Execute(context.Background(), record); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient publish failure, got %v", err)
	}
	archivePath, ok := record.ProgressValue("archive_path")
	if !ok {
		t.Fatal("failed publish should still record the completed move")
	}
	if _, ok := record.ProgressValue("remote_id"); ok {
		t.Fatal("failed publish must not record remote_id")
	}

	client.err = nil
	client.remoteID = "vid-2"
	if err := p.Execute(context.Background(), record); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if client.gotPath != archivePath {
		t.Fatalf("retry should publish the archived copy, got %q", client.gotPath)
	}
	if got, _ := record.ProgressValue("remote_id"); got != "vid-2" {
		t.Fatalf("remote_id = %q, want vid-2", got)
	}
}

func TestPublisherTripsBreakerAfterThreshold(t *testing.T) {
	cfg, record, circuit, _ := newPublishSetup(t, 2)
	client := &stubClient{err: services.Wrap(services.ErrTransient, "publish", "register", "503", nil)}
	p := NewPublisher(cfg, logging.NewNop(), client, circuit)

	for i := 0; i < 2; i++ {
		if err := p.Execute(context.Background(), record); errors.Is(err, services.ErrCircuitOpen) {
			t.Fatalf("call %d should reach the platform", i)
		}
	}
	if circuit.State() != breaker.StateOpen {
		t.Fatalf("circuit should be open after %d failures", 2)
	}
	calls := client.calls
	if err := p.Execute(context.Background(), record); !errors.Is(err, services.ErrCircuitOpen) {
		t.Fatalf("expected short-circuit, got %v", err)
	}
	if client.calls != calls {
		t.Fatal("open circuit must not invoke the platform")
	}
}

func TestPublisherHealthCheck(t *testing.T) {
	cfg, _, circuit, _ := newPublishSetup(t, 5)
	p := NewPublisher(cfg, logging.NewNop(), &stubClient{}, circuit)
	if health := p.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected healthy, got %s", health.Detail)
	}

	cfg.VOD.APIKey = ""
	if health := p.HealthCheck(context.Background()); health.Ready {
		t.Fatal("missing api key should be unhealthy")
	}
}

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		path      string
		wantTitle string
		wantDate  string
		wantOK    bool
	}{
		{"city-council-2026-08-12.mp4", "City Council 2026-08-12", "2026-08-12", true},
		{"planning_commission-2026-01-05-captioned.mp4", "Planning Commission 2026-01-05", "2026-01-05", true},
		{"/mnt/archive/school-board-2025-12-01.mkv", "School Board 2025-12-01", "2025-12-01", true},
		{"special-session.mp4", "Special Session", "", false},
	}
	for _, tc := range cases {
		title, recordedAt, ok := DeriveTitle(tc.path)
		if title != tc.wantTitle {
			t.Errorf("%s: title = %q, want %q", tc.path, title, tc.wantTitle)
		}
		if ok != tc.wantOK {
			t.Errorf("%s: ok = %v, want %v", tc.path, ok, tc.wantOK)
		}
		if tc.wantOK && recordedAt.Format("2006-01-02") != tc.wantDate {
			t.Errorf("%s: date = %s, want %s", tc.path, recordedAt.Format("2006-01-02"), tc.wantDate)
		}
	}
}
