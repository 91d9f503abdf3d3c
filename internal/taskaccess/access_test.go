package taskaccess_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gavel/internal/api"
	"gavel/internal/taskaccess"
	"gavel/internal/taskstate"
	"gavel/internal/testsupport"
)

func TestOpenUsesDirectAccessWithoutClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	session, err := taskaccess.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer session.Close()

	if !session.Direct {
		t.Fatal("expected direct session without a client")
	}
}

func TestOpenFallsBackWhenDaemonUnreachable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client := api.NewClient("127.0.0.1:1", "")

	session, err := taskaccess.Open(context.Background(), cfg, client)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer session.Close()

	if !session.Direct {
		t.Fatal("expected fallback to direct access")
	}
}

func TestOpenPrefersRespondingDaemon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"running":true}`))
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	session, err := taskaccess.Open(context.Background(), cfg, api.NewClient(srv.URL, ""))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer session.Close()

	if session.Direct {
		t.Fatal("expected daemon-backed session")
	}
	status, err := session.Access.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected running status from daemon")
	}
}

func TestOpenSurfacesDaemonRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	_, err := taskaccess.Open(context.Background(), cfg, api.NewClient(srv.URL, "wrong"))
	if err == nil {
		t.Fatal("expected refusal to surface instead of falling back")
	}
	if !strings.Contains(err.Error(), "unauthorized") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDirectAccessTaskRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	source := testsupport.WriteRecording(t, cfg.Mounts.Recordings, "school-board-2026-08-05.mp4", 4096)

	session, err := taskaccess.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer session.Close()
	access := session.Access

	ctx := context.Background()
	task, err := access.Enqueue(ctx, "", map[string]string{"source_path": source})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if task.TaskID == "" || task.Status != string(taskstate.StatusPending) {
		t.Fatalf("unexpected enqueued task: %+v", task)
	}
	if task.Kind != string(taskstate.KindVODPipeline) {
		t.Fatalf("blank kind should default to the pipeline kind, got %q", task.Kind)
	}

	tasks, err := access.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 || tasks[0].TaskID != task.TaskID {
		t.Fatalf("unexpected list: %+v", tasks)
	}

	position, err := access.Reorder(ctx, task.TaskID, 3)
	if err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	if position != 3 {
		t.Fatalf("unexpected position: %d", position)
	}

	cancelled, err := access.Cancel(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != string(taskstate.StatusCancelled) {
		t.Fatalf("unexpected status after cancel: %q", cancelled.Status)
	}

	resumed, err := access.Resume(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.TaskID == task.TaskID {
		t.Fatal("resume should mint a new task id")
	}

	if _, err := access.Describe(ctx, task.TaskID); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for the retired task, got %v", err)
	}
	view, err := access.Describe(ctx, resumed.TaskID)
	if err != nil {
		t.Fatalf("Describe resumed: %v", err)
	}
	if view.Status != string(taskstate.StatusPending) {
		t.Fatalf("unexpected resumed status: %q", view.Status)
	}
}

func TestDirectAccessStatusAndHealth(t *testing.T) {
	vodStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/status" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer vodStub.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithVOD(vodStub.URL, "key"))

	session, err := taskaccess.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer session.Close()

	ctx := context.Background()
	status, err := session.Access.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Running {
		t.Fatal("direct status must not report a running daemon")
	}
	if status.StateDBPath != cfg.Paths.StateDB {
		t.Fatalf("unexpected state db path: %q", status.StateDBPath)
	}
	if len(status.Dependencies) != 3 {
		t.Fatalf("expected three dependency rows, got %+v", status.Dependencies)
	}

	report, err := session.Access.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	seen := make(map[string]bool, len(report.Components))
	for _, component := range report.Components {
		seen[component.ComponentID] = true
	}
	for _, want := range []string{"mount:recordings", "mount:archive", "vod_api", "system"} {
		if !seen[want] {
			t.Fatalf("missing component %q in %+v", want, report.Components)
		}
	}
}
