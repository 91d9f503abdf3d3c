package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientListTasksSendsTokenAndFilters(t *testing.T) {
	var gotAuth string
	var gotStatuses []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotStatuses = r.URL.Query()["status"]
		json.NewEncoder(w).Encode(TaskListResponse{Tasks: []TaskView{{TaskID: "t1", Status: "pending"}}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret")
	tasks, err := client.ListTasks(context.Background(), "pending", "running")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].TaskID != "t1" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if len(gotStatuses) != 2 || gotStatuses[0] != "pending" || gotStatuses[1] != "running" {
		t.Fatalf("unexpected status filters: %v", gotStatuses)
	}
}

func TestClientAddsSchemeToBareBind(t *testing.T) {
	client := NewClient("127.0.0.1:7489", "")
	if client.baseURL != "http://127.0.0.1:7489" {
		t.Fatalf("unexpected base url: %q", client.baseURL)
	}
}

func TestClientDescribeTaskNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "task missing not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	_, err := client.DescribeTask(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClientSurfacesDaemonError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "task is running; only pending tasks reorder"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	_, err := client.Reorder(context.Background(), "t1", 3)
	if err == nil || err.Error() != "daemon: task is running; only pending tasks reorder" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientReportsUnavailableDaemon(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	client := NewClient(addr, "")
	_, err := client.Status(context.Background())
	if err == nil {
		t.Fatal("expected error against closed listener")
	}
	if !IsUnavailable(err) {
		t.Fatalf("expected IsUnavailable for %v", err)
	}
}

func TestClientEnqueuePostsBody(t *testing.T) {
	var got EnqueueRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(TaskResponse{Task: TaskView{TaskID: "new", Status: "pending"}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	task, err := client.Enqueue(context.Background(), "vod_pipeline", map[string]string{"source_path": "/mnt/recordings/a.mp4"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if task.TaskID != "new" {
		t.Fatalf("unexpected task: %+v", task)
	}
	if got.Kind != "vod_pipeline" || got.Parameters["source_path"] != "/mnt/recordings/a.mp4" {
		t.Fatalf("unexpected request body: %+v", got)
	}
}
