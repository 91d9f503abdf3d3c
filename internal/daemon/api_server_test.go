package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gavel/internal/api"
	"gavel/internal/services"
	"gavel/internal/taskstate"
)

type taskReaderStub struct {
	records []*taskstate.TaskRecord
}

func (s *taskReaderStub) ListTasks(context.Context) ([]*taskstate.TaskRecord, error) {
	return s.records, nil
}

func (s *taskReaderStub) LoadTask(_ context.Context, taskID string) (*taskstate.TaskRecord, error) {
	for _, record := range s.records {
		if record.TaskID == taskID {
			return record, nil
		}
	}
	return nil, nil
}

func stubServer(records ...*taskstate.TaskRecord) *apiServer {
	return &apiServer{tasks: api.NewTaskService(&taskReaderStub{records: records}, nil)}
}

func TestAPIServerHandleQueue(t *testing.T) {
	record := taskstate.NewRecord(taskstate.KindVODPipeline, map[string]string{"source_path": "/mnt/recordings/a.mp4"})
	srv := stubServer(record)

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	w := httptest.NewRecorder()
	srv.handleQueue(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp api.TaskListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(resp.Tasks))
	}
	if resp.Tasks[0].TaskID != record.TaskID {
		t.Fatalf("unexpected task id: %q", resp.Tasks[0].TaskID)
	}
}

func TestAPIServerHandleQueueFiltersStatus(t *testing.T) {
	pending := taskstate.NewRecord(taskstate.KindVODPipeline, map[string]string{"source_path": "/mnt/recordings/a.mp4"})
	failed := taskstate.NewRecord(taskstate.KindVODPipeline, map[string]string{"source_path": "/mnt/recordings/b.mp4"})
	failed.MarkFailed(services.ReasonValidationFailed)
	srv := stubServer(pending, failed)

	req := httptest.NewRequest(http.MethodGet, "/api/queue?status=failed", nil)
	w := httptest.NewRecorder()
	srv.handleQueue(w, req)

	var resp api.TaskListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].Status != string(taskstate.StatusFailed) {
		t.Fatalf("unexpected filtered tasks: %+v", resp.Tasks)
	}
}

func TestAPIServerDescribeTask(t *testing.T) {
	record := taskstate.NewRecord(taskstate.KindTranscription, map[string]string{"source_path": "/mnt/recordings/a.mp4"})
	srv := stubServer(record)

	req := httptest.NewRequest(http.MethodGet, "/api/queue/"+record.TaskID, nil)
	w := httptest.NewRecorder()
	srv.handleQueueItem(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp api.TaskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Task.Kind != string(taskstate.KindTranscription) {
		t.Fatalf("unexpected kind: %q", resp.Task.Kind)
	}
}

func TestAPIServerDescribeTaskNotFound(t *testing.T) {
	srv := stubServer()

	req := httptest.NewRequest(http.MethodGet, "/api/queue/unknown", nil)
	w := httptest.NewRecorder()
	srv.handleQueueItem(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAPIServerRejectsNestedQueuePaths(t *testing.T) {
	srv := stubServer()

	req := httptest.NewRequest(http.MethodGet, "/api/queue/id/extra/deep", nil)
	w := httptest.NewRecorder()
	srv.handleQueueItem(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for nested path, got %d", w.Code)
	}
}

func TestAPIServerServiceErrorMapping(t *testing.T) {
	srv := &apiServer{}
	cases := []struct {
		err  error
		want int
	}{
		{services.Wrap(services.ErrNotFound, "", "cancel", "task x not found", nil), http.StatusNotFound},
		{services.Wrap(services.ErrValidation, "", "cancel", "task is already cancelled", nil), http.StatusBadRequest},
		{services.Wrap(services.ErrNotResumable, "", "resume", "task is running", nil), http.StatusConflict},
		{services.Wrap(services.ErrStorageUnavailable, "", "enqueue", "create queue entry", nil), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		srv.writeServiceError(w, tc.err)
		if w.Code != tc.want {
			t.Fatalf("error %v mapped to %d, want %d", tc.err, w.Code, tc.want)
		}
		var resp api.ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Error == "" {
			t.Fatalf("error payload not decodable: %v body=%q", err, w.Body.String())
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	handler := authMiddleware("secret", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", w.Code)
	}
}

func TestAuthMiddlewareDisabledWithoutToken(t *testing.T) {
	handler := authMiddleware("", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through without token, got %d", w.Code)
	}
}
