package vod_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gavel/internal/config"
	"gavel/internal/services"
	"gavel/internal/services/vod"
)

func newTestClient(t *testing.T, baseURL string) *vod.Client {
	t.Helper()
	cfg := config.Default()
	cfg.VOD.BaseURL = baseURL
	cfg.VOD.APIKey = "token-123"
	cfg.VOD.Channel = "council"
	return vod.NewClient(&cfg)
}

func TestPublishSubmitsArchivePath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/videos" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer token-123" {
			t.Fatalf("unexpected authorization header: %q", auth)
		}
		var req struct {
			FilePath string `json:"file_path"`
			Title    string `json:"title"`
			Channel  string `json:"channel"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.FilePath != "/mnt/archive/council/meeting.mp4" {
			t.Fatalf("unexpected file path: %q", req.FilePath)
		}
		if req.Channel != "council" {
			t.Fatalf("expected channel fallback, got %q", req.Channel)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "vod-42"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	remoteID, err := client.Publish(context.Background(), "/mnt/archive/council/meeting.mp4", vod.Metadata{Title: "City Council 2026-08-12"})
	if err != nil {
		t.Fatalf("publish returned error: %v", err)
	}
	if remoteID != "vod-42" {
		t.Fatalf("unexpected remote id: %q", remoteID)
	}
}

func TestPublishClassifiesHTTPFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		marker error
	}{
		{"auth", http.StatusUnauthorized, services.ErrAuth},
		{"forbidden", http.StatusForbidden, services.ErrAuth},
		{"not found", http.StatusNotFound, services.ErrNotFound},
		{"server error", http.StatusInternalServerError, services.ErrTransient},
		{"rate limited", http.StatusTooManyRequests, services.ErrTransient},
		{"bad request", http.StatusBadRequest, services.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)
			_, err := client.Publish(context.Background(), "/mnt/archive/a.mp4", vod.Metadata{Title: "A"})
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v, got %v", tc.marker, err)
			}
		})
	}
}

func TestPublishRejectsEmptyPlatformID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": ""})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Publish(context.Background(), "/mnt/archive/a.mp4", vod.Metadata{Title: "A"})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error for missing id, got %v", err)
	}
}

func TestPingClassifiesResponses(t *testing.T) {
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/status" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(status)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping returned error: %v", err)
	}

	status = http.StatusUnauthorized
	if err := client.Ping(context.Background()); !errors.Is(err, services.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestPingTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	cfg := config.Default()
	cfg.VOD.BaseURL = server.URL
	cfg.VOD.APIKey = "token-123"
	client := vod.NewClient(&cfg, vod.WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))

	if err := client.Ping(context.Background()); !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestStatusFetchesVideo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/videos/vod-42":
			_ = json.NewEncoder(w).Encode(vod.Video{ID: "vod-42", State: "ready", Title: "City Council"})
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	video, err := client.Status(context.Background(), "vod-42")
	if err != nil {
		t.Fatalf("status returned error: %v", err)
	}
	if video.State != "ready" {
		t.Fatalf("unexpected state: %q", video.State)
	}

	if _, err := client.Status(context.Background(), "vod-404"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestMissingCredentialsFailFast(t *testing.T) {
	cfg := config.Default()
	cfg.VOD.BaseURL = "https://vod.example.gov"
	cfg.VOD.APIKey = ""
	client := vod.NewClient(&cfg)

	if err := client.Ping(context.Background()); !errors.Is(err, services.ErrAuth) {
		t.Fatalf("expected auth error for missing key, got %v", err)
	}
}
