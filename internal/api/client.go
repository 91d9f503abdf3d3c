package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const clientTimeout = 10 * time.Second

var (
	// ErrDaemonUnavailable reports that no daemon answered on the
	// configured API address.
	ErrDaemonUnavailable = errors.New("daemon not reachable")

	// ErrNotFound reports that the daemon does not know the referenced
	// task.
	ErrNotFound = errors.New("not found")
)

// Client calls a running daemon's HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// ClientOption customizes the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// NewClient constructs a client for the daemon listening at bind. Bare
// host:port values get an http scheme; the token is sent as a bearer
// credential when non-empty.
func NewClient(bind, token string, opts ...ClientOption) *Client {
	base := strings.TrimSpace(bind)
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}
	client := &Client{
		baseURL: strings.TrimRight(base, "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: clientTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Status retrieves daemon runtime information.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var status DaemonStatus
	if err := c.getJSON(ctx, "/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Health retrieves the latest component health report.
func (c *Client) Health(ctx context.Context) (*HealthReport, error) {
	var report HealthReport
	if err := c.getJSON(ctx, "/api/health", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListTasks returns tasks, optionally filtered by lifecycle status.
func (c *Client) ListTasks(ctx context.Context, statuses ...string) ([]TaskView, error) {
	query := url.Values{}
	for _, status := range statuses {
		if trimmed := strings.TrimSpace(status); trimmed != "" {
			query.Add("status", trimmed)
		}
	}
	var resp TaskListResponse
	if err := c.getJSON(ctx, "/api/queue", query, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// DescribeTask fetches a single task.
func (c *Client) DescribeTask(ctx context.Context, taskID string) (*TaskView, error) {
	var resp TaskResponse
	if err := c.getJSON(ctx, "/api/queue/"+url.PathEscape(taskID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Task, nil
}

// Enqueue submits a new task to the daemon.
func (c *Client) Enqueue(ctx context.Context, kind string, parameters map[string]string) (*TaskView, error) {
	req := EnqueueRequest{Kind: kind, Parameters: parameters}
	var resp TaskResponse
	if err := c.postJSON(ctx, "/api/queue", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Task, nil
}

// Resume clones a failed or cancelled task into a fresh pending task.
func (c *Client) Resume(ctx context.Context, taskID string) (*TaskView, error) {
	var resp TaskResponse
	if err := c.postJSON(ctx, "/api/queue/"+url.PathEscape(taskID)+"/resume", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Task, nil
}

// Cancel requests cancellation of a task.
func (c *Client) Cancel(ctx context.Context, taskID string) (*TaskView, error) {
	var resp TaskResponse
	if err := c.postJSON(ctx, "/api/queue/"+url.PathEscape(taskID)+"/cancel", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Task, nil
}

// Reorder moves a pending task to the given queue position and returns the
// position it landed on after clamping.
func (c *Client) Reorder(ctx context.Context, taskID string, position int) (int, error) {
	var resp ReorderResponse
	if err := c.postJSON(ctx, "/api/queue/"+url.PathEscape(taskID)+"/reorder", ReorderRequest{Position: position}, &resp); err != nil {
		return 0, err
	}
	return resp.Position, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, target, nil, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	return c.do(ctx, http.MethodPost, path, reader, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("%w: api address not configured", ErrDaemonUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return responseError(resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func responseError(status int, payload []byte) error {
	message := http.StatusText(status)
	var parsed ErrorResponse
	if err := json.Unmarshal(payload, &parsed); err == nil && strings.TrimSpace(parsed.Error) != "" {
		message = parsed.Error
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	}
	return fmt.Errorf("daemon: %s", message)
}

// IsUnavailable reports whether err means the daemon could not be reached at
// all, as opposed to the daemon rejecting the request. Callers use it to fall
// back to direct store access.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDaemonUnavailable) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
