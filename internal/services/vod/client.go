package vod

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

	"gavel/internal/config"
	"gavel/internal/services"
)

const (
	defaultRequestTimeout = 30 * time.Second
	statusPath            = "/api/v1/status"
	videosPath            = "/api/v1/videos"
	userAgent             = "Gavel/0.1.0"
)

// Metadata describes a finished meeting video for the platform.
type Metadata struct {
	Title      string `json:"title"`
	Channel    string `json:"channel"`
	RecordedAt string `json:"recorded_at,omitempty"`
	SourceName string `json:"source_name,omitempty"`
}

// Video is the platform's view of a published item.
type Video struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

type publishRequest struct {
	FilePath string `json:"file_path"`
	Metadata
}

type publishResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// Client calls the VOD platform API.
type Client struct {
	baseURL string
	apiKey  string
	channel string
	http    *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithBaseURL overrides the configured API base (useful for tests).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		base = strings.TrimSpace(base)
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// NewClient constructs a platform client from configuration.
func NewClient(cfg *config.Config, opts ...Option) *Client {
	client := &Client{http: &http.Client{Timeout: defaultRequestTimeout}}
	if cfg != nil {
		client.baseURL = strings.TrimRight(strings.TrimSpace(cfg.VOD.BaseURL), "/")
		client.apiKey = strings.TrimSpace(cfg.VOD.APIKey)
		client.channel = strings.TrimSpace(cfg.VOD.Channel)
		if cfg.VOD.RequestTimeout > 0 {
			client.http.Timeout = time.Duration(cfg.VOD.RequestTimeout) * time.Second
		}
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Channel returns the configured publishing channel.
func (c *Client) Channel() string {
	return c.channel
}

// Ping issues a lightweight authenticated status request. Health checks use
// it to judge platform reachability.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, statusPath, nil)
	if err != nil {
		return classifyTransport("vod_ping", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return classifyStatus("vod_ping", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Publish submits an archived output file for ingest and returns the
// platform's video id.
func (c *Client) Publish(ctx context.Context, filePath string, meta Metadata) (string, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return "", services.Wrap(services.ErrValidation, "", "vod_publish", "file path required", nil)
	}
	if meta.Channel == "" {
		meta.Channel = c.channel
	}
	payload, err := json.Marshal(publishRequest{FilePath: filePath, Metadata: meta})
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "", "vod_publish", "encode publish request", err)
	}

	resp, err := c.do(ctx, http.MethodPost, videosPath, bytes.NewReader(payload))
	if err != nil {
		return "", classifyTransport("vod_publish", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "", "vod_publish", "read publish response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", classifyStatusBody("vod_publish", resp.StatusCode, body)
	}

	var parsed publishResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", services.Wrap(services.ErrTransient, "", "vod_publish", "decode publish response", err)
	}
	if parsed.Error != "" {
		return "", services.Wrap(services.ErrTransient, "", "vod_publish", "platform error: "+parsed.Error, nil)
	}
	if strings.TrimSpace(parsed.ID) == "" {
		return "", services.Wrap(services.ErrTransient, "", "vod_publish", "platform returned no video id", nil)
	}
	return parsed.ID, nil
}

// Status looks up a published video by its platform id.
func (c *Client) Status(ctx context.Context, remoteID string) (Video, error) {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return Video{}, services.Wrap(services.ErrValidation, "", "vod_status", "remote id required", nil)
	}
	resp, err := c.do(ctx, http.MethodGet, videosPath+"/"+url.PathEscape(remoteID), nil)
	if err != nil {
		return Video{}, classifyTransport("vod_status", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Video{}, services.Wrap(services.ErrTransient, "", "vod_status", "read status response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return Video{}, classifyStatusBody("vod_status", resp.StatusCode, body)
	}
	var video Video
	if err := json.Unmarshal(body, &video); err != nil {
		return Video{}, services.Wrap(services.ErrTransient, "", "vod_status", "decode status response", err)
	}
	return video, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if c == nil || c.baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "vod_request", "vod.base_url is not configured", nil)
	}
	if c.apiKey == "" {
		return nil, services.Wrap(services.ErrAuth, "", "vod_request", "vod.api_key is not configured", nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build vod request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func classifyStatus(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return classifyStatusBody(operation, resp.StatusCode, body)
}

func classifyStatusBody(operation string, status int, body []byte) error {
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(status)
	}
	message = fmt.Sprintf("http %d: %s", status, message)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return services.Wrap(services.ErrAuth, "", operation, message, nil)
	case status == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "", operation, message, nil)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "", operation, message, nil)
	default:
		return services.Wrap(services.ErrValidation, "", operation, message, nil)
	}
}

// classifyTransport maps connection-level failures. Cancellation passes
// through untouched so callers never count an aborted call against the
// platform.
func classifyTransport(operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return services.Wrap(services.ErrTimeout, "", operation, "request timed out", err)
	case errors.Is(err, services.ErrConfiguration), errors.Is(err, services.ErrAuth):
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTimeout, "", operation, "request timed out", err)
	}
	return services.Wrap(services.ErrTransient, "", operation, "platform unreachable", err)
}
