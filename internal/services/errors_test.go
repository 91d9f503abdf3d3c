package services_test

import (
	"errors"
	"strings"
	"testing"

	"gavel/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "caption_embed", "mux", "ffmpeg exited", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"caption_embed", "mux", "ffmpeg exited", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapNilMarkerDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "publish", "upload", "connection reset", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient default, got %v", err)
	}
}

func TestFailureReasonMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		reason string
	}{
		{"storage", services.Wrap(services.ErrStorageUnavailable, "discover", "scan", "mount gone", nil), services.ReasonStorageUnavailable},
		{"validation", services.Wrap(services.ErrValidation, "validate", "probe", "no caption track", nil), services.ReasonValidationFailed},
		{"auth", services.Wrap(services.ErrAuth, "publish", "upload", "401", nil), services.ReasonAuthFailed},
		{"transient", services.Wrap(services.ErrTransient, "transcribe", "extract", "io", errors.New("io")), services.ReasonTransientIO},
		{"timeout", services.Wrap(services.ErrTimeout, "publish", "upload", "deadline", nil), services.ReasonTransientIO},
		{"circuit", services.ErrCircuitOpen, services.ReasonTransientIO},
		{"plain", errors.New("mystery"), services.ReasonUnknown},
		{"nil", nil, services.ReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.FailureReason(tc.err); got != tc.reason {
				t.Fatalf("FailureReason = %q, want %q", got, tc.reason)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !services.IsRetryable(services.ErrCircuitOpen) {
		t.Fatal("circuit open should be retryable")
	}
	if !services.IsRetryable(services.Wrap(services.ErrTimeout, "publish", "upload", "", nil)) {
		t.Fatal("timeout should be retryable")
	}
	if services.IsRetryable(services.Wrap(services.ErrValidation, "validate", "probe", "", nil)) {
		t.Fatal("validation failures should not be retryable")
	}
	if services.IsRetryable(services.Wrap(services.ErrStorageUnavailable, "discover", "scan", "", nil)) {
		t.Fatal("storage failures fail the task for later resume")
	}
}

func TestDetailsExtraction(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := services.Wrap(services.ErrAuth, "publish", "upload", "token rejected", cause)

	details := services.Details(err)
	if details.Reason != services.ReasonAuthFailed {
		t.Fatalf("reason = %q", details.Reason)
	}
	if details.Stage != "publish" || details.Operation != "upload" {
		t.Fatalf("unexpected context: %+v", details)
	}
	if details.Message != "token rejected" {
		t.Fatalf("message = %q", details.Message)
	}
	if details.Cause != cause {
		t.Fatalf("cause not preserved: %v", details.Cause)
	}
	if details.Hint == "" || !strings.Contains(details.Hint, "vod.api_key") {
		t.Fatalf("expected credential hint, got %q", details.Hint)
	}
}

func TestDetailsPlainError(t *testing.T) {
	details := services.Details(errors.New("boom"))
	if details.Reason != services.ReasonUnknown {
		t.Fatalf("reason = %q", details.Reason)
	}
	if details.Message != "boom" {
		t.Fatalf("message = %q", details.Message)
	}
}
