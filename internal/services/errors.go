package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrValidation         = errors.New("validation error")
	ErrAuth               = errors.New("authentication failed")
	ErrNotFound           = errors.New("not found")
	ErrConfiguration      = errors.New("configuration error")
	ErrTimeout            = errors.New("timeout")
	ErrTransient          = errors.New("transient failure")

	// ErrCircuitOpen reports that the publishing breaker is refusing calls.
	// It is a suspension signal, not a terminal failure.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrNotResumable reports that a task's status or progress rules out
	// recreation through resume.
	ErrNotResumable = errors.New("task not resumable")
)

// Failure reasons persisted on failed task records.
const (
	ReasonStorageUnavailable = "storage_unavailable"
	ReasonValidationFailed   = "validation_failed"
	ReasonTransientIO        = "transient_io"
	ReasonAuthFailed         = "auth_failed"
	ReasonUnknown            = "unknown"
)

type stageError struct {
	marker    error
	stage     string
	operation string
	message   string
	cause     error
}

func (e *stageError) Error() string {
	detail := buildDetail(e.stage, e.operation, e.message)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.marker.Error(), detail, e.cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.marker.Error(), detail)
}

func (e *stageError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.marker, e.cause}
	}
	return []error{e.marker}
}

// Wrap builds an error that carries stage context while tagging it with the
// provided marker for later classification. The marker should be one of the
// exported sentinel errors above; nil defaults to ErrTransient.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &stageError{
		marker:    marker,
		stage:     strings.TrimSpace(stage),
		operation: strings.TrimSpace(operation),
		message:   strings.TrimSpace(message),
		cause:     err,
	}
}

// FailureReason maps an error to the reason string persisted on the task
// record when the error terminates the task.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ReasonUnknown
	case errors.Is(err, ErrStorageUnavailable):
		return ReasonStorageUnavailable
	case errors.Is(err, ErrValidation):
		return ReasonValidationFailed
	case errors.Is(err, ErrAuth):
		return ReasonAuthFailed
	case errors.Is(err, ErrTransient), errors.Is(err, ErrTimeout), errors.Is(err, ErrCircuitOpen):
		return ReasonTransientIO
	default:
		return ReasonUnknown
	}
}

// IsRetryable reports whether the error names a condition that clears on its
// own, making a delayed re-queue worthwhile.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrCircuitOpen)
}

// ErrorDetails carries the structured fields extracted from a wrapped stage error.
type ErrorDetails struct {
	Reason    string
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     error
}

// Details extracts structured fields from err for logging and API payloads.
// Unwrapped errors still classify, with the raw error text as the message.
func Details(err error) ErrorDetails {
	details := ErrorDetails{Reason: FailureReason(err)}
	var se *stageError
	if errors.As(err, &se) {
		details.Stage = se.stage
		details.Operation = se.operation
		details.Message = se.message
		details.Cause = se.cause
	} else if err != nil {
		details.Message = err.Error()
	}
	details.Hint = hintFor(err)
	return details
}

func hintFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStorageUnavailable):
		return "verify the recordings mount and free space, then resume the task"
	case errors.Is(err, ErrAuth):
		return "check vod.api_key and platform credentials"
	case errors.Is(err, ErrCircuitOpen):
		return "publishing API is failing; the breaker retries after cool-down"
	case errors.Is(err, ErrValidation):
		return "inspect the caption output in the task workdir"
	case errors.Is(err, ErrConfiguration):
		return "fix the configuration and restart the daemon"
	case errors.Is(err, ErrNotFound):
		return "confirm the referenced resource still exists"
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrTransient):
		return "transient condition; retry or resume the task"
	default:
		return "check logs for details"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage != "" {
		parts = append(parts, stage)
	}
	if operation != "" {
		parts = append(parts, operation)
	}
	if message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
