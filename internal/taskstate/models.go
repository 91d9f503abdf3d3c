package taskstate

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind partitions tasks for retention and reporting.
type Kind string

const (
	KindTranscription Kind = "transcription"
	KindVODPipeline   Kind = "vod_pipeline"
	KindCleanup       Kind = "cleanup"
	KindOther         Kind = "other"
)

var validKinds = map[Kind]struct{}{
	KindTranscription: {},
	KindVODPipeline:   {},
	KindCleanup:       {},
	KindOther:         {},
}

// ParseKind normalizes user input into a known Kind.
func ParseKind(raw string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if kind == "" {
		return KindVODPipeline, nil
	}
	if _, ok := validKinds[kind]; !ok {
		return "", fmt.Errorf("unknown task kind %q", raw)
	}
	return kind, nil
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further processing will happen for the task.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Stage identifies one step of the processing pipeline. Stages execute in
// declaration order and a task's stage only moves forward; going back means
// recreating the task.
type Stage string

const (
	StageDiscover     Stage = "discover"
	StageTranscribe   Stage = "transcribe"
	StageCaptionEmbed Stage = "caption_embed"
	StageValidate     Stage = "validate"
	StagePublish      Stage = "publish"
	StageCleanup      Stage = "cleanup"
)

var stageOrder = []Stage{
	StageDiscover,
	StageTranscribe,
	StageCaptionEmbed,
	StageValidate,
	StagePublish,
	StageCleanup,
}

// requiredProgress lists the progress keys a completed stage must have
// recorded before the next stage may run.
var requiredProgress = map[Stage][]string{
	StageDiscover:     {"source_path"},
	StageTranscribe:   {"transcript_path"},
	StageCaptionEmbed: {"output_path"},
	StagePublish:      {"remote_id"},
}

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// StageIndex returns the position of stage in the pipeline, or -1 when the
// stage is unknown.
func StageIndex(stage Stage) int {
	for i, candidate := range stageOrder {
		if candidate == stage {
			return i
		}
	}
	return -1
}

// NextStage returns the stage that follows the given one. ok is false when
// stage is the last stage or unknown.
func NextStage(stage Stage) (next Stage, ok bool) {
	idx := StageIndex(stage)
	if idx < 0 || idx+1 >= len(stageOrder) {
		return "", false
	}
	return stageOrder[idx+1], true
}

// RequiredProgress returns the progress keys a completed stage is expected
// to have written. Stages without outputs return nil.
func RequiredProgress(stage Stage) []string {
	keys := requiredProgress[stage]
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

// Retries carries per-concern attempt counters. They live on the record
// rather than in progress so that progress stays append-only stage output.
type Retries struct {
	Admission  int `json:"admission,omitempty"`
	Validation int `json:"validation,omitempty"`
	Publish    int `json:"publish,omitempty"`
	Transient  int `json:"transient,omitempty"`
}

// TaskRecord is the durable description of one unit of pipeline work.
// Parameters are fixed at creation; Progress accumulates stage outputs and
// existing entries are never rewritten.
type TaskRecord struct {
	TaskID        string            `json:"task_id"`
	Kind          Kind              `json:"kind"`
	Stage         Stage             `json:"stage,omitempty"`
	Parameters    map[string]string `json:"parameters,omitempty"`
	Progress      map[string]string `json:"progress,omitempty"`
	Priority      int               `json:"priority"`
	Status        Status            `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Retries       Retries           `json:"retries,omitempty"`
}

// NewRecord creates a pending record with a fresh task ID and the default
// priority. The parameters map is copied so later caller mutation cannot
// leak into the record.
func NewRecord(kind Kind, parameters map[string]string) *TaskRecord {
	now := time.Now().UTC()
	return &TaskRecord{
		TaskID:     uuid.NewString(),
		Kind:       kind,
		Parameters: copyStringMap(parameters),
		Priority:   DefaultPriority,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy of the record.
func (r *TaskRecord) Clone() *TaskRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Parameters = copyStringMap(r.Parameters)
	out.Progress = copyStringMap(r.Progress)
	return &out
}

// RecordProgress appends a stage output. Existing keys are left untouched so
// that recorded outputs stay stable across retries.
func (r *TaskRecord) RecordProgress(key, value string) {
	if r.Progress == nil {
		r.Progress = make(map[string]string)
	}
	if _, exists := r.Progress[key]; exists {
		return
	}
	r.Progress[key] = value
}

// ProgressValue returns a recorded stage output.
func (r *TaskRecord) ProgressValue(key string) (string, bool) {
	if r.Progress == nil {
		return "", false
	}
	value, ok := r.Progress[key]
	return value, ok
}

// Parameter returns an immutable creation-time parameter.
func (r *TaskRecord) Parameter(key string) (string, bool) {
	if r.Parameters == nil {
		return "", false
	}
	value, ok := r.Parameters[key]
	return value, ok
}

// MarkRunning records that a worker picked the task up for the given stage.
func (r *TaskRecord) MarkRunning(stage Stage) {
	r.Stage = stage
	r.Status = StatusRunning
}

// MarkFailed moves the record to failed with a failure reason from the error
// taxonomy.
func (r *TaskRecord) MarkFailed(reason string) {
	r.Status = StatusFailed
	r.FailureReason = reason
}

// MarkSucceeded moves the record to succeeded and clears any stale failure
// reason from earlier attempts.
func (r *TaskRecord) MarkSucceeded() {
	r.Status = StatusSucceeded
	r.FailureReason = ""
}

// MarkCancelled moves the record to cancelled.
func (r *TaskRecord) MarkCancelled() {
	r.Status = StatusCancelled
}

// CompletedThrough reports whether the record carries the required progress
// for every stage up to and including the given stage.
func (r *TaskRecord) CompletedThrough(stage Stage) bool {
	idx := StageIndex(stage)
	if idx < 0 {
		return false
	}
	for _, done := range stageOrder[:idx+1] {
		for _, key := range requiredProgress[done] {
			if _, ok := r.ProgressValue(key); !ok {
				return false
			}
		}
	}
	return true
}

// ResumePoint determines the first stage that has not completed, judged by
// the required progress keys. ok is false when every stage already ran.
func (r *TaskRecord) ResumePoint() (stage Stage, ok bool) {
	for _, candidate := range stageOrder {
		keys := requiredProgress[candidate]
		if len(keys) == 0 {
			// Stages without recorded outputs re-run on resume; they only
			// count as done once the whole record succeeded.
			if r.Stage == "" || StageIndex(candidate) >= StageIndex(r.Stage) {
				return candidate, true
			}
			continue
		}
		for _, key := range keys {
			if _, found := r.ProgressValue(key); !found {
				return candidate, true
			}
		}
	}
	return "", false
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
