// Package transcriber drives the transcribe stage: extract the meeting audio,
// run WhisperX over it, and record the subtitle artifact for the caption
// stage.
package transcriber

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gavel/internal/config"
	"gavel/internal/logging"
	"gavel/internal/services"
	"gavel/internal/services/whisperx"
	"gavel/internal/stage"
	"gavel/internal/staging"
	"gavel/internal/taskstate"
)

// SpeechService is the slice of the WhisperX service the handler needs.
type SpeechService interface {
	ExtractAudio(ctx context.Context, source, dest string) error
	Transcribe(ctx context.Context, source, outputDir string) (whisperx.Result, error)
	Model() string
	CUDAEnabled() bool
}

// Transcriber is the transcribe stage handler.
type Transcriber struct {
	cfg     *config.Config
	logger  *slog.Logger
	speech  SpeechService
	timeout time.Duration
}

// NewTranscriber constructs the transcribe handler with a WhisperX service
// built from the configuration.
func NewTranscriber(cfg *config.Config, logger *slog.Logger) *Transcriber {
	svc := whisperx.NewService(whisperx.Config{
		Model:       cfg.Transcriber.Model,
		CUDAEnabled: cfg.Transcriber.CUDAEnabled,
		Language:    cfg.Transcriber.Language,
		CacheDir:    cfg.Transcriber.CacheDir,
	}, cfg.Captions.FFmpegBinary)
	return NewTranscriberWithService(cfg, logger, svc)
}

// NewTranscriberWithService allows injecting the speech service (used in tests).
func NewTranscriberWithService(cfg *config.Config, logger *slog.Logger, speech SpeechService) *Transcriber {
	if logger != nil {
		logger = logger.With(logging.String(logging.FieldComponent, "transcriber"))
	}
	timeout := time.Duration(cfg.Transcriber.Timeout) * time.Second
	return &Transcriber{cfg: cfg, logger: logger, speech: speech, timeout: timeout}
}

// Stage identifies the pipeline stage this handler drives.
func (t *Transcriber) Stage() taskstate.Stage {
	return taskstate.StageTranscribe
}

// Prepare verifies the staged recording is still on disk.
func (t *Transcriber) Prepare(ctx context.Context, record *taskstate.TaskRecord) error {
	_, err := stage.RequireFile(record, t.Stage(), "source_path")
	return err
}

// Execute extracts audio and transcribes it. The WAV intermediate is removed
// on success; it can outweigh the transcript a thousandfold.
func (t *Transcriber) Execute(ctx context.Context, record *taskstate.TaskRecord) error {
	logger := logging.WithContext(ctx, t.logger)

	source, err := stage.RequireFile(record, t.Stage(), "source_path")
	if err != nil {
		return err
	}
	taskDir, err := staging.EnsureTaskDir(t.cfg.Paths.Workdir, record.TaskID)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, string(t.Stage()), "ensure workdir",
			"failed to create task working directory", err)
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	audioPath := filepath.Join(taskDir, base+".wav")
	if err := t.speech.ExtractAudio(ctx, source, audioPath); err != nil {
		return t.classify(ctx, "extract audio", "audio extraction failed", err)
	}

	logger.Info("transcription started",
		logging.String("model", t.speech.Model()),
		logging.Bool("cuda", t.speech.CUDAEnabled()),
		logging.String(logging.FieldEventType, "transcription_started"),
	)
	started := time.Now()
	result, err := t.speech.Transcribe(ctx, audioPath, taskDir)
	if err != nil {
		return t.classify(ctx, "transcribe", "whisperx run failed", err)
	}
	if err := os.Remove(audioPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("extracted audio not removed", logging.Error(err))
	}

	logger.Info("transcription finished",
		logging.String("transcript_path", result.SRTPath),
		logging.Duration("elapsed", time.Since(started).Round(time.Second)),
		logging.String(logging.FieldEventType, "transcription_finished"),
	)

	record.RecordProgress("transcript_path", result.SRTPath)
	return nil
}

// HealthCheck verifies the transcription toolchain is present.
func (t *Transcriber) HealthCheck(ctx context.Context) stage.Health {
	const name = "transcriber"
	if t.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if _, err := exec.LookPath(whisperx.UVXCommand); err != nil {
		return stage.Unhealthy(name, "uvx not found; install uv to run whisperx")
	}
	if _, err := exec.LookPath(t.cfg.Captions.FFmpegBinary); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("ffmpeg binary %q not found", t.cfg.Captions.FFmpegBinary))
	}
	return stage.Healthy(name)
}

func (t *Transcriber) classify(ctx context.Context, operation, message string, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return services.Wrap(services.ErrTimeout, string(t.Stage()), operation,
			"transcription exceeded its timeout", err)
	}
	return services.Wrap(services.ErrTransient, string(t.Stage()), operation, message, err)
}
