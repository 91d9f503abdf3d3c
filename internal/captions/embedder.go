package captions

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
	"gavel/internal/fileutil"
	"gavel/internal/logging"
	"gavel/internal/services"
	"gavel/internal/stage"
	"gavel/internal/staging"
	"gavel/internal/taskstate"
)

// FormatSCC and FormatSRT are the supported caption output formats.
const (
	FormatSCC = "scc"
	FormatSRT = "srt"
)

// CommandRunner abstracts external command execution for testing.
type CommandRunner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Embedder converts the transcript into the configured caption format and
// re-muxes the recording with an embedded caption track.
type Embedder struct {
	cfg    *config.Config
	logger *slog.Logger
	runner CommandRunner
}

// NewEmbedder constructs the caption embed handler.
func NewEmbedder(cfg *config.Config, logger *slog.Logger) *Embedder {
	return NewEmbedderWithRunner(cfg, logger, execRunner)
}

// NewEmbedderWithRunner allows injecting the command runner (used in tests).
func NewEmbedderWithRunner(cfg *config.Config, logger *slog.Logger, runner CommandRunner) *Embedder {
	if logger != nil {
		logger = logger.With(logging.String(logging.FieldComponent, "caption-embedder"))
	}
	return &Embedder{cfg: cfg, logger: logger, runner: runner}
}

// Stage identifies the pipeline stage this handler drives.
func (e *Embedder) Stage() taskstate.Stage {
	return taskstate.StageCaptionEmbed
}

// Prepare verifies the upstream artifacts are still on disk.
func (e *Embedder) Prepare(ctx context.Context, record *taskstate.TaskRecord) error {
	if _, err := stage.RequireFile(record, e.Stage(), "source_path"); err != nil {
		return err
	}
	if _, err := stage.RequireFile(record, e.Stage(), "transcript_path"); err != nil {
		return err
	}
	return nil
}

// Execute writes the caption artifact and the captioned output container.
// Artifact paths are deterministic per task, so a re-run after a validation
// failure overwrites in place.
func (e *Embedder) Execute(ctx context.Context, record *taskstate.TaskRecord) error {
	logger := logging.WithContext(ctx, e.logger)

	source, err := stage.RequireFile(record, e.Stage(), "source_path")
	if err != nil {
		return err
	}
	transcript, err := stage.RequireFile(record, e.Stage(), "transcript_path")
	if err != nil {
		return err
	}

	taskDir, err := staging.EnsureTaskDir(e.cfg.Paths.Workdir, record.TaskID)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, string(e.Stage()), "ensure workdir", "failed to create task working directory", err)
	}

	captionPath, err := e.writeCaptionArtifact(transcript, taskDir, source)
	if err != nil {
		return err
	}
	logger.Info("caption artifact written",
		logging.String("caption_path", captionPath),
		logging.String("format", e.format()),
		logging.String(logging.FieldEventType, "caption_converted"),
	)

	outputPath := outputPathFor(taskDir, source)
	if err := e.muxCaptions(ctx, source, transcript, outputPath); err != nil {
		return err
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return services.Wrap(services.ErrTransient, string(e.Stage()), "verify output", "ffmpeg finished but output is missing or empty", err)
	}
	logger.Info("captioned output written",
		logging.String("output_path", outputPath),
		logging.Int64("size_bytes", info.Size()),
		logging.String(logging.FieldEventType, "caption_embedded"),
	)

	record.RecordProgress("caption_path", captionPath)
	record.RecordProgress("output_path", outputPath)
	return nil
}

// HealthCheck verifies the caption toolchain is available.
func (e *Embedder) HealthCheck(ctx context.Context) stage.Health {
	const name = "caption-embedder"
	if e.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(e.cfg.Paths.Workdir) == "" {
		return stage.Unhealthy(name, "workdir not configured")
	}
	if _, err := exec.LookPath(e.cfg.Captions.FFmpegBinary); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("ffmpeg binary %q not found", e.cfg.Captions.FFmpegBinary))
	}
	return stage.Healthy(name)
}

func (e *Embedder) format() string {
	if e.cfg == nil || e.cfg.Captions.Format == "" {
		return FormatSCC
	}
	return e.cfg.Captions.Format
}

func (e *Embedder) writeCaptionArtifact(transcript, taskDir, source string) (string, error) {
	data, err := os.ReadFile(transcript)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, string(e.Stage()), "read transcript", "failed to read transcript artifact", err)
	}

	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	switch e.format() {
	case FormatSRT:
		captionPath := filepath.Join(taskDir, base+".srt")
		if err := fileutil.WriteFileAtomic(captionPath, data, 0o644); err != nil {
			return "", services.Wrap(services.ErrTransient, string(e.Stage()), "write captions", "failed to write caption artifact", err)
		}
		return captionPath, nil
	default:
		cues, err := ParseSRT(data)
		if err != nil {
			return "", services.Wrap(services.ErrValidation, string(e.Stage()), "parse transcript", "transcript is not usable subtitle data", err)
		}
		encoded, err := EncodeSCC(cues)
		if err != nil {
			return "", services.Wrap(services.ErrValidation, string(e.Stage()), "encode captions", "transcript produced no encodable captions", err)
		}
		captionPath := filepath.Join(taskDir, base+".scc")
		if err := fileutil.WriteFileAtomic(captionPath, encoded, 0o644); err != nil {
			return "", services.Wrap(services.ErrTransient, string(e.Stage()), "write captions", "failed to write caption artifact", err)
		}
		return captionPath, nil
	}
}

func (e *Embedder) muxCaptions(ctx context.Context, source, transcript, outputPath string) error {
	timeout := time.Duration(e.cfg.Captions.EncodeTimeout) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// ffmpeg picks the muxer from the extension, so the partial file keeps it.
	tmpPath := partialPathFor(outputPath)
	defer os.Remove(tmpPath)

	args := buildMuxArgs(source, transcript, e.languageTag(), tmpPath)
	if err := e.runner(ctx, e.cfg.Captions.FFmpegBinary, args...); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return services.Wrap(services.ErrTimeout, string(e.Stage()), "mux captions", "caption mux exceeded encode timeout", err)
		}
		return services.Wrap(services.ErrTransient, string(e.Stage()), "mux captions", "ffmpeg caption mux failed", err)
	}

	if err := os.Rename(tmpPath, outputPath); err != nil {
		return services.Wrap(services.ErrTransient, string(e.Stage()), "finalize output", "failed to move captioned output into place", err)
	}
	return nil
}

func (e *Embedder) languageTag() string {
	lang := ""
	if e.cfg != nil {
		lang = e.cfg.Transcriber.Language
	}
	return iso3LanguageTag(lang)
}

func buildMuxArgs(source, transcript, language, outputPath string) []string {
	return []string{
		"-y",
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-i", transcript,
		"-map", "0:v:0",
		"-map", "0:a?",
		"-map", "1:0",
		"-c:v", "copy",
		"-c:a", "copy",
		"-c:s", "mov_text",
		"-metadata:s:s:0", "language=" + language,
		"-disposition:s:0", "default",
		outputPath,
	}
}

func outputPathFor(taskDir, source string) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return filepath.Join(taskDir, base+"-captioned.mp4")
}

func partialPathFor(outputPath string) string {
	ext := filepath.Ext(outputPath)
	return strings.TrimSuffix(outputPath, ext) + ".partial" + ext
}

// iso3LanguageTag maps the configured two-letter language onto the
// three-letter tag MP4 containers expect.
func iso3LanguageTag(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "en":
		return "eng"
	case "es":
		return "spa"
	case "fr":
		return "fra"
	case "de":
		return "deu"
	case "pt":
		return "por"
	case "vi":
		return "vie"
	case "ko":
		return "kor"
	case "zh":
		return "zho"
	case "":
		return "und"
	default:
		return "und"
	}
}
