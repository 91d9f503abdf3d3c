package captions

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strings"

	"gavel/internal/config"
	"gavel/internal/logging"
	"gavel/internal/media/ffprobe"
	"gavel/internal/services"
	"gavel/internal/stage"
	"gavel/internal/taskstate"
)

const (
	// durationSlackSeconds is the minimum allowed drift between source and
	// output durations. Stream-copied muxes land within a frame or two, but
	// container timestamps round differently across tools.
	durationSlackSeconds = 5.0

	// durationSlackRatio widens the allowance for multi-hour recordings.
	durationSlackRatio = 0.01
)

// InspectFunc abstracts ffprobe inspection for testing.
type InspectFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// Validator probes the captioned output and rejects containers that come out
// short, empty, or caption-less. A rejection sends the task back through the
// embedder.
type Validator struct {
	cfg     *config.Config
	logger  *slog.Logger
	inspect InspectFunc
}

// NewValidator constructs the validate handler.
func NewValidator(cfg *config.Config, logger *slog.Logger) *Validator {
	return NewValidatorWithInspector(cfg, logger, ffprobe.Inspect)
}

// NewValidatorWithInspector allows injecting the probe function (used in tests).
func NewValidatorWithInspector(cfg *config.Config, logger *slog.Logger, inspect InspectFunc) *Validator {
	if logger != nil {
		logger = logger.With(logging.String(logging.FieldComponent, "output-validator"))
	}
	return &Validator{cfg: cfg, logger: logger, inspect: inspect}
}

// Stage identifies the pipeline stage this handler drives.
func (v *Validator) Stage() taskstate.Stage {
	return taskstate.StageValidate
}

// Prepare verifies both the output and its source are still on disk.
func (v *Validator) Prepare(ctx context.Context, record *taskstate.TaskRecord) error {
	if _, err := stage.RequireFile(record, v.Stage(), "output_path"); err != nil {
		return err
	}
	if _, err := stage.RequireFile(record, v.Stage(), "source_path"); err != nil {
		return err
	}
	return nil
}

// Execute probes the captioned output and accumulates every integrity issue
// before failing, so one validation pass reports the full picture.
func (v *Validator) Execute(ctx context.Context, record *taskstate.TaskRecord) error {
	logger := logging.WithContext(ctx, v.logger)

	output, err := stage.RequireFile(record, v.Stage(), "output_path")
	if err != nil {
		return err
	}
	source, err := stage.RequireFile(record, v.Stage(), "source_path")
	if err != nil {
		return err
	}

	result, err := v.inspect(ctx, v.cfg.Captions.FFprobeBinary, output)
	if err != nil {
		return services.Wrap(services.ErrValidation, string(v.Stage()), "probe output", "captioned output is not a readable container", err)
	}
	sourceResult, err := v.inspect(ctx, v.cfg.Captions.FFprobeBinary, source)
	if err != nil {
		return services.Wrap(services.ErrTransient, string(v.Stage()), "probe source", "source recording could not be probed for comparison", err)
	}

	issues := collectIssues(result, sourceResult.DurationSeconds())
	if len(issues) > 0 {
		logger.Warn("output failed validation",
			logging.String("output_path", output),
			logging.String("issues", strings.Join(issues, "; ")),
			logging.String(logging.FieldEventType, "validation_failed"),
		)
		return services.Wrap(services.ErrValidation, string(v.Stage()), "output integrity", strings.Join(issues, "; "), nil)
	}

	logger.Info("output validated",
		logging.String("output_path", output),
		logging.Float64("duration_seconds", result.DurationSeconds()),
		logging.Int64("size_bytes", result.SizeBytes()),
		logging.Int("caption_streams", result.CaptionStreamCount()),
		logging.String(logging.FieldEventType, "output_validated"),
	)
	return nil
}

// HealthCheck verifies ffprobe is available.
func (v *Validator) HealthCheck(ctx context.Context) stage.Health {
	const name = "output-validator"
	if v.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if _, err := exec.LookPath(v.cfg.Captions.FFprobeBinary); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("ffprobe binary %q not found", v.cfg.Captions.FFprobeBinary))
	}
	return stage.Healthy(name)
}

func collectIssues(result ffprobe.Result, sourceDuration float64) []string {
	var issues []string

	if result.SizeBytes() == 0 {
		issues = append(issues, "output file is empty")
	}
	if result.VideoStreamCount() == 0 {
		issues = append(issues, "output has no video stream")
	}
	if result.CaptionStreamCount() == 0 {
		issues = append(issues, "output has no caption track")
	}

	duration := result.DurationSeconds()
	switch {
	case math.IsNaN(duration) || duration <= 0:
		issues = append(issues, "output reports no duration")
	case !math.IsNaN(sourceDuration) && sourceDuration > 0:
		allowed := math.Max(durationSlackSeconds, sourceDuration*durationSlackRatio)
		if math.Abs(duration-sourceDuration) > allowed {
			issues = append(issues, fmt.Sprintf("duration mismatch: output %.1fs, source %.1fs", duration, sourceDuration))
		}
	}

	return issues
}
