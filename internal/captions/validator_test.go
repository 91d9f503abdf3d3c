package captions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gavel/internal/config"
	"gavel/internal/logging"
	"gavel/internal/media/ffprobe"
	"gavel/internal/services"
	"gavel/internal/taskstate"
)

func newValidateRecord(t *testing.T, dir string) (*taskstate.TaskRecord, string, string) {
	t.Helper()
	source := filepath.Join(dir, "planning-2026-08-20.mp4")
	output := filepath.Join(dir, "planning-2026-08-20-captioned.mp4")
	for _, path := range []string{source, output} {
		if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	record := taskstate.NewRecord(taskstate.KindVODPipeline, nil)
	record.RecordProgress("source_path", source)
	record.RecordProgress("output_path", output)
	return record, source, output
}

func probeResult(duration, size string, withCaptions bool) ffprobe.Result {
	streams := []ffprobe.Stream{
		{Index: 0, CodecType: "video", CodecName: "h264"},
		{Index: 1, CodecType: "audio", CodecName: "aac"},
	}
	if withCaptions {
		streams = append(streams, ffprobe.Stream{Index: 2, CodecType: "subtitle", CodecName: "mov_text"})
	}
	return ffprobe.Result{
		Streams: streams,
		Format:  ffprobe.Format{Duration: duration, Size: size, NBStreams: len(streams)},
	}
}

func routeInspect(output string, outResult, srcResult ffprobe.Result) InspectFunc {
	return func(ctx context.Context, binary, path string) (ffprobe.Result, error) {
		if path == output {
			return outResult, nil
		}
		return srcResult, nil
	}
}

func TestValidatorAcceptsHealthyOutput(t *testing.T) {
	cfg := config.Default()
	record, _, output := newValidateRecord(t, t.TempDir())

	inspect := routeInspect(output,
		probeResult("3601.2", "734003200", true),
		probeResult("3600.0", "8589934592", false),
	)
	validator := NewValidatorWithInspector(&cfg, logging.NewNop(), inspect)
	if err := validator.Prepare(context.Background(), record); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := validator.Execute(context.Background(), record); err != nil {
		t.Fatalf("execute: %v", err)
	}
}

func TestValidatorRejectsCaptionlessOutput(t *testing.T) {
	cfg := config.Default()
	record, _, output := newValidateRecord(t, t.TempDir())

	inspect := routeInspect(output,
		probeResult("3600.0", "734003200", false),
		probeResult("3600.0", "8589934592", false),
	)
	validator := NewValidatorWithInspector(&cfg, logging.NewNop(), inspect)
	err := validator.Execute(context.Background(), record)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "no caption track") {
		t.Fatalf("error should name the missing caption track: %v", err)
	}
}

func TestValidatorRejectsTruncatedOutput(t *testing.T) {
	cfg := config.Default()
	record, _, output := newValidateRecord(t, t.TempDir())

	inspect := routeInspect(output,
		probeResult("1712.4", "734003200", true),
		probeResult("3600.0", "8589934592", false),
	)
	validator := NewValidatorWithInspector(&cfg, logging.NewNop(), inspect)
	err := validator.Execute(context.Background(), record)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "duration mismatch") {
		t.Fatalf("error should name the duration mismatch: %v", err)
	}
}

func TestValidatorToleratesContainerRounding(t *testing.T) {
	cfg := config.Default()
	record, _, output := newValidateRecord(t, t.TempDir())

	// 1% of a two-hour recording is 72 seconds; a 40 second drift passes.
	inspect := routeInspect(output,
		probeResult("7160.0", "734003200", true),
		probeResult("7200.0", "8589934592", false),
	)
	validator := NewValidatorWithInspector(&cfg, logging.NewNop(), inspect)
	if err := validator.Execute(context.Background(), record); err != nil {
		t.Fatalf("execute: %v", err)
	}
}

func TestValidatorCollectsEveryIssue(t *testing.T) {
	cfg := config.Default()
	record, _, output := newValidateRecord(t, t.TempDir())

	inspect := routeInspect(output,
		ffprobe.Result{Format: ffprobe.Format{Duration: "", Size: "0"}},
		probeResult("3600.0", "8589934592", false),
	)
	validator := NewValidatorWithInspector(&cfg, logging.NewNop(), inspect)
	err := validator.Execute(context.Background(), record)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, want := range []string{"empty", "no video stream", "no caption track", "no duration"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("issue %q missing from %v", want, err)
		}
	}
}

func TestValidatorClassifiesProbeFailures(t *testing.T) {
	cfg := config.Default()
	record, source, output := newValidateRecord(t, t.TempDir())

	brokenOutput := func(ctx context.Context, binary, path string) (ffprobe.Result, error) {
		if path == output {
			return ffprobe.Result{}, errors.New("moov atom not found")
		}
		return probeResult("3600.0", "8589934592", false), nil
	}
	validator := NewValidatorWithInspector(&cfg, logging.NewNop(), brokenOutput)
	if err := validator.Execute(context.Background(), record); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("unreadable output should be a validation error, got %v", err)
	}

	brokenSource := func(ctx context.Context, binary, path string) (ffprobe.Result, error) {
		if path == source {
			return ffprobe.Result{}, errors.New("input/output error")
		}
		return probeResult("3600.0", "734003200", true), nil
	}
	validator = NewValidatorWithInspector(&cfg, logging.NewNop(), brokenSource)
	if err := validator.Execute(context.Background(), record); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("unreachable source should be transient, got %v", err)
	}
}
