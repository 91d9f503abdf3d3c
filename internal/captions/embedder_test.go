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
	"gavel/internal/services"
	"gavel/internal/taskstate"
)

const embedTranscript = "1\n00:00:01,000 --> 00:00:03,000\nCall to order.\n\n2\n00:00:04,000 --> 00:00:06,500\nRoll call, please.\n"

func newEmbedRecord(t *testing.T, dir string) *taskstate.TaskRecord {
	t.Helper()
	source := filepath.Join(dir, "council-2026-08-18.mp4")
	if err := os.WriteFile(source, []byte("video"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	transcript := filepath.Join(dir, "council-2026-08-18.srt")
	if err := os.WriteFile(transcript, []byte(embedTranscript), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	record := taskstate.NewRecord(taskstate.KindVODPipeline, nil)
	record.RecordProgress("source_path", source)
	record.RecordProgress("transcript_path", transcript)
	return record
}

func newEmbedConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Workdir = t.TempDir()
	return &cfg
}

func TestEmbedderWritesSCCAndMuxesOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := newEmbedConfig(t)
	record := newEmbedRecord(t, dir)

	var gotName string
	var gotArgs []string
	runner := func(ctx context.Context, name string, args ...string) error {
		gotName = name
		gotArgs = args
		// ffmpeg writes the partial output; the handler renames it.
		return os.WriteFile(args[len(args)-1], []byte("captioned video"), 0o644)
	}

	embedder := NewEmbedderWithRunner(cfg, logging.NewNop(), runner)
	if err := embedder.Prepare(context.Background(), record); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := embedder.Execute(context.Background(), record); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if gotName != cfg.Captions.FFmpegBinary {
		t.Fatalf("expected ffmpeg invocation, got %q", gotName)
	}
	joined := strings.Join(gotArgs, " ")
	if !strings.Contains(joined, "-c:s mov_text") {
		t.Fatalf("caption codec flag missing: %s", joined)
	}
	if !strings.Contains(joined, "-c:v copy") {
		t.Fatalf("expected stream copy, got: %s", joined)
	}
	if !strings.Contains(joined, "language=eng") {
		t.Fatalf("language metadata missing: %s", joined)
	}

	captionPath, ok := record.ProgressValue("caption_path")
	if !ok || filepath.Ext(captionPath) != ".scc" {
		t.Fatalf("expected scc caption artifact, got %q", captionPath)
	}
	data, err := os.ReadFile(captionPath)
	if err != nil {
		t.Fatalf("read caption artifact: %v", err)
	}
	if !strings.HasPrefix(string(data), "Scenarist_SCC V1.0") {
		t.Fatalf("caption artifact is not scc: %q", string(data[:32]))
	}

	outputPath, ok := record.ProgressValue("output_path")
	if !ok {
		t.Fatal("output_path progress missing")
	}
	if !strings.HasSuffix(outputPath, "-captioned.mp4") {
		t.Fatalf("unexpected output name: %s", outputPath)
	}
	if _, err := os.Stat(outputPath); err != nil {
		t.Fatalf("final output not in place: %v", err)
	}
	if _, err := os.Stat(partialPathFor(outputPath)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial file left behind: %v", err)
	}
}

func TestEmbedderHonorsSRTFormat(t *testing.T) {
	dir := t.TempDir()
	cfg := newEmbedConfig(t)
	cfg.Captions.Format = FormatSRT
	record := newEmbedRecord(t, dir)

	runner := func(ctx context.Context, name string, args ...string) error {
		return os.WriteFile(args[len(args)-1], []byte("captioned video"), 0o644)
	}
	embedder := NewEmbedderWithRunner(cfg, logging.NewNop(), runner)
	if err := embedder.Execute(context.Background(), record); err != nil {
		t.Fatalf("execute: %v", err)
	}

	captionPath, _ := record.ProgressValue("caption_path")
	if filepath.Ext(captionPath) != ".srt" {
		t.Fatalf("expected srt artifact, got %q", captionPath)
	}
	data, err := os.ReadFile(captionPath)
	if err != nil {
		t.Fatalf("read caption artifact: %v", err)
	}
	if string(data) != embedTranscript {
		t.Fatal("srt artifact should match transcript verbatim")
	}
}

func TestEmbedderClassifiesMuxFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := newEmbedConfig(t)
	record := newEmbedRecord(t, dir)

	runner := func(ctx context.Context, name string, args ...string) error {
		return errors.New("ffmpeg: invalid argument")
	}
	embedder := NewEmbedderWithRunner(cfg, logging.NewNop(), runner)
	err := embedder.Execute(context.Background(), record)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient mux failure, got %v", err)
	}
	if _, ok := record.ProgressValue("output_path"); ok {
		t.Fatal("failed mux must not record output_path")
	}
}

func TestEmbedderRejectsUnusableTranscript(t *testing.T) {
	dir := t.TempDir()
	cfg := newEmbedConfig(t)
	record := newEmbedRecord(t, dir)

	transcript, _ := record.ProgressValue("transcript_path")
	if err := os.WriteFile(transcript, []byte("not a subtitle file"), 0o644); err != nil {
		t.Fatalf("overwrite transcript: %v", err)
	}

	embedder := NewEmbedderWithRunner(cfg, logging.NewNop(), func(ctx context.Context, name string, args ...string) error {
		t.Fatal("runner must not be invoked for an unusable transcript")
		return nil
	})
	if err := embedder.Execute(context.Background(), record); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEmbedderPrepareRequiresArtifacts(t *testing.T) {
	cfg := newEmbedConfig(t)
	record := taskstate.NewRecord(taskstate.KindVODPipeline, nil)

	embedder := NewEmbedderWithRunner(cfg, logging.NewNop(), nil)
	if err := embedder.Prepare(context.Background(), record); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing artifacts, got %v", err)
	}
}

func TestEmbedderRerunOverwritesInPlace(t *testing.T) {
	dir := t.TempDir()
	cfg := newEmbedConfig(t)
	record := newEmbedRecord(t, dir)

	calls := 0
	runner := func(ctx context.Context, name string, args ...string) error {
		calls++
		return os.WriteFile(args[len(args)-1], []byte(strings.Repeat("x", calls)), 0o644)
	}
	embedder := NewEmbedderWithRunner(cfg, logging.NewNop(), runner)

	if err := embedder.Execute(context.Background(), record); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	first, _ := record.ProgressValue("output_path")
	if err := embedder.Execute(context.Background(), record); err != nil {
		t.Fatalf("second execute: %v", err)
	}
	second, _ := record.ProgressValue("output_path")

	if first != second {
		t.Fatalf("re-run must reuse the output path: %q vs %q", first, second)
	}
	info, err := os.Stat(second)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if info.Size() != 2 {
		t.Fatalf("re-run should have replaced the output, size=%d", info.Size())
	}
}
