package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"gavel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.Workdir = filepath.Join(base, "work")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.StateDB = filepath.Join(base, "state.db")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Mounts.Recordings = filepath.Join(base, "recordings")
	cfg.Mounts.Archive = filepath.Join(base, "archive")
	cfg.Mounts.MinFreeGiB = 0
	cfg.VOD.BaseURL = "https://vod.example.gov"
	cfg.VOD.APIKey = "test"
	cfg.Transcriber.CacheDir = filepath.Join(base, "cache")

	for _, dir := range []string{cfg.Mounts.Recordings, cfg.Mounts.Archive} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfg,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithVOD points the platform client at a test server.
func WithVOD(baseURL, apiKey string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.VOD.BaseURL = baseURL
		b.cfg.VOD.APIKey = apiKey
	}
}

// WithCaptionFormat overrides the caption sidecar format.
func WithCaptionFormat(format string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Captions.Format = format
	}
}

// WithWorkers sets the pipeline worker count.
func WithWorkers(count int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Workers = count
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default external binaries
// are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe", "uvx"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.Workdir)
}
