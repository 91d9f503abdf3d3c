package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"gavel/internal/breaker"
	"gavel/internal/config"
	"gavel/internal/daemon"
	"gavel/internal/health"
	"gavel/internal/logging"
	"gavel/internal/pipeline"
	"gavel/internal/queue"
	"gavel/internal/retention"
	"gavel/internal/stage"
	"gavel/internal/taskstate"
	"gavel/internal/testsupport"
)

type noopStage struct{ stage taskstate.Stage }

func (h noopStage) Stage() taskstate.Stage                               { return h.stage }
func (h noopStage) Prepare(context.Context, *taskstate.TaskRecord) error { return nil }
func (h noopStage) Execute(context.Context, *taskstate.TaskRecord) error { return nil }
func (h noopStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(string(h.stage))
}

func noopHandlers() []stage.Handler {
	stages := taskstate.Stages()
	out := make([]stage.Handler, 0, len(stages))
	for _, st := range stages {
		out = append(out, noopStage{stage: st})
	}
	return out
}

type cliTestEnv struct {
	cfg        *config.Config
	tasks      *taskstate.Store
	broker     *queue.Store
	daemon     *daemon.Daemon
	apiAddr    string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	// Idle workers sleep a full poll interval, so a long one keeps enqueued
	// records pending while assertions run.
	cfg.Pipeline.PollInterval = 300

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	kvStore := testsupport.MustOpenKV(t, cfg)
	broker := testsupport.MustOpenStore(t, cfg)
	tasks := taskstate.New(kvStore, cfg)
	logger := logging.NewNop()

	healthMgr := health.NewManager(cfg, kvStore, logger,
		health.NewStorageProbe(health.ComponentRecordingsMount, cfg.Mounts.Recordings, cfg.Mounts.MinFreeGiB))
	orch, err := pipeline.New(cfg, tasks, broker, healthMgr, logger, noopHandlers()...)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	sweeper := retention.NewSweeper(cfg, tasks, broker, kvStore, logger, orch.ActiveTaskIDs)

	circuit := breaker.New("vod_api", breaker.OptionsFromConfig(cfg), kvStore, logger)
	d, err := daemon.New(cfg, logger, kvStore, tasks, broker, orch, healthMgr, sweeper, circuit)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		tasks:      tasks,
		broker:     broker,
		daemon:     d,
		apiAddr:    d.APIAddr(),
		configPath: configPath,
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, apiAddr, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--config", configPath}
	if apiAddr != "" {
		flags = append(flags, "--api", apiAddr)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
