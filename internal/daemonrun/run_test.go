package daemonrun_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gavel/internal/config"
	"gavel/internal/daemonrun"
	"gavel/internal/testsupport"
)

func startRun(t *testing.T, cfg *config.Config) (cancel func(), done chan error) {
	t.Helper()

	ctx, cancelCtx := context.WithCancel(context.Background())
	done = make(chan error, 1)
	go func() {
		done <- daemonrun.Run(ctx, cfg, daemonrun.Options{LogLevel: "error"})
	}()

	pidPath := filepath.Join(cfg.Paths.LogDir, "gaveld.pid")
	deadline := time.Now().Add(30 * time.Second)
	for {
		if _, err := os.Stat(pidPath); err == nil {
			break
		}
		select {
		case err := <-done:
			cancelCtx()
			t.Fatalf("Run exited before becoming ready: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			cancelCtx()
			t.Fatal("pid file never appeared")
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cancelCtx, done
}

func waitForExit(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}

func TestRunLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	cancel, done := startRun(t, cfg)

	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "gaveld.log")); err != nil {
		cancel()
		t.Fatalf("daemon log missing: %v", err)
	}

	cancel()
	waitForExit(t, done)

	pidPath := filepath.Join(cfg.Paths.LogDir, "gaveld.pid")
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Fatalf("pid file not removed: %v", err)
	}
}

func TestRunRotatesPreviousLog(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	logPath := filepath.Join(cfg.Paths.LogDir, "gaveld.log")
	if err := os.WriteFile(logPath, []byte("previous run\n"), 0o644); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	cancel, done := startRun(t, cfg)
	cancel()
	waitForExit(t, done)

	rotated, err := filepath.Glob(filepath.Join(cfg.Paths.LogDir, "gaveld-*.log"))
	if err != nil {
		t.Fatalf("glob rotated logs: %v", err)
	}
	if len(rotated) != 1 {
		t.Fatalf("expected one rotated log, got %v", rotated)
	}
	data, err := os.ReadFile(rotated[0])
	if err != nil {
		t.Fatalf("read rotated log: %v", err)
	}
	if string(data) != "previous run\n" {
		t.Fatalf("rotated log content changed: %q", data)
	}
}
