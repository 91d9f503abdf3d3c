package logging_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gavel/internal/logging"
)

func TestCleanupOldLogsRemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "gaveld-2026-01-01.log")
	newPath := filepath.Join(dir, "gaveld-today.log")
	keepPath := filepath.Join(dir, "gaveld.log")

	for _, path := range []string{oldPath, newPath, keepPath} {
		if err := os.WriteFile(path, []byte("line\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	stale := time.Now().AddDate(0, 0, -30)
	for _, path := range []string{oldPath, keepPath} {
		if err := os.Chtimes(path, stale, stale); err != nil {
			t.Fatalf("chtimes %s: %v", path, err)
		}
	}

	logging.CleanupOldLogs(logging.NewNop(), 7, logging.RetentionTarget{
		Dir:     dir,
		Pattern: "gaveld*.log",
		Exclude: []string{keepPath},
	})

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be pruned, err=%v", oldPath, err)
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Fatalf("fresh log should survive: %v", err)
	}
	if _, err := os.Stat(keepPath); err != nil {
		t.Fatalf("excluded log should survive: %v", err)
	}
}

func TestCleanupOldLogsZeroRetentionIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gaveld-old.log")
	if err := os.WriteFile(path, []byte("line\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	stale := time.Now().AddDate(0, 0, -365)
	if err := os.Chtimes(path, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	logging.CleanupOldLogs(logging.NewNop(), 0, logging.RetentionTarget{Dir: dir, Pattern: "*.log"})

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("retention disabled should keep files: %v", err)
	}
}
