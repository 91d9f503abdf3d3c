package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// tsSyncByte fills fixture recordings so they look like transport-stream
// payload rather than zeroed sparse files.
const tsSyncByte = 0x47

// WriteFile fills the target path with the requested number of bytes,
// creating parent directories as needed. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	chunk := bytes.Repeat([]byte{tsSyncByte}, 32*1024)
	for remaining := size; remaining > 0; {
		n := int64(len(chunk))
		if remaining < n {
			n = remaining
		}
		if _, err := f.Write(chunk[:n]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= n
	}
}

// WriteRecording drops a fixture recording with the given filename into a
// mount directory and returns its full path.
func WriteRecording(t testing.TB, mountDir, name string, size int64) string {
	t.Helper()

	path := filepath.Join(mountDir, name)
	WriteFile(t, path, size)
	return path
}
