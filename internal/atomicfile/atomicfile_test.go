package atomicfile

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteReplacesTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "resources.zip")
	if err := os.WriteFile(target, []byte("old"), 0o644); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	n, err := Write(context.Background(), target, strings.NewReader("new content"), Options{})
	if err != nil {
		t.Fatalf("write error: %v", err)
	}
	if n != int64(len("new content")) {
		t.Fatalf("unexpected written size %d", n)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(data) != "new content" {
		t.Fatalf("target mismatch: %s", data)
	}
	assertNoTempFiles(t, dir)
}

func TestWriteTooLargeKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "resources.zip")
	if err := os.WriteFile(target, []byte("old"), 0o644); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	_, err := Write(context.Background(), target, bytes.NewReader(make([]byte, 64)), Options{MaxBytes: 16})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "old" {
		t.Fatalf("previous content should survive, got %q", data)
	}
	assertNoTempFiles(t, dir)
}

func TestWriteSourceErrorCleansUp(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "resources.zip")

	src := io.MultiReader(strings.NewReader("partial"), errReader{})
	if _, err := Write(context.Background(), target, src, Options{}); err == nil {
		t.Fatalf("expected error from failing reader")
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("target should not exist after failed write: %v", err)
	}
	assertNoTempFiles(t, dir)
}

func TestWriteHonoursCanceledContext(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Write(ctx, filepath.Join(dir, "x"), strings.NewReader("data"), Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	assertNoTempFiles(t, dir)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir error: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".tmp-") {
			t.Fatalf("leftover temp file %s", entry.Name())
		}
	}
}
