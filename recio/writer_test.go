package recio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBlockWriterAppendAndClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	bw, err := NewBlockWriter(path, 8)
	if err != nil {
		t.Fatalf("NewBlockWriter failed: %v", err)
	}
	payload := []byte("hello, block writer world")
	if err := bw.Append(payload); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if bw.Tell() != int64(len(payload)) {
		t.Fatalf("Tell() = %d, want %d", bw.Tell(), len(payload))
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output file failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("output = %q, want %q", got, payload)
	}
}

func TestBlockWriterRejectsAppendAfterClose(t *testing.T) {
	dir := t.TempDir()
	bw, err := NewBlockWriter(filepath.Join(dir, "out.bin"), 8)
	if err != nil {
		t.Fatalf("NewBlockWriter failed: %v", err)
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := bw.Append([]byte("x")); err == nil {
		t.Fatal("expected error appending after close")
	}
}

func TestBlockWriterRejectsZeroBlockSize(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewBlockWriter(filepath.Join(dir, "out.bin"), 0); err == nil {
		t.Fatal("expected error for zero block size")
	}
}

func TestBlockWriterMultipleBufferSwaps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	bw, err := NewBlockWriter(path, 4)
	if err != nil {
		t.Fatalf("NewBlockWriter failed: %v", err)
	}
	want := []byte("0123456789abcdef")
	for _, b := range want {
		if err := bw.Append([]byte{b}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output file failed: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("output = %q, want %q", got, want)
	}
}
