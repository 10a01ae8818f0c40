package trace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func newTestFileRecorder(t *testing.T) *FileRecorder {
	t.Helper()
	r, err := NewFileRecorder(filepath.Join(t.TempDir(), "logs"))
	if err != nil {
		t.Fatalf("NewFileRecorder: %v", err)
	}
	t.Cleanup(func() { r.CloseAll() })
	return r
}

func TestFileRecorder_WipeWriteReadRoundTrip(t *testing.T) {
	r := newTestFileRecorder(t)

	if err := r.Wipe(0); err != nil {
		t.Fatalf("Wipe: %v", err)
	}
	want := make([]string, 50)
	for i := range want {
		want[i] = fmt.Sprintf("INTERNAL EVENT\tSYSTEM TIME: %d.000000\tLOGICAL TIME: %d", i, i)
		if err := r.Record(0, want[i]); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}
	got, err := r.ReadLines(0)
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("read %d lines, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFileRecorder_WipeTruncates(t *testing.T) {
	r := newTestFileRecorder(t)
	if err := os.WriteFile(r.Path(1), []byte("stale\nstale\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.Wipe(1); err != nil {
		t.Fatalf("Wipe: %v", err)
	}
	if err := r.Record(1, "fresh"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := r.ReadLines(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "fresh" {
		t.Fatalf("after wipe got %q, want [fresh]", got)
	}
}

func TestFileRecorder_RecordAfterClose(t *testing.T) {
	r := newTestFileRecorder(t)
	r.Wipe(2)
	r.Record(2, "one")
	if err := r.Close(2); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(2); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
	if err := r.Record(2, "two"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Record after Close: err = %v, want ErrClosed", err)
	}
	got, _ := r.ReadLines(2)
	if len(got) != 1 {
		t.Fatalf("closed trace has %d lines, want 1", len(got))
	}
}

func TestFileRecorder_SeparateFilesPerMachine(t *testing.T) {
	r := newTestFileRecorder(t)
	for id := 0; id < 3; id++ {
		r.Wipe(id)
		r.Record(id, fmt.Sprintf("machine %d", id))
	}
	for id := 0; id < 3; id++ {
		got, err := r.ReadLines(id)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0] != fmt.Sprintf("machine %d", id) {
			t.Fatalf("machine %d trace = %q", id, got)
		}
	}
}

func TestFileRecorder_UnwritableDir(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileRecorder(filepath.Join(blocker, "logs")); err == nil {
		t.Fatal("expected error creating recorder under a regular file")
	}
}
