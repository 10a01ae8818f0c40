package trace

import (
	"errors"
	"testing"
)

func TestMemoryRecorder_Lifecycle(t *testing.T) {
	m := NewMemoryRecorder()
	m.Record(0, "before wipe")
	m.Wipe(0)
	m.Record(0, "a")
	m.Record(0, "b")
	if got := m.Lines(0); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Lines = %q, want [a b]", got)
	}
	if m.Closed(0) {
		t.Fatal("trace closed before Close")
	}
	m.Close(0)
	if !m.Closed(0) {
		t.Fatal("trace not closed after Close")
	}
	if err := m.Record(0, "c"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Record after Close: %v", err)
	}
}

type failingRecorder struct{ err error }

func (f failingRecorder) Wipe(int) error           { return f.err }
func (f failingRecorder) Record(int, string) error { return f.err }
func (f failingRecorder) Close(int) error          { return f.err }

func TestMulti_FansOut(t *testing.T) {
	a, b := NewMemoryRecorder(), NewMemoryRecorder()
	r := Multi(a, b)
	r.Wipe(1)
	r.Record(1, "x")
	r.Close(1)
	for _, m := range []*MemoryRecorder{a, b} {
		if got := m.Lines(1); len(got) != 1 || got[0] != "x" {
			t.Fatalf("Lines = %q", got)
		}
		if !m.Closed(1) {
			t.Fatal("Close not forwarded")
		}
	}
}

func TestMulti_PropagatesErrors(t *testing.T) {
	boom := errors.New("disk full")
	mem := NewMemoryRecorder()
	r := Multi(failingRecorder{boom}, mem)

	if err := r.Record(0, "x"); !errors.Is(err, boom) {
		t.Fatalf("Record err = %v, want %v", err, boom)
	}
	if len(mem.Lines(0)) != 0 {
		t.Fatal("Record continued past a failing recorder")
	}
	if err := r.Close(0); !errors.Is(err, boom) {
		t.Fatalf("Close err = %v, want %v", err, boom)
	}
	if !mem.Closed(0) {
		t.Fatal("Close should still reach every recorder")
	}
}
