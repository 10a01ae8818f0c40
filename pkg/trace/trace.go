// Package trace persists the per-machine event traces.
//
// A Recorder holds one trace per machine id. A machine wipes its trace
// once when it starts, appends one line per tick and closes the trace when
// it stops; appends after Close fail with ErrClosed.
package trace

import (
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned when appending to a finalized trace.
var ErrClosed = errors.New("trace closed")

// Recorder persists human-readable trace lines, one trace per machine.
type Recorder interface {
	// Wipe resets the machine's trace to empty.
	Wipe(machineID int) error

	// Record appends one line to the machine's trace.
	Record(machineID int, line string) error

	// Close finalizes the machine's trace. Closing twice is a no-op.
	Close(machineID int) error
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

// MemoryRecorder keeps traces in memory. Used by tests and dry runs.
type MemoryRecorder struct {
	mu     sync.Mutex
	traces map[int]*memTrace
}

type memTrace struct {
	lines  []string
	closed bool
}

// NewMemoryRecorder returns an empty MemoryRecorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{traces: make(map[int]*memTrace)}
}

func (m *MemoryRecorder) trace(id int) *memTrace {
	t, ok := m.traces[id]
	if !ok {
		t = &memTrace{}
		m.traces[id] = t
	}
	return t
}

func (m *MemoryRecorder) Wipe(machineID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces[machineID] = &memTrace{}
	return nil
}

func (m *MemoryRecorder) Record(machineID int, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.trace(machineID)
	if t.closed {
		return fmt.Errorf("machine %d: %w", machineID, ErrClosed)
	}
	t.lines = append(t.lines, line)
	return nil
}

func (m *MemoryRecorder) Close(machineID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trace(machineID).closed = true
	return nil
}

// Lines returns a copy of the machine's trace.
func (m *MemoryRecorder) Lines(machineID int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.traces[machineID]
	if !ok {
		return nil
	}
	return append([]string(nil), t.lines...)
}

// Closed reports whether the machine's trace has been finalized.
func (m *MemoryRecorder) Closed(machineID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.traces[machineID]
	return ok && t.closed
}

// ---------------------------------------------------------------------------
// Fan-out
// ---------------------------------------------------------------------------

type multi []Recorder

// Multi returns a Recorder that forwards every call to each of recs in
// order. Wipe and Record stop at the first error; Close closes all of them
// and joins the errors.
func Multi(recs ...Recorder) Recorder {
	return multi(recs)
}

func (m multi) Wipe(machineID int) error {
	for _, r := range m {
		if err := r.Wipe(machineID); err != nil {
			return err
		}
	}
	return nil
}

func (m multi) Record(machineID int, line string) error {
	for _, r := range m {
		if err := r.Record(machineID, line); err != nil {
			return err
		}
	}
	return nil
}

func (m multi) Close(machineID int) error {
	var errs []error
	for _, r := range m {
		if err := r.Close(machineID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
