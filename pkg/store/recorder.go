package store

import (
	"fmt"
	"sync"

	"github.com/daviddao/clockdrift/pkg/trace"
)

// RunRecorder writes machine traces for one run into the store.
type RunRecorder struct {
	s     *Store
	runID string

	mu     sync.Mutex
	closed map[int]bool
}

var _ trace.Recorder = (*RunRecorder)(nil)

// Recorder returns a trace.Recorder bound to runID.
func (s *Store) Recorder(runID string) *RunRecorder {
	return &RunRecorder{s: s, runID: runID, closed: make(map[int]bool)}
}

// RunID returns the run this recorder writes to.
func (r *RunRecorder) RunID() string { return r.runID }

func (r *RunRecorder) Wipe(machineID int) error {
	if err := r.s.WipeLines(r.runID, machineID); err != nil {
		return fmt.Errorf("wipe trace %d: %w", machineID, err)
	}
	r.mu.Lock()
	delete(r.closed, machineID)
	r.mu.Unlock()
	return nil
}

func (r *RunRecorder) Record(machineID int, line string) error {
	r.mu.Lock()
	closed := r.closed[machineID]
	r.mu.Unlock()
	if closed {
		return fmt.Errorf("machine %d: %w", machineID, trace.ErrClosed)
	}
	if _, err := r.s.AppendLine(r.runID, machineID, line); err != nil {
		return fmt.Errorf("store trace %d: %w", machineID, err)
	}
	return nil
}

func (r *RunRecorder) Close(machineID int) error {
	r.mu.Lock()
	r.closed[machineID] = true
	r.mu.Unlock()
	return nil
}
