// iface.go defines the StoreInterface for dependency injection and testing.
//
// The concrete *Store type satisfies this interface. The CLI's read-side
// commands (log, status, watch) accept StoreInterface so tests can inject
// a fake.
package store

import (
	"time"

	"github.com/daviddao/clockdrift/pkg/model"
)

// StoreInterface defines the full set of store operations.
// The concrete *Store type implements this interface.
type StoreInterface interface {
	// Close closes the database connection.
	Close() error

	// --- Runs ---

	// CreateRun inserts a run, assigning an ID if empty.
	CreateRun(r model.Run) (*model.Run, error)

	// FinishRun stamps a run's finish time.
	FinishRun(id string, at time.Time) error

	// GetRun retrieves a run by ID.
	GetRun(id string) (*model.Run, error)

	// LatestRun returns the most recently started run.
	LatestRun() (*model.Run, error)

	// ListRuns returns runs newest first.
	ListRuns(limit int) ([]model.Run, error)

	// --- Machines ---

	// RegisterMachine records a machine's configuration. Idempotent.
	RegisterMachine(m model.MachineInfo) error

	// ListMachines returns a run's machines ordered by ID.
	ListMachines(runID string) ([]model.MachineInfo, error)

	// --- Trace ---

	// AppendLine adds a line to a machine's trace. Returns its seq.
	AppendLine(runID string, machineID int, line string) (int64, error)

	// WipeLines deletes a machine's trace.
	WipeLines(runID string, machineID int) error

	// ListLines returns trace lines with seq > sinceSeq.
	ListLines(runID string, machineID int, sinceSeq int64, limit int) ([]model.TraceLine, error)

	// MaxSeq returns the last seq written for a machine, or 0.
	MaxSeq(runID string, machineID int) int64

	// CountByKind returns per-machine counts of each trace kind.
	CountByKind(runID string) (map[int]map[model.TraceKind]int64, error)

	// Recorder returns a trace recorder bound to a run.
	Recorder(runID string) *RunRecorder
}

// Compile-time check that *Store implements StoreInterface.
var _ StoreInterface = (*Store)(nil)
