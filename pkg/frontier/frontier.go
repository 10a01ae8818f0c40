// Package frontier decides when lines of a merged multi-machine trace are
// final in the Lamport total order.
//
// A machine's logical clock never goes backwards, so after its trace has
// been seen at logical time t it can only append lines stamped t or later.
// The frontier is the set of running machines whose latest pointstamp is
// lowest; a line (t, id) is safe to emit once it sorts before every other
// running machine's latest pointstamp. Until then a slower machine may
// still produce a line that belongs ahead of it.
package frontier

import (
	"sort"

	"github.com/daviddao/clockdrift/pkg/clock"
	"github.com/daviddao/clockdrift/pkg/model"
)

// ComputeFrontier returns the pointstamps that no other pointstamp is
// strictly below in logical time. Ties are all kept.
func ComputeFrontier(active []model.Pointstamp) []model.Pointstamp {
	var frontier []model.Pointstamp
	for _, p := range active {
		dominated := false
		for _, q := range active {
			if q.MachineID != p.MachineID && q.LogicalTime < p.LogicalTime {
				dominated = true
				break
			}
		}
		if !dominated {
			frontier = append(frontier, p)
		}
	}
	return frontier
}

// Status is the result of a safety check for one line.
type Status struct {
	SafeToEmit bool               `json:"safe_to_emit"`
	Frontier   []model.Pointstamp `json:"frontier"`
	BlockedBy  []model.Pointstamp `json:"blocked_by,omitempty"`
}

// ComputeStatus checks whether the line stamped at has its final place in
// the total order, given the latest pointstamps of the running machines.
// The line's own machine never blocks it.
func ComputeStatus(at model.Pointstamp, active []model.Pointstamp) Status {
	status := Status{SafeToEmit: true, Frontier: ComputeFrontier(active)}
	for _, p := range active {
		if p.MachineID == at.MachineID {
			continue
		}
		if !at.Less(p) {
			status.SafeToEmit = false
			status.BlockedBy = append(status.BlockedBy, p)
		}
	}
	return status
}

// Merger buffers trace lines from several machines and releases them in
// total order as soon as they are final.
type Merger struct {
	latest  map[int]model.Pointstamp
	stopped map[int]bool
	pending []model.TraceLine
}

// NewMerger tracks the given machines. Until a machine's first line
// arrives it holds back everything.
func NewMerger(ids []int) *Merger {
	m := &Merger{
		latest:  make(map[int]model.Pointstamp, len(ids)),
		stopped: make(map[int]bool),
	}
	for _, id := range ids {
		m.latest[id] = model.Pointstamp{MachineID: id, LogicalTime: -1}
	}
	return m
}

// Add buffers lines. Each machine's lines must arrive in write order. A
// STOPPED line takes its machine out of the frontier.
func (m *Merger) Add(lines ...model.TraceLine) {
	for _, l := range lines {
		p := model.Pointstamp{MachineID: l.MachineID, LogicalTime: l.LogicalTime}
		if cur, ok := m.latest[l.MachineID]; !ok || cur.LogicalTime < p.LogicalTime {
			m.latest[l.MachineID] = p
		}
		if l.Kind == model.TraceStopped {
			m.stopped[l.MachineID] = true
		}
		m.pending = append(m.pending, l)
	}
}

// Active returns the latest pointstamp of every machine still running,
// ordered by machine id.
func (m *Merger) Active() []model.Pointstamp {
	out := make([]model.Pointstamp, 0, len(m.latest))
	for id, p := range m.latest {
		if !m.stopped[id] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineID < out[j].MachineID })
	return out
}

// Ready removes and returns the buffered lines that are final, in total
// order.
func (m *Merger) Ready() []model.TraceLine {
	sortLines(m.pending)
	active := m.Active()
	n := 0
	for n < len(m.pending) {
		l := m.pending[n]
		at := model.Pointstamp{MachineID: l.MachineID, LogicalTime: l.LogicalTime}
		if !ComputeStatus(at, active).SafeToEmit {
			break
		}
		n++
	}
	ready := append([]model.TraceLine(nil), m.pending[:n]...)
	m.pending = m.pending[n:]
	return ready
}

// Flush returns every buffered line in total order, final or not.
func (m *Merger) Flush() []model.TraceLine {
	sortLines(m.pending)
	out := m.pending
	m.pending = nil
	return out
}

// Pending reports how many lines are held back.
func (m *Merger) Pending() int { return len(m.pending) }

func sortLines(lines []model.TraceLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		return clock.TotalOrderLess(lines[i].LogicalTime, lines[i].MachineID,
			lines[j].LogicalTime, lines[j].MachineID)
	})
}
