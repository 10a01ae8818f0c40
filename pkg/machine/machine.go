// Package machine implements a simulated machine with a logical clock.
//
// A Machine ticks at a fixed wall-clock rate. Each loop iteration makes
// exactly one decision (send to a peer, send to both, or an internal
// event), pauses for 1/rate seconds and then advances its logical clock by
// one. The pause is the only place the loop blocks; inbox operations never
// wait.
//
// Lifecycle:
//
//	Created --Run--> Running --Stop / ctx done--> Stopped
//
// Stopped is terminal. Stop is cooperative: the loop notices it once per
// iteration and a tick in progress always completes.
package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/daviddao/clockdrift/pkg/clock"
	"github.com/daviddao/clockdrift/pkg/inbox"
	"github.com/daviddao/clockdrift/pkg/model"
	"github.com/daviddao/clockdrift/pkg/trace"
)

var (
	ErrInvalidRate    = errors.New("tick rate must be positive")
	ErrPeerCount      = errors.New("machine needs exactly two peers")
	ErrSelfPeer       = errors.New("machine lists itself as a peer")
	ErrDuplicatePeer  = errors.New("both peers are the same machine")
	ErrNilInbox       = errors.New("nil inbox")
	ErrNilRecorder    = errors.New("nil recorder")
	ErrAlreadyStarted = errors.New("machine already running")
	ErrStopped        = errors.New("machine stopped")
)

// PeerCount is the fixed size of every machine's peer set.
const PeerCount = 2

// State is a machine's lifecycle state.
type State int

const (
	Created State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Peer is a handle on another machine's inbox.
type Peer struct {
	ID    int
	Inbox *inbox.Inbox
}

// Config holds everything a Machine needs. Rand, Now and Sleep default to
// a time-seeded source, SystemTime and SleepContext.
type Config struct {
	ID       int
	Rate     int
	Inbox    *inbox.Inbox
	Peers    []Peer // ordered: Peers[0] is peer A, Peers[1] is peer B
	Recorder trace.Recorder
	Mode     Mode

	Rand  Source
	Now   TimeSource
	Sleep Sleeper
}

// Machine is one simulated machine. Create with New.
type Machine struct {
	id    int
	rate  int
	inbox *inbox.Inbox
	peers [PeerCount]Peer
	rec   trace.Recorder
	mode  Mode
	rnd   Source
	now   TimeSource
	sleep Sleeper

	clock clock.Clock

	// mu serializes ticks against Stop so a stopped trace never sees
	// another append.
	mu        sync.Mutex
	state     State
	startTime float64
	ticks     int64
	cancel    context.CancelFunc
}

// New validates cfg and returns a machine in the Created state.
func New(cfg Config) (*Machine, error) {
	if cfg.Rate <= 0 {
		return nil, fmt.Errorf("machine %d: %w: %d", cfg.ID, ErrInvalidRate, cfg.Rate)
	}
	if len(cfg.Peers) != PeerCount {
		return nil, fmt.Errorf("machine %d: %w: got %d", cfg.ID, ErrPeerCount, len(cfg.Peers))
	}
	if cfg.Inbox == nil {
		return nil, fmt.Errorf("machine %d: own %w", cfg.ID, ErrNilInbox)
	}
	for _, p := range cfg.Peers {
		if p.ID == cfg.ID {
			return nil, fmt.Errorf("machine %d: %w", cfg.ID, ErrSelfPeer)
		}
		if p.Inbox == nil {
			return nil, fmt.Errorf("machine %d: peer %d: %w", cfg.ID, p.ID, ErrNilInbox)
		}
		if p.Inbox == cfg.Inbox {
			return nil, fmt.Errorf("machine %d: peer %d shares our inbox: %w", cfg.ID, p.ID, ErrSelfPeer)
		}
	}
	if cfg.Peers[0].ID == cfg.Peers[1].ID || cfg.Peers[0].Inbox == cfg.Peers[1].Inbox {
		return nil, fmt.Errorf("machine %d: %w", cfg.ID, ErrDuplicatePeer)
	}
	if cfg.Recorder == nil {
		return nil, fmt.Errorf("machine %d: %w", cfg.ID, ErrNilRecorder)
	}

	m := &Machine{
		id:    cfg.ID,
		rate:  cfg.Rate,
		inbox: cfg.Inbox,
		rec:   cfg.Recorder,
		mode:  cfg.Mode,
		rnd:   cfg.Rand,
		now:   cfg.Now,
		sleep: cfg.Sleep,
	}
	copy(m.peers[:], cfg.Peers)
	if m.rnd == nil {
		m.rnd = NewSource(time.Now().UnixNano() + int64(cfg.ID))
	}
	if m.now == nil {
		m.now = SystemTime
	}
	if m.sleep == nil {
		m.sleep = SleepContext
	}
	return m, nil
}

// ID returns the machine's cluster-unique id.
func (m *Machine) ID() int { return m.id }

// Rate returns the tick rate in ticks per wall-clock second.
func (m *Machine) Rate() int { return m.rate }

// Interval is the wall-clock pause between ticks: 1/rate seconds.
func (m *Machine) Interval() time.Duration { return time.Second / time.Duration(m.rate) }

// Inbox returns the machine's own receive inbox.
func (m *Machine) Inbox() *inbox.Inbox { return m.inbox }

// Peers returns the ordered peer pair.
func (m *Machine) Peers() [PeerCount]Peer { return m.peers }

// Mode returns the machine's tick mode.
func (m *Machine) Mode() Mode { return m.mode }

// LocalTime returns the current logical clock value.
func (m *Machine) LocalTime() int64 { return m.clock.Value() }

// State returns the lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartTime returns the wall-clock time captured when Run started.
func (m *Machine) StartTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startTime
}

// Ticks returns the number of ticks executed so far.
func (m *Machine) Ticks() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks
}

// Run executes the tick loop until Stop is called or ctx is done. It
// returns nil on a normal stop and the recorder's error if the trace
// cannot be written; the machine is stopped either way.
func (m *Machine) Run(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case Running:
		m.mu.Unlock()
		return fmt.Errorf("machine %d: %w", m.id, ErrAlreadyStarted)
	case Stopped:
		m.mu.Unlock()
		return fmt.Errorf("machine %d: %w", m.id, ErrStopped)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.cancel = cancel
	m.state = Running
	err := m.start()
	m.mu.Unlock()
	if err != nil {
		m.abort()
		return err
	}

	for {
		m.mu.Lock()
		if m.state != Running || ctx.Err() != nil {
			m.mu.Unlock()
			break
		}
		err := m.tick()
		m.ticks++
		m.mu.Unlock()
		if err != nil {
			m.abort()
			return fmt.Errorf("machine %d: tick %d: %w", m.id, m.clock.Value(), err)
		}

		m.sleep(ctx, m.Interval())

		m.clock.Tick()
	}

	// Cancelled rather than stopped: finalize the trace here.
	return m.Stop()
}

// start wipes the trace, records the start line, resets the logical
// clock and captures the start time. Caller holds mu.
func (m *Machine) start() error {
	if err := m.rec.Wipe(m.id); err != nil {
		return fmt.Errorf("machine %d: wipe trace: %w", m.id, err)
	}
	m.clock.Set(0)
	m.startTime = m.now()
	line := model.TraceRecord{
		Kind:        model.TraceStarted,
		Detail:      fmt.Sprintf("machine %d at %d ticks/s", m.id, m.rate),
		SystemTime:  m.startTime,
		LogicalTime: 0,
	}.Format()
	if err := m.rec.Record(m.id, line); err != nil {
		return fmt.Errorf("machine %d: record start: %w", m.id, err)
	}
	return nil
}

// Stop ends the loop and finalizes the trace. Once Stop returns no
// further tick runs and nothing more is appended to the trace. Stopping a
// machine that never ran is allowed; stopping twice is a no-op.
func (m *Machine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Stopped:
		return nil
	case Created:
		m.state = Stopped
		return m.rec.Close(m.id)
	}

	m.state = Stopped
	if m.cancel != nil {
		m.cancel()
	}
	line := model.TraceRecord{
		Kind:        model.TraceStopped,
		Detail:      fmt.Sprintf("after %d ticks", m.ticks),
		SystemTime:  m.now(),
		LogicalTime: m.clock.Value(),
	}.Format()
	recErr := m.rec.Record(m.id, line)
	closeErr := m.rec.Close(m.id)
	if err := errors.Join(recErr, closeErr); err != nil {
		return fmt.Errorf("machine %d: finalize trace: %w", m.id, err)
	}
	return nil
}

// abort stops the machine after a recorder failure, closing the trace
// without trying to write to it again.
func (m *Machine) abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Stopped {
		return
	}
	m.state = Stopped
	if m.cancel != nil {
		m.cancel()
	}
	_ = m.rec.Close(m.id)
}
