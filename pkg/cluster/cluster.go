// Package cluster wires simulated machines together and runs them.
//
// A cluster owns one inbox per machine and hands every machine the inboxes
// of exactly two peers. All randomness of the setup (tick rates, peer
// order, per-machine seeds) is drawn here from a single seeded source, so
// a seed reproduces the same cluster.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/daviddao/clockdrift/pkg/inbox"
	"github.com/daviddao/clockdrift/pkg/machine"
	"github.com/daviddao/clockdrift/pkg/model"
	"github.com/daviddao/clockdrift/pkg/rate"
	"github.com/daviddao/clockdrift/pkg/trace"
)

// DefaultMachines is the size of the classic three-machine setup.
const DefaultMachines = 3

var (
	ErrTooFewMachines = errors.New("cluster needs at least 3 machines")
	ErrTopology       = errors.New("invalid topology")
	ErrAlreadyRunning = errors.New("cluster already ran")
)

// Options configures New. Zero values pick the defaults.
type Options struct {
	Machines int // default DefaultMachines

	// Rates fixes each machine's tick rate. When empty, rates are drawn
	// uniformly from [MinRate, MaxRate] (default 1..6).
	Rates            []int
	MinRate, MaxRate int

	// Seed drives every random choice of the cluster. 0 picks a
	// time-based seed; Seed() reports the one in use.
	Seed int64

	Mode machine.Mode

	// ShufflePeers randomizes the A/B order of each default peer pair.
	ShufflePeers bool

	// Topology maps each machine id to its ordered (A, B) peers. It must
	// cover every id in [0, Machines). Nil selects the ring: machine i
	// talks to i-1 and i+1, which in a three-machine cluster is everyone
	// else. An explicit topology is used verbatim and never shuffled.
	Topology map[int][2]int

	Recorder trace.Recorder
	Logger   *log.Logger // nil discards

	Now   machine.TimeSource
	Sleep machine.Sleeper
}

// Cluster is a set of machines sharing one recorder.
type Cluster struct {
	seed     int64
	inboxes  []*inbox.Inbox
	machines []*machine.Machine
	logger   *log.Logger

	mu      sync.Mutex
	started bool
	stopped bool
}

// New validates opts, draws rates and peer orders, and builds every
// machine in the Created state.
func New(opts Options) (*Cluster, error) {
	n := opts.Machines
	if n == 0 {
		n = DefaultMachines
	}
	if n < DefaultMachines {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewMachines, n)
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(seed))

	rates, err := drawRates(opts, n, rnd)
	if err != nil {
		return nil, err
	}
	topo, err := buildTopology(opts, n, rnd)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	c := &Cluster{
		seed:     seed,
		inboxes:  make([]*inbox.Inbox, n),
		machines: make([]*machine.Machine, n),
		logger:   logger,
	}
	for i := range c.inboxes {
		c.inboxes[i] = inbox.New()
	}
	for id := 0; id < n; id++ {
		pair := topo[id]
		m, err := machine.New(machine.Config{
			ID:    id,
			Rate:  rates[id],
			Inbox: c.inboxes[id],
			Peers: []machine.Peer{
				{ID: pair[0], Inbox: c.inboxes[pair[0]]},
				{ID: pair[1], Inbox: c.inboxes[pair[1]]},
			},
			Recorder: opts.Recorder,
			Mode:     opts.Mode,
			Rand:     machine.NewSource(rnd.Int63()),
			Now:      opts.Now,
			Sleep:    opts.Sleep,
		})
		if err != nil {
			return nil, err
		}
		c.machines[id] = m
	}
	return c, nil
}

func drawRates(opts Options, n int, rnd *rand.Rand) ([]int, error) {
	if len(opts.Rates) > 0 {
		if len(opts.Rates) != n {
			return nil, fmt.Errorf("got %d rates for %d machines", len(opts.Rates), n)
		}
		return append([]int(nil), opts.Rates...), nil
	}
	gen := rate.Generator{Min: opts.MinRate, Max: opts.MaxRate, Rand: rnd}
	if gen.Min == 0 && gen.Max == 0 {
		gen.Min, gen.Max = rate.DefaultMin, rate.DefaultMax
	}
	return gen.Draw(n)
}

func buildTopology(opts Options, n int, rnd *rand.Rand) (map[int][2]int, error) {
	if opts.Topology != nil {
		return opts.Topology, validateTopology(opts.Topology, n)
	}
	topo := make(map[int][2]int, n)
	for id := 0; id < n; id++ {
		pair := []int{(id + 1) % n, (id - 1 + n) % n}
		sort.Ints(pair)
		if opts.ShufflePeers && rnd.Intn(2) == 1 {
			pair[0], pair[1] = pair[1], pair[0]
		}
		topo[id] = [2]int{pair[0], pair[1]}
	}
	return topo, nil
}

func validateTopology(topo map[int][2]int, n int) error {
	for id := 0; id < n; id++ {
		pair, ok := topo[id]
		if !ok {
			return fmt.Errorf("%w: no peers for machine %d", ErrTopology, id)
		}
		for _, p := range pair {
			if p < 0 || p >= n {
				return fmt.Errorf("%w: machine %d: unknown peer %d", ErrTopology, id, p)
			}
			if p == id {
				return fmt.Errorf("%w: machine %d peers with itself", ErrTopology, id)
			}
		}
		if pair[0] == pair[1] {
			return fmt.Errorf("%w: machine %d: peer %d listed twice", ErrTopology, id, pair[0])
		}
	}
	if len(topo) != n {
		return fmt.Errorf("%w: %d entries for %d machines", ErrTopology, len(topo), n)
	}
	return nil
}

// Seed returns the seed the cluster was built from.
func (c *Cluster) Seed() int64 { return c.seed }

// Machines returns the machines ordered by id.
func (c *Cluster) Machines() []*machine.Machine {
	return append([]*machine.Machine(nil), c.machines...)
}

// Inbox returns the inbox of machine id, or nil for an unknown id.
func (c *Cluster) Inbox(id int) *inbox.Inbox {
	if id < 0 || id >= len(c.inboxes) {
		return nil
	}
	return c.inboxes[id]
}

// MachineInfos describes every machine for the trace store. RunID is left
// for the caller to fill.
func (c *Cluster) MachineInfos() []model.MachineInfo {
	infos := make([]model.MachineInfo, len(c.machines))
	for i, m := range c.machines {
		peers := m.Peers()
		infos[i] = model.MachineInfo{
			ID:    m.ID(),
			Rate:  m.Rate(),
			PeerA: peers[0].ID,
			PeerB: peers[1].ID,
		}
	}
	return infos
}

// Run starts every machine on its own goroutine and waits for all of them
// to stop. The machines are released together once every goroutine is
// up. If one machine fails the rest are cancelled. Run returns the
// machines' errors joined; a cluster runs at most once.
func (c *Cluster) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.started = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, info := range c.MachineInfos() {
		c.logger.Printf("machine %d: %d ticks/s, peers %d,%d", info.ID, info.Rate, info.PeerA, info.PeerB)
	}

	var ready, done sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, len(c.machines))
	for i, m := range c.machines {
		ready.Add(1)
		done.Add(1)
		go func(i int, m *machine.Machine) {
			defer done.Done()
			ready.Done()
			<-start
			err := m.Run(ctx)
			if errors.Is(err, machine.ErrStopped) && c.isStopped() {
				err = nil
			}
			if err != nil {
				c.logger.Printf("machine %d: %v", m.ID(), err)
				cancel()
			}
			errs[i] = err
		}(i, m)
	}
	ready.Wait()
	c.logger.Printf("starting %d machines (seed %d)", len(c.machines), c.seed)
	close(start)
	done.Wait()

	for _, m := range c.machines {
		c.logger.Printf("machine %d: stopped after %d ticks at logical time %d, %d queued",
			m.ID(), m.Ticks(), m.LocalTime(), m.Inbox().Len())
	}
	return errors.Join(errs...)
}

// Stop stops every machine and finalizes their traces. It is safe to call
// at any time, including before Run.
func (c *Cluster) Stop() error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	var errs []error
	for _, m := range c.machines {
		errs = append(errs, m.Stop())
	}
	return errors.Join(errs...)
}

func (c *Cluster) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
