package machine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/daviddao/clockdrift/pkg/inbox"
	"github.com/daviddao/clockdrift/pkg/model"
	"github.com/daviddao/clockdrift/pkg/trace"
)

// internalDraw makes Intn(Outcomes)+1 land on an internal event.
const internalDraw = Outcomes - 1

// scriptedSource returns vals in order, then fallback forever.
type scriptedSource struct {
	mu       sync.Mutex
	vals     []int
	fallback int
	calls    int
}

func (s *scriptedSource) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.vals) > 0 {
		v := s.vals[0]
		s.vals = s.vals[1:]
		return v % n
	}
	return s.fallback % n
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeTime advances a quarter second on every read.
type fakeTime struct {
	mu sync.Mutex
	t  float64
}

func (f *fakeTime) Now() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t += 0.25
	return f.t
}

// stepSleeper never blocks. It records each requested pause, runs an
// optional hook and stops the machine after stopAfter pauses.
type stepSleeper struct {
	m         *Machine
	stopAfter int
	calls     int
	durations []time.Duration
	onSleep   func(call int)
}

func (s *stepSleeper) Sleep(ctx context.Context, d time.Duration) {
	s.calls++
	s.durations = append(s.durations, d)
	if s.onSleep != nil {
		s.onSleep(s.calls)
	}
	if s.stopAfter > 0 && s.calls >= s.stopAfter {
		s.m.Stop()
	}
}

type fixture struct {
	m     *Machine
	own   *inbox.Inbox
	peerA *inbox.Inbox
	peerB *inbox.Inbox
	rec   *trace.MemoryRecorder
	src   *scriptedSource
	sl    *stepSleeper
}

// newFixture builds machine 0 with peers 1 and 2.
func newFixture(t *testing.T, rate, stopAfter int, mode Mode, draws ...int) *fixture {
	t.Helper()
	f := &fixture{
		own:   inbox.New(),
		peerA: inbox.New(),
		peerB: inbox.New(),
		rec:   trace.NewMemoryRecorder(),
		src:   &scriptedSource{vals: draws, fallback: internalDraw},
		sl:    &stepSleeper{stopAfter: stopAfter},
	}
	clk := &fakeTime{t: 1000}
	m, err := New(Config{
		ID:       0,
		Rate:     rate,
		Inbox:    f.own,
		Peers:    []Peer{{ID: 1, Inbox: f.peerA}, {ID: 2, Inbox: f.peerB}},
		Recorder: f.rec,
		Mode:     mode,
		Rand:     f.src,
		Now:      clk.Now,
		Sleep:    f.sl.Sleep,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.m = m
	f.sl.m = m
	return f
}

func (f *fixture) records(t *testing.T) []model.TraceRecord {
	t.Helper()
	lines := f.rec.Lines(f.m.ID())
	out := make([]model.TraceRecord, len(lines))
	for i, l := range lines {
		r, err := model.ParseTraceLine(l)
		if err != nil {
			t.Fatalf("line %d %q: %v", i, l, err)
		}
		out[i] = r
	}
	return out
}
