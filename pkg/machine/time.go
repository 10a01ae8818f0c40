package machine

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// TimeSource returns the current wall-clock time in seconds.
type TimeSource func() float64

// SystemTime reads the system clock.
func SystemTime() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Sleeper pauses the calling machine for d. It may return early when ctx
// is done.
type Sleeper func(ctx context.Context, d time.Duration)

// SleepContext waits for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Source is the random capability used for the per-tick choice.
// *math/rand.Rand satisfies it.
type Source interface {
	Intn(n int) int
}

type lockedSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSource returns a seeded Source that is safe for concurrent use.
func NewSource(seed int64) Source {
	return &lockedSource{rnd: rand.New(rand.NewSource(seed))}
}

func (s *lockedSource) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Intn(n)
}

// Mode selects how a machine treats its own inbox.
type Mode int

const (
	// ModeAsWritten never reads the inbox: received messages accumulate.
	ModeAsWritten Mode = iota
	// ModeLamport drains a non-empty inbox instead of drawing an action
	// and advances the clock past the latest sender time (Lamport IR2).
	ModeLamport
)

func (m Mode) String() string {
	switch m {
	case ModeAsWritten:
		return "as-written"
	case ModeLamport:
		return "lamport"
	default:
		return "unknown"
	}
}

// ParseMode is the inverse of Mode.String. The empty string selects
// ModeAsWritten.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "as-written":
		return ModeAsWritten, nil
	case "lamport":
		return ModeLamport, nil
	}
	return 0, fmt.Errorf("unknown mode %q (want as-written or lamport)", s)
}
