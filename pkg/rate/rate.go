// Package rate picks the tick rate of each simulated machine.
package rate

import (
	"errors"
	"fmt"
)

// Default bounds, in ticks per wall-clock second.
const (
	DefaultMin = 1
	DefaultMax = 6
)

// ErrInvalidRange is returned for a range that cannot yield a positive rate.
var ErrInvalidRange = errors.New("invalid tick rate range")

// Source is the random capability used for rate choice.
// *math/rand.Rand satisfies it.
type Source interface {
	Intn(n int) int
}

// Generator draws uniform integer tick rates from [Min, Max].
type Generator struct {
	Min, Max int
	Rand     Source
}

// Validate checks that every rate the generator can produce is positive.
func (g Generator) Validate() error {
	if g.Min < 1 {
		return fmt.Errorf("%w: min %d must be at least 1", ErrInvalidRange, g.Min)
	}
	if g.Max < g.Min {
		return fmt.Errorf("%w: max %d below min %d", ErrInvalidRange, g.Max, g.Min)
	}
	if g.Rand == nil {
		return fmt.Errorf("%w: no random source", ErrInvalidRange)
	}
	return nil
}

// Next returns one rate. The generator must be valid.
func (g Generator) Next() int {
	return g.Min + g.Rand.Intn(g.Max-g.Min+1)
}

// Draw returns n rates, one per machine.
func (g Generator) Draw(n int) ([]int, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	rates := make([]int, n)
	for i := range rates {
		rates[i] = g.Next()
	}
	return rates, nil
}
