// Package clock implements the per-machine logical clock.
//
// From Lamport (1978), two implementation rules govern the clock:
//
//	IR1 (internal event): Before any internal event, increment the clock.
//	IR2 (message receipt): On receiving a message with timestamp t,
//	     set the clock to max(own, t) + 1.
//
// A simulated machine applies IR1 once per tick. Observe is the first half
// of IR2 for callers whose tick loop supplies the +1 itself.
//
// Clock is goroutine-safe: the owning machine is the only writer, but
// observers (tests, the cluster status view) read it from other goroutines.
package clock

import "sync"

// Clock is a Lamport logical clock. The zero value is a clock at 0.
type Clock struct {
	mu sync.Mutex
	ts int64
}

// Tick implements IR1: increment the clock. Returns the new timestamp.
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ts++
	return c.ts
}

// Receive implements IR2: on receiving a message with timestamp received,
// set the clock to max(own, received) + 1. Returns the new timestamp.
func (c *Clock) Receive(received int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if received > c.ts {
		c.ts = received
	}
	c.ts++
	return c.ts
}

// Observe advances the clock to received if it is ahead, without the +1.
func (c *Clock) Observe(received int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if received > c.ts {
		c.ts = received
	}
	return c.ts
}

// Value returns the current clock value without advancing it.
func (c *Clock) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ts
}

// Set initializes the clock to a specific value. A machine resets its
// clock to 0 when it starts running.
func (c *Clock) Set(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ts = v
}

// TotalOrderLess defines a deterministic total order over trace events.
// Given two events with timestamps tsA and tsB from machines idA and idB,
// event A is "less" if:
//
//	tsA < tsB, or
//	tsA == tsB and idA < idB
//
// This is the standard Lamport total order.
func TotalOrderLess(tsA int64, idA int, tsB int64, idB int) bool {
	if tsA != tsB {
		return tsA < tsB
	}
	return idA < idB
}
