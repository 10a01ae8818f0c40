// Package inbox implements the per-machine message queue.
//
// An Inbox has exactly one reader, the machine that owns it, and any
// number of writers, its peers. Appends from one sender keep their order;
// appends from different senders interleave in the order they happened.
package inbox

import (
	"sync"

	"github.com/daviddao/clockdrift/pkg/model"
)

// Inbox is an unbounded FIFO of messages, safe for concurrent use.
type Inbox struct {
	mu   sync.Mutex
	msgs []model.Message
}

// New returns an empty inbox.
func New() *Inbox { return &Inbox{} }

// Append adds msg to the tail of the queue.
func (in *Inbox) Append(msg model.Message) {
	in.mu.Lock()
	in.msgs = append(in.msgs, msg)
	in.mu.Unlock()
}

// DrainAll removes and returns every queued message in arrival order.
// It never blocks; an empty inbox yields nil.
func (in *Inbox) DrainAll() []model.Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.msgs) == 0 {
		return nil
	}
	out := in.msgs
	in.msgs = nil
	return out
}

// IsEmpty reports whether no message is queued.
func (in *Inbox) IsEmpty() bool {
	return in.Len() == 0
}

// Len returns the number of queued messages.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.msgs)
}
