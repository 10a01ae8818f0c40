package machine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/daviddao/clockdrift/pkg/model"
)

// Outcomes is the number of equally likely choices drawn each tick.
// 1 sends to peer A, 2 to peer B, 3 to both; 4..Outcomes are internal
// events.
const Outcomes = 10

const (
	outcomeSendA    = 1
	outcomeSendB    = 2
	outcomeSendBoth = 3
)

// tick makes exactly one decision and records exactly one trace line.
// Caller holds mu.
func (m *Machine) tick() error {
	if m.mode == ModeLamport && !m.inbox.IsEmpty() {
		return m.receive()
	}

	switch m.rnd.Intn(Outcomes) + 1 {
	case outcomeSendA:
		return m.send(m.peers[0])
	case outcomeSendB:
		return m.send(m.peers[1])
	case outcomeSendBoth:
		return m.send(m.peers[0], m.peers[1])
	default:
		return m.internalEvent()
	}
}

// send appends the same message to every target inbox and records a
// single line stamped with the current logical time.
func (m *Machine) send(targets ...Peer) error {
	lt := m.clock.Value()
	msg := model.NewMessage(m.id, lt)
	ids := make([]string, len(targets))
	for i, p := range targets {
		p.Inbox.Append(msg)
		ids[i] = strconv.Itoa(p.ID)
	}
	return m.record(model.TraceRecord{
		Kind:        model.TraceSent,
		Detail:      fmt.Sprintf("to %s: %s", strings.Join(ids, ","), msg.Body),
		SystemTime:  m.now(),
		LogicalTime: lt,
	})
}

func (m *Machine) internalEvent() error {
	return m.record(model.TraceRecord{
		Kind:        model.TraceInternal,
		SystemTime:  m.now(),
		LogicalTime: m.clock.Value(),
	})
}

// receive drains the inbox and moves the clock up to the latest sender
// time seen; the loop's own increment then supplies IR2's +1.
func (m *Machine) receive() error {
	msgs := m.inbox.DrainAll()
	if len(msgs) == 0 {
		return m.internalEvent()
	}
	var maxTS int64
	from := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if msg.LocalTime > maxTS {
			maxTS = msg.LocalTime
		}
		from = append(from, strconv.Itoa(msg.From))
	}
	lt := m.clock.Observe(maxTS)
	return m.record(model.TraceRecord{
		Kind: model.TraceReceived,
		Detail: fmt.Sprintf("%d message(s) from %s, queue size %d, max sender time %d",
			len(msgs), strings.Join(from, ","), len(msgs), maxTS),
		SystemTime:  m.now(),
		LogicalTime: lt,
	})
}

func (m *Machine) record(r model.TraceRecord) error {
	return m.rec.Record(m.id, r.Format())
}
