// Package model defines the core domain types for clockdrift.
//
// Clockdrift simulates a handful of machines that each tick at their own
// wall-clock rate:
//
//   - Every machine owns a Lamport-style logical clock that advances by one
//     per tick. Wall-clock drift between machines comes from their
//     different tick rates, not from the logical clocks themselves.
//
//   - Machines exchange Messages through per-machine inboxes. The text
//     payload names the sender and its logical time; LocalTime carries the
//     same value for the receive mode that applies Lamport's IR2.
//
//   - Every tick produces exactly one TraceRecord, rendered as a single
//     human-readable line and handed to a recorder.
package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message is one entry in a machine's inbox.
type Message struct {
	From      int    `json:"from"`
	LocalTime int64  `json:"local_time"`
	Body      string `json:"body"`
}

// NewMessage builds the message a machine sends at the given logical time.
func NewMessage(from int, localTime int64) Message {
	return Message{
		From:      from,
		LocalTime: localTime,
		Body:      fmt.Sprintf("It is %d o'clock on machine %d.", localTime, from),
	}
}

// TraceKind enumerates the kinds of lines in a machine's trace.
type TraceKind string

const (
	TraceStarted  TraceKind = "STARTED"
	TraceSent     TraceKind = "MESSAGE SENT"
	TraceReceived TraceKind = "MESSAGE RECEIVED"
	TraceInternal TraceKind = "INTERNAL EVENT"
	TraceStopped  TraceKind = "STOPPED"
)

// Valid reports whether k is one of the known trace kinds.
func (k TraceKind) Valid() bool {
	switch k {
	case TraceStarted, TraceSent, TraceReceived, TraceInternal, TraceStopped:
		return true
	}
	return false
}

const (
	systemTimePrefix  = "SYSTEM TIME: "
	logicalTimePrefix = "LOGICAL TIME: "
)

// ErrMalformedTrace is returned by ParseTraceLine for lines it cannot read.
var ErrMalformedTrace = errors.New("malformed trace line")

// TraceRecord is one event in a machine's trace. SystemTime is wall-clock
// seconds; LogicalTime is the machine's local clock when the event happened.
type TraceRecord struct {
	Kind        TraceKind `json:"kind"`
	Detail      string    `json:"detail,omitempty"`
	SystemTime  float64   `json:"system_time"`
	LogicalTime int64     `json:"logical_time"`
}

// Format renders the record as a single tab-separated line:
//
//	MESSAGE SENT<TAB>It is 4 o'clock on machine 1.<TAB>SYSTEM TIME: 1700000000.250000<TAB>LOGICAL TIME: 4
//
// The detail column is omitted when empty. Tabs and newlines inside the
// detail are flattened to spaces so a record never spans two lines.
func (r TraceRecord) Format() string {
	parts := make([]string, 0, 4)
	parts = append(parts, string(r.Kind))
	if r.Detail != "" {
		parts = append(parts, flatten(r.Detail))
	}
	parts = append(parts,
		systemTimePrefix+strconv.FormatFloat(r.SystemTime, 'f', 6, 64),
		logicalTimePrefix+strconv.FormatInt(r.LogicalTime, 10),
	)
	return strings.Join(parts, "\t")
}

// ParseTraceLine is the inverse of Format.
func ParseTraceLine(line string) (TraceRecord, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(fields) < 3 || len(fields) > 4 {
		return TraceRecord{}, fmt.Errorf("%w: %d fields", ErrMalformedTrace, len(fields))
	}
	r := TraceRecord{Kind: TraceKind(fields[0])}
	if !r.Kind.Valid() {
		return TraceRecord{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedTrace, fields[0])
	}
	if len(fields) == 4 {
		r.Detail = fields[1]
	}

	sys, ok := strings.CutPrefix(fields[len(fields)-2], systemTimePrefix)
	if !ok {
		return TraceRecord{}, fmt.Errorf("%w: missing system time", ErrMalformedTrace)
	}
	var err error
	if r.SystemTime, err = strconv.ParseFloat(sys, 64); err != nil {
		return TraceRecord{}, fmt.Errorf("%w: system time: %v", ErrMalformedTrace, err)
	}

	lt, ok := strings.CutPrefix(fields[len(fields)-1], logicalTimePrefix)
	if !ok {
		return TraceRecord{}, fmt.Errorf("%w: missing logical time", ErrMalformedTrace)
	}
	if r.LogicalTime, err = strconv.ParseInt(lt, 10, 64); err != nil {
		return TraceRecord{}, fmt.Errorf("%w: logical time: %v", ErrMalformedTrace, err)
	}
	return r, nil
}

func flatten(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\r':
			return ' '
		}
		return r
	}, s)
}

// Pointstamp is the latest logical time observed in one machine's trace.
type Pointstamp struct {
	MachineID   int   `json:"machine_id"`
	LogicalTime int64 `json:"logical_time"`
}

// Less orders pointstamps by the Lamport total order: logical time, then
// machine id.
func (p Pointstamp) Less(q Pointstamp) bool {
	if p.LogicalTime != q.LogicalTime {
		return p.LogicalTime < q.LogicalTime
	}
	return p.MachineID < q.MachineID
}

// Run is one execution of a simulated cluster.
type Run struct {
	ID         string     `json:"id"`
	Seed       int64      `json:"seed"`
	Mode       string     `json:"mode"`
	Machines   int        `json:"machines"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// MachineInfo describes a machine as it was configured for a run.
type MachineInfo struct {
	RunID string `json:"run_id"`
	ID    int    `json:"id"`
	Rate  int    `json:"rate"`
	PeerA int    `json:"peer_a"`
	PeerB int    `json:"peer_b"`
}

// TraceLine is a stored trace record together with its raw text.
type TraceLine struct {
	RunID       string    `json:"run_id"`
	MachineID   int       `json:"machine_id"`
	Seq         int64     `json:"seq"`
	Kind        TraceKind `json:"kind,omitempty"`
	SystemTime  float64   `json:"system_time"`
	LogicalTime int64     `json:"logical_time"`
	Line        string    `json:"line"`
}
