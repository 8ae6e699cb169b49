package console

import "time"

// Receiver turns relayed messages into log entries for exactly one
// execution-context generation. Messages from any other generation are
// dropped, so output of a discarded context never follows the reload marker
// of its successor.
type Receiver struct {
	log        *Log
	now        func() time.Time
	generation uint64
}

// NewReceiver creates a receiver appending to log. A nil clock uses
// time.Now.
func NewReceiver(log *Log, now func() time.Time) *Receiver {
	if now == nil {
		now = time.Now
	}
	return &Receiver{log: log, now: now}
}

// Bind attaches the receiver to a new generation.
func (r *Receiver) Bind(generation uint64) {
	r.generation = generation
}

func (r *Receiver) Generation() uint64 {
	return r.generation
}

// Receive appends msg if it belongs to the bound generation. The entry's
// timestamp is the host clock at receipt.
func (r *Receiver) Receive(generation uint64, msg Message) (Entry, bool) {
	if generation != r.generation {
		return Entry{}, false
	}
	if !msg.Level.Valid() {
		return Entry{}, false
	}
	e := Entry{Kind: msg.Level, Text: msg.Text(), ObservedAt: r.now()}
	r.log.Append(e)
	return e, true
}
