package testutil

import (
	"sync"

	"github.com/roach88/livesync/internal/ir"
)

// EventStream stamps change events with consecutive sequence numbers, the
// way one authority session does.
//
// The first event gets seq 1. Reset starts over, so the same scenario can be
// replayed with identical seq values.
//
// Thread-safety: all methods are safe for concurrent use.
type EventStream struct {
	mu  sync.Mutex
	seq int64
}

// NewEventStream creates a stream whose next event has seq 1.
func NewEventStream() *EventStream {
	return &EventStream{}
}

// NewEventStreamAt creates a stream that continues after seq, for example
// after a snapshot taken at seq.
func NewEventStreamAt(seq int64) *EventStream {
	return &EventStream{seq: seq}
}

func (s *EventStream) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// Current returns the seq of the last stamped event.
func (s *EventStream) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Skip consumes n sequence numbers without producing events, simulating
// events lost in transit.
func (s *EventStream) Skip(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq += n
}

// Reset rewinds the stream to 0.
func (s *EventStream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = 0
}

// Insert stamps an insert of r.
func (s *EventStream) Insert(r ir.Record) ir.ChangeEvent {
	return ir.Insert(s.next(), r)
}

// Update stamps an update of id.
func (s *EventStream) Update(id ir.RecordID, deltas ir.IRObject) ir.ChangeEvent {
	return ir.Update(s.next(), id, deltas)
}

// Delete stamps a delete of id.
func (s *EventStream) Delete(id ir.RecordID) ir.ChangeEvent {
	return ir.Delete(s.next(), id)
}

// Album builds an album record with the fields used throughout the tests.
func Album(id, name, artist string, year int64) ir.Record {
	return ir.Record{
		ID:         ir.RecordID(id),
		Collection: "album",
		Fields: ir.IRObject{
			"name":   ir.IRString(name),
			"artist": ir.IRString(artist),
			"year":   ir.IRInt(year),
		},
	}
}
