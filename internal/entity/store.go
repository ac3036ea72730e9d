package entity

import (
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/roach88/livesync/internal/ir"
)

// Change describes the effect of one applied event on one record.
// Before is nil for a fresh insert; After is nil for a delete.
type Change struct {
	Seq    int64
	Kind   ir.ChangeKind
	ID     ir.RecordID
	Before *ir.Record
	After  *ir.Record
}

// Store is the client-side cache of authority records.
//
// Records are kept in insertion order. Every record handed out is a deep
// copy, so callers never alias the store's entries.
//
// Thread-safety: all methods are safe for concurrent use. Mutations are
// expected to come from one writer (the engine); readers take the read lock.
type Store struct {
	mu      sync.RWMutex
	records map[ir.RecordID]ir.Record
	order   []ir.RecordID
	lastSeq int64

	needsResync  bool
	resyncReason string
}

// New creates an empty store at seq 0.
func New() *Store {
	return &Store{records: make(map[ir.RecordID]ir.Record)}
}

// Apply applies one change event.
//
// The event's seq must be exactly LastSeq()+1. A higher seq is a gap: the
// store moves to NeedsResync and the event is not applied. A seq at or below
// LastSeq is stale and ignored. Updating or deleting an unknown id also moves
// the store to NeedsResync. While in NeedsResync every Apply fails with
// ErrNeedsResync and mutates nothing.
func (s *Store) Apply(ev ir.ChangeEvent) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.needsResync {
		return Change{}, fmt.Errorf("apply seq %d: %w (%s)", ev.Seq, ErrNeedsResync, s.resyncReason)
	}
	if ev.Seq <= s.lastSeq {
		return Change{}, fmt.Errorf("apply seq %d (last %d): %w", ev.Seq, s.lastSeq, ErrStaleEvent)
	}
	if ev.Seq != s.lastSeq+1 {
		err := &SequenceGapError{Expected: s.lastSeq + 1, Got: ev.Seq}
		s.markNeedsResyncLocked(err.Error())
		return Change{}, err
	}
	if err := ev.Validate(); err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		s.markNeedsResyncLocked(wrapped.Error())
		return Change{}, wrapped
	}

	id := ev.TargetID()
	change := Change{Seq: ev.Seq, Kind: ev.Kind, ID: id}
	before, exists := s.records[id]
	if exists {
		cp := before.Clone()
		change.Before = &cp
	}

	switch ev.Kind {
	case ir.ChangeInsert:
		rec := ev.Record.Clone()
		rec.Fields = ir.WithoutNulls(rec.Fields)
		if exists {
			rec.Version = max(rec.Version, before.Version+1)
		} else {
			rec.Version = max(rec.Version, 1)
			s.order = append(s.order, id)
		}
		s.records[id] = rec
		after := rec.Clone()
		change.After = &after

	case ir.ChangeUpdate:
		if !exists {
			err := fmt.Errorf("update %s at seq %d: %w", id, ev.Seq, ErrUnknownRecord)
			s.markNeedsResyncLocked(err.Error())
			return Change{}, err
		}
		rec := before.Clone()
		rec.Fields = ir.ApplyDeltas(rec.Fields, ev.Deltas)
		rec.Version++
		s.records[id] = rec
		after := rec.Clone()
		change.After = &after

	case ir.ChangeDelete:
		if !exists {
			err := fmt.Errorf("delete %s at seq %d: %w", id, ev.Seq, ErrUnknownRecord)
			s.markNeedsResyncLocked(err.Error())
			return Change{}, err
		}
		delete(s.records, id)
		if i := slices.Index(s.order, id); i >= 0 {
			s.order = slices.Delete(s.order, i, i+1)
		}
	}

	s.lastSeq = ev.Seq
	return change, nil
}

// IngestSnapshot replaces the store's contents with the snapshot, sets
// LastSeq to the snapshot's seq, and clears NeedsResync. A duplicated id in
// the snapshot keeps its first position and its last contents.
func (s *Store) IngestSnapshot(snap ir.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[ir.RecordID]ir.Record, len(snap.Records))
	s.order = make([]ir.RecordID, 0, len(snap.Records))
	for _, r := range snap.Records {
		rec := r.Clone()
		rec.Fields = ir.WithoutNulls(rec.Fields)
		rec.Version = max(rec.Version, 1)
		if _, dup := s.records[rec.ID]; !dup {
			s.order = append(s.order, rec.ID)
		}
		s.records[rec.ID] = rec
	}
	s.lastSeq = snap.Seq
	s.needsResync = false
	s.resyncReason = ""
}

// MarkNeedsResync blocks further Apply calls until the next snapshot.
func (s *Store) MarkNeedsResync(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markNeedsResyncLocked(reason)
}

func (s *Store) markNeedsResyncLocked(reason string) {
	if s.needsResync {
		return
	}
	s.needsResync = true
	s.resyncReason = reason
}

// NeedsResync reports whether the store is waiting for a snapshot, and why.
func (s *Store) NeedsResync() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.needsResync, s.resyncReason
}

// LastSeq returns the seq of the last applied event or snapshot.
func (s *Store) LastSeq() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id ir.RecordID) (ir.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return ir.Record{}, false
	}
	return r.Clone(), true
}

// Records returns copies of all records in insertion order.
func (s *Store) Records() []ir.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ir.Record, len(s.order))
	for i, id := range s.order {
		out[i] = s.records[id].Clone()
	}
	return out
}

// Scan iterates all records in insertion order. Each iteration works on a
// copy taken when it starts, so the sequence is finite and restartable and
// never observes a concurrent Apply half-way.
func (s *Store) Scan() iter.Seq[ir.Record] {
	return func(yield func(ir.Record) bool) {
		for _, r := range s.Records() {
			if !yield(r) {
				return
			}
		}
	}
}
