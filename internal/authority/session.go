package authority

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/predicate"
	"github.com/roach88/livesync/internal/store"
	"github.com/roach88/livesync/internal/wire"
)

// session is one connected client.
//
// queries, known and clock are only touched under Hub.mu, which also orders
// store writes, so the events a session sees are in commit order. Frames are
// queued on the outbox and written by writeLoop, so routing never blocks on
// a slow client.
type session struct {
	id    string
	conn  wire.Conn
	clock seqClock

	queries map[string]predicate.Query
	order   []string
	known   map[ir.RecordID]struct{}

	outMu  sync.Mutex
	outbox []wire.Message
	wake   chan struct{}
}

// seqClock numbers the frames of one session: a snapshot carries current,
// and every event after it the next value. Each connection starts at 0.
type seqClock struct {
	seq int64
}

func (c *seqClock) next() int64 {
	c.seq++
	return c.seq
}

func (c *seqClock) current() int64 { return c.seq }

func newSession(id string, conn wire.Conn) *session {
	return &session{
		id:      id,
		conn:    conn,
		queries: make(map[string]predicate.Query),
		known:   make(map[ir.RecordID]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

func (s *session) enqueue(msgs ...wire.Message) {
	if len(msgs) == 0 {
		return
	}
	s.outMu.Lock()
	s.outbox = append(s.outbox, msgs...)
	s.outMu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *session) writeLoop(ctx context.Context) error {
	for {
		s.outMu.Lock()
		batch := s.outbox
		s.outbox = nil
		s.outMu.Unlock()

		for _, m := range batch {
			if err := s.conn.Write(m); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
	}
}

// visible reports whether any subscribed query matches r.
func (s *session) visible(r ir.Record) bool {
	for _, id := range s.order {
		if s.queries[id].Matches(r) {
			return true
		}
	}
	return false
}

// subscribe registers q under id. Reports false if id was already
// registered (the request is then a no-op).
func (s *session) subscribe(id string, q predicate.Query) bool {
	if _, ok := s.queries[id]; ok {
		return false
	}
	s.queries[id] = q
	s.order = append(s.order, id)
	return true
}

func (s *session) unsubscribe(id string) bool {
	if _, ok := s.queries[id]; !ok {
		return false
	}
	delete(s.queries, id)
	for i, qid := range s.order {
		if qid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// route turns a committed change into the event this session must see, if
// any, and updates the known set.
//
//   - not known, now visible: insert with the full record
//   - known, still visible: update with the field deltas
//   - known, no longer visible: delete
func (s *session) route(c store.Change) (ir.ChangeEvent, bool) {
	_, known := s.known[c.RecordID]
	visible := c.After != nil && s.visible(*c.After)

	switch {
	case !known && visible:
		s.known[c.RecordID] = struct{}{}
		return ir.Insert(s.clock.next(), c.After.Clone()), true
	case known && visible:
		deltas := c.Deltas()
		if len(deltas) == 0 {
			return ir.ChangeEvent{}, false
		}
		return ir.Update(s.clock.next(), c.RecordID, deltas), true
	case known && !visible:
		delete(s.known, c.RecordID)
		return ir.Delete(s.clock.next(), c.RecordID), true
	}
	return ir.ChangeEvent{}, false
}

// reconcile brings the known set in line with the current subscriptions,
// emitting inserts for records that became visible and deletes for records
// that stopped being visible. records must be the full record table in
// insertion order.
func (s *session) reconcile(records []ir.Record) []ir.ChangeEvent {
	var events []ir.ChangeEvent
	present := make(map[ir.RecordID]struct{}, len(records))
	for _, r := range records {
		present[r.ID] = struct{}{}
		_, known := s.known[r.ID]
		visible := s.visible(r)
		switch {
		case visible && !known:
			s.known[r.ID] = struct{}{}
			events = append(events, ir.Insert(s.clock.next(), r.Clone()))
		case !visible && known:
			delete(s.known, r.ID)
			events = append(events, ir.Delete(s.clock.next(), r.ID))
		}
	}
	for id := range s.known {
		if _, ok := present[id]; !ok {
			slog.Warn("known record missing from store", "session", s.id, "record_id", id)
			delete(s.known, id)
		}
	}
	return events
}

// snapshot resets the known set to the visible records and stamps them with
// the current seq.
func (s *session) snapshot(records []ir.Record) ir.Snapshot {
	s.known = make(map[ir.RecordID]struct{})
	snap := ir.Snapshot{Seq: s.clock.current(), Records: []ir.Record{}}
	for _, r := range records {
		if s.visible(r) {
			s.known[r.ID] = struct{}{}
			snap.Records = append(snap.Records, r.Clone())
		}
	}
	return snap
}
