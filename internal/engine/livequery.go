package engine

import (
	"slices"
	"sync/atomic"

	"github.com/roach88/livesync/internal/entity"
	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/observe"
	"github.com/roach88/livesync/internal/predicate"
)

// QueryID is the structural identity of a query (see predicate.Key).
type QueryID string

// Delta lists what one change did to a result set.
type Delta struct {
	Added   []ir.RecordID
	Removed []ir.RecordID
	Updated []ir.RecordID
}

// Empty reports whether the delta changed nothing.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0
}

// ResultSet is an immutable view of a live query's matches.
//
// Records and the values they hold are shared between readers and must not
// be modified.
type ResultSet struct {
	// Version increases by one for every published change.
	Version int64

	// Records in result order.
	Records []ir.Record

	// Delta is the change that produced this result set from the previous one.
	Delta Delta
}

// IDs returns the record ids in result order.
func (rs *ResultSet) IDs() []ir.RecordID {
	out := make([]ir.RecordID, len(rs.Records))
	for i, r := range rs.Records {
		out[i] = r.ID
	}
	return out
}

// Len returns the number of records.
func (rs *ResultSet) Len() int {
	return len(rs.Records)
}

// LiveQuery is the shared, reference-counted state behind every handle opened
// on a structurally equal query.
//
// The result set is replaced (never mutated) by the engine's writer and
// published through an atomic pointer, so readers never see a partial apply.
type LiveQuery struct {
	id    QueryID
	query predicate.Query

	refs   int // guarded by Engine.mu
	result atomic.Pointer[ResultSet]
}

func newLiveQuery(id QueryID, q predicate.Query, initial []ir.Record) *LiveQuery {
	lq := &LiveQuery{id: id, query: q}
	lq.result.Store(&ResultSet{Version: 1, Records: initial})
	return lq
}

// ID returns the query's structural identity.
func (lq *LiveQuery) ID() QueryID {
	return lq.id
}

// Query returns the query the live query evaluates.
func (lq *LiveQuery) Query() predicate.Query {
	return lq.query
}

// Key returns the dependency key observers track.
func (lq *LiveQuery) Key() observe.Key {
	return observe.Key("query:" + string(lq.id))
}

// Result returns the current result set.
func (lq *LiveQuery) Result() *ResultSet {
	return lq.result.Load()
}

func (lq *LiveQuery) publish(records []ir.Record, d Delta) {
	prev := lq.result.Load()
	lq.result.Store(&ResultSet{Version: prev.Version + 1, Records: records, Delta: d})
}

func (lq *LiveQuery) ordered() bool {
	return len(lq.query.Order) > 0
}

// insert places r into records: appended for unordered queries, at its sorted
// position otherwise.
func (lq *LiveQuery) insert(records []ir.Record, r ir.Record) []ir.Record {
	if !lq.ordered() {
		return append(records, r)
	}
	i, _ := slices.BinarySearchFunc(records, r, func(a, b ir.Record) int {
		return predicate.CompareRecords(lq.query.Order, a, b)
	})
	return slices.Insert(records, i, r)
}

// applyChange computes and publishes the effect of one store change using
// only the changed record. Returns the delta (empty when nothing changed).
func (lq *LiveQuery) applyChange(ch entity.Change) Delta {
	current := lq.result.Load().Records
	pos := slices.IndexFunc(current, func(r ir.Record) bool { return r.ID == ch.ID })
	member := pos >= 0
	matches := ch.After != nil && lq.query.Matches(*ch.After)

	var d Delta
	var next []ir.Record
	switch {
	case !member && matches:
		next = lq.insert(slices.Clone(current), ch.After.Clone())
		d.Added = []ir.RecordID{ch.ID}
	case member && !matches:
		next = slices.Delete(slices.Clone(current), pos, pos+1)
		d.Removed = []ir.RecordID{ch.ID}
	case member && matches:
		next = slices.Clone(current)
		if lq.ordered() {
			next = slices.Delete(next, pos, pos+1)
			next = lq.insert(next, ch.After.Clone())
		} else {
			next[pos] = ch.After.Clone()
		}
		d.Updated = []ir.RecordID{ch.ID}
	default:
		return d
	}

	lq.publish(next, d)
	return d
}

// rebuild recomputes the result set from a freshly ingested store.
//
// Members that still match keep their relative order; records that newly
// match are appended in store order. Ordered queries are re-sorted. The
// result is published only if it differs from the current one; changed
// reports whether it was.
func (lq *LiveQuery) rebuild(records []ir.Record) (d Delta, changed bool) {
	current := lq.result.Load().Records

	matching := make(map[ir.RecordID]ir.Record)
	for _, r := range records {
		if lq.query.Matches(r) {
			matching[r.ID] = r
		}
	}

	next := make([]ir.Record, 0, len(matching))
	previous := make(map[ir.RecordID]ir.Record, len(current))
	for _, r := range current {
		previous[r.ID] = r
		fresh, still := matching[r.ID]
		if !still {
			d.Removed = append(d.Removed, r.ID)
			continue
		}
		if !sameRecord(r, fresh) {
			d.Updated = append(d.Updated, r.ID)
		}
		next = append(next, fresh)
	}
	for _, r := range records {
		if _, isMatch := matching[r.ID]; !isMatch {
			continue
		}
		if _, known := previous[r.ID]; known {
			continue
		}
		next = append(next, r)
		d.Added = append(d.Added, r.ID)
	}

	if lq.ordered() {
		slices.SortFunc(next, func(a, b ir.Record) int {
			return predicate.CompareRecords(lq.query.Order, a, b)
		})
	}

	if d.Empty() && sameOrder(current, next) {
		return Delta{}, false
	}
	lq.publish(next, d)
	return d, true
}

func sameRecord(a, b ir.Record) bool {
	return a.ID == b.ID &&
		a.Collection == b.Collection &&
		a.Version == b.Version &&
		ir.Equal(a.Fields, b.Fields)
}

func sameOrder(a, b []ir.Record) bool {
	return slices.EqualFunc(a, b, func(x, y ir.Record) bool { return x.ID == y.ID })
}

// matchAll filters and orders records for q.
func matchAll(q predicate.Query, records []ir.Record) []ir.Record {
	out := make([]ir.Record, 0)
	for _, r := range records {
		if q.Matches(r) {
			out = append(out, r)
		}
	}
	if len(q.Order) > 0 {
		slices.SortFunc(out, func(a, b ir.Record) int {
			return predicate.CompareRecords(q.Order, a, b)
		})
	}
	return out
}
