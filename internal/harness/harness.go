package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/livesync/internal/engine"
	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/observe"
	"github.com/roach88/livesync/internal/predicate"
)

// recordingUpstream stands in for the transport and counts what the engine
// asks of it.
type recordingUpstream struct {
	subscribes   int
	unsubscribes int
	resyncs      int
}

func (u *recordingUpstream) Subscribe(engine.QueryID, predicate.Query) { u.subscribes++ }
func (u *recordingUpstream) Unsubscribe(engine.QueryID)                { u.unsubscribes++ }
func (u *recordingUpstream) RequestResync()                            { u.resyncs++ }

// Harness executes one scenario against a fresh engine.
type Harness struct {
	engine   *engine.Engine
	tracker  *observe.Tracker
	upstream *recordingUpstream

	names     []string
	queries   map[string]predicate.Query
	handles   map[string]*engine.Handle
	observers map[string]*observe.Computation
	runs      map[string]int

	nextSeq int64
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on a fresh engine with no transport. Step expectations
// and assertions that fail are reported in the result; the returned error is
// reserved for scenarios that cannot run at all, such as a query that does
// not parse.
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.closeAll()

	ctx := context.Background()
	result := NewResult()

	for _, q := range scenario.Queries {
		if err := h.open(q.Name); err != nil {
			return nil, err
		}
	}

	for i, step := range scenario.Steps {
		ev, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		h.tracker.Flush()

		ev.Step = i + 1
		ev.Results = h.results()
		ev.NeedsResync, _ = h.engine.Store().NeedsResync()
		result.Trace = append(result.Trace, ev)

		for _, msg := range h.checkExpect(i, step) {
			result.AddError(msg)
		}
	}

	for _, msg := range EvaluateAssertions(h, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	queries := make(map[string]predicate.Query, len(scenario.Queries))
	names := make([]string, 0, len(scenario.Queries))
	for _, decl := range scenario.Queries {
		q, err := predicate.Parse(decl.Collection, decl.Where)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", decl.Name, err)
		}
		queries[decl.Name] = q
		names = append(names, decl.Name)
	}

	tracker := observe.NewTracker()
	upstream := &recordingUpstream{}
	return &Harness{
		engine:    engine.New(engine.WithTracker(tracker), engine.WithUpstream(upstream)),
		tracker:   tracker,
		upstream:  upstream,
		names:     names,
		queries:   queries,
		handles:   make(map[string]*engine.Handle),
		observers: make(map[string]*observe.Computation),
		runs:      make(map[string]int),
	}, nil
}

func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	te := TraceEvent{Op: step.Op()}

	switch te.Op {
	case OpSnapshot:
		snap, err := buildSnapshot(step.Snapshot)
		if err != nil {
			return te, err
		}
		h.engine.IngestSnapshot(ctx, snap)
		h.nextSeq = snap.Seq + 1
		te.Seq = snap.Seq

	case OpEvent:
		ev, err := buildEvent(step.Event, h.nextSeq)
		if err != nil {
			return te, err
		}
		h.nextSeq = ev.Seq + 1
		te.Seq = ev.Seq
		te.Kind = string(ev.Kind)
		te.ID = string(ev.TargetID())

		if err := h.engine.Apply(ctx, ev); err != nil {
			var serr *engine.SyncError
			if !errors.As(err, &serr) {
				return te, err
			}
			te.Error = string(serr.Code)
		}

	case OpConnectionLost:
		h.engine.ConnectionLost(step.ConnectionLost)

	case OpOpen:
		if err := h.open(step.Open); err != nil {
			return te, err
		}

	case OpClose:
		if err := h.close(step.Close); err != nil {
			return te, err
		}
	}
	return te, nil
}

// open opens the named query and registers an observer that reads it.
func (h *Harness) open(name string) error {
	if _, open := h.handles[name]; open {
		return fmt.Errorf("query %q is already open", name)
	}
	handle, err := h.engine.Open(h.queries[name])
	if err != nil {
		return fmt.Errorf("open %q: %w", name, err)
	}
	h.handles[name] = handle
	h.observers[name] = h.tracker.Observe("harness:"+name, func(s *observe.Scope) {
		handle.Get(s)
		h.runs[name]++
	})
	return nil
}

func (h *Harness) close(name string) error {
	handle, open := h.handles[name]
	if !open {
		return fmt.Errorf("query %q is not open", name)
	}
	h.observers[name].Dispose()
	handle.Close()
	delete(h.handles, name)
	delete(h.observers, name)
	return nil
}

func (h *Harness) closeAll() {
	for _, name := range h.names {
		if _, open := h.handles[name]; open {
			_ = h.close(name)
		}
	}
}

// results returns the ids of every open query.
func (h *Harness) results() map[string][]string {
	out := make(map[string][]string, len(h.handles))
	for name, handle := range h.handles {
		out[name] = recordIDs(handle.Items())
	}
	return out
}

func (h *Harness) checkExpect(i int, step Step) []string {
	var msgs []string
	for _, name := range sortedKeys(step.Expect) {
		want := step.Expect[name]
		handle, open := h.handles[name]
		if !open {
			msgs = append(msgs, fmt.Sprintf("steps[%d].expect: query %q is not open", i, name))
			continue
		}
		got := recordIDs(handle.Items())
		if !slices.Equal(got, want) {
			msgs = append(msgs, fmt.Sprintf("steps[%d] (%s): query %q: expected %v, got %v",
				i, step.Op(), name, want, got))
		}
	}
	return msgs
}

func buildSnapshot(s *SnapshotStep) (ir.Snapshot, error) {
	snap := ir.Snapshot{Seq: s.Seq, Records: make([]ir.Record, 0, len(s.Records))}
	for _, spec := range s.Records {
		fields, err := ir.ObjectFromGo(spec.Fields)
		if err != nil {
			return ir.Snapshot{}, fmt.Errorf("record %s: %w", spec.ID, err)
		}
		snap.Records = append(snap.Records, ir.Record{
			ID:         ir.RecordID(spec.ID),
			Collection: spec.Collection,
			Fields:     fields,
		})
	}
	return snap, nil
}

func buildEvent(e *EventStep, next int64) (ir.ChangeEvent, error) {
	seq := e.Seq
	if seq == 0 {
		seq = next
	}
	id := ir.RecordID(e.ID)

	switch ir.ChangeKind(e.Kind) {
	case ir.ChangeInsert:
		fields, err := ir.ObjectFromGo(e.Fields)
		if err != nil {
			return ir.ChangeEvent{}, fmt.Errorf("insert %s: %w", e.ID, err)
		}
		return ir.Insert(seq, ir.Record{ID: id, Collection: e.Collection, Fields: fields}), nil
	case ir.ChangeUpdate:
		deltas, err := ir.ObjectFromGo(e.Deltas)
		if err != nil {
			return ir.ChangeEvent{}, fmt.Errorf("update %s: %w", e.ID, err)
		}
		return ir.Update(seq, id, deltas), nil
	case ir.ChangeDelete:
		return ir.Delete(seq, id), nil
	}
	return ir.ChangeEvent{}, fmt.Errorf("unknown event kind %q", e.Kind)
}

func recordIDs(records []ir.Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = string(r.ID)
	}
	return ids
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
