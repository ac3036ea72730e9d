package observe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Key identifies something a computation can read: a live query result, a
// signal, or any caller-defined source.
type Key string

// Tracker records which computations read which keys and re-runs them when
// those keys are notified.
//
// Notifications are batched: every computation whose current dependency set
// contains a notified key is queued once per batch, however many of its keys
// were notified. Flush runs one batch; Run drains batches asynchronously.
//
// Thread-safety: all methods are safe for concurrent use. Re-runs execute on
// the goroutine calling Flush (normally the one inside Run).
type Tracker struct {
	mu sync.Mutex

	subs     map[Key]map[*Computation]struct{}
	versions map[Key]uint64

	pending  map[*Computation]map[Key]struct{}
	queue    []*Computation
	inflight map[*batch]struct{} // batches being run by Flush

	wake   chan struct{}
	nextID uint64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		subs:     make(map[Key]map[*Computation]struct{}),
		versions: make(map[Key]uint64),
		pending:  make(map[*Computation]map[Key]struct{}),
		inflight: make(map[*batch]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Computation is a unit of work whose reads are tracked. When any key it read
// on its latest run is notified, its body runs again.
type Computation struct {
	tracker *Tracker
	id      uint64
	name    string
	body    func(*Scope)

	// guarded by tracker.mu
	deps     map[Key]struct{}
	disposed bool
}

// NewComputation registers a computation. body may be nil for computations
// whose tracking is driven manually through BeginTracking/EndTracking; such
// computations are never re-run, only observable through Deps.
func (t *Tracker) NewComputation(name string, body func(*Scope)) *Computation {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	return &Computation{tracker: t, id: t.nextID, name: name, body: body, deps: map[Key]struct{}{}}
}

// Name returns the computation's name.
func (c *Computation) Name() string {
	return c.name
}

// Deps returns the keys read on the computation's latest run, in no
// particular order.
func (c *Computation) Deps() []Key {
	c.tracker.mu.Lock()
	defer c.tracker.mu.Unlock()
	out := make([]Key, 0, len(c.deps))
	for k := range c.deps {
		out = append(out, k)
	}
	return out
}

// Dispose unregisters the computation. Pending re-runs become no-ops.
func (c *Computation) Dispose() {
	t := c.tracker
	t.mu.Lock()
	defer t.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	t.unsubscribeLocked(c)
	delete(t.pending, c)
}

// batch is one Flush's queue with the keys that triggered each entry.
type batch struct {
	order    []*Computation
	triggers map[*Computation]map[Key]struct{}
}

func (t *Tracker) unsubscribeLocked(c *Computation) {
	for k := range c.deps {
		if set := t.subs[k]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(t.subs, k)
			}
		}
	}
	c.deps = map[Key]struct{}{}
}

// Scope collects the reads of one computation run.
type Scope struct {
	c *Computation

	mu     sync.Mutex
	reads  map[Key]uint64 // key -> tracker version observed at first read
	order  []Key
	closed bool
}

// Computation returns the computation this scope tracks.
func (s *Scope) Computation() *Computation {
	return s.c
}

// Track records a read of key. Reads after the scope is closed are ignored.
// A nil scope ignores reads, so untracked callers can pass nil.
func (s *Scope) Track(key Key) {
	if s == nil {
		return
	}
	version := s.c.tracker.version(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, seen := s.reads[key]; seen {
		return
	}
	s.reads[key] = version
	s.order = append(s.order, key)
}

func (t *Tracker) version(key Key) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.versions[key]
}

// BeginTracking opens a scope for one run of c.
func (t *Tracker) BeginTracking(c *Computation) *Scope {
	return &Scope{c: c, reads: make(map[Key]uint64)}
}

// EndTracking closes the scope and installs its reads as c's new dependency
// set, replacing the previous set entirely. It returns the keys in first-read
// order. Closing an already closed scope changes nothing.
//
// If a key was notified between its read and EndTracking, c is queued again
// so the change is not lost.
func (t *Tracker) EndTracking(s *Scope) []Key {
	s.mu.Lock()
	if s.closed {
		keys := append([]Key(nil), s.order...)
		s.mu.Unlock()
		return keys
	}
	s.closed = true
	keys := append([]Key(nil), s.order...)
	reads := s.reads
	s.mu.Unlock()

	c := s.c
	t.mu.Lock()
	defer t.mu.Unlock()
	if c.disposed {
		return keys
	}

	t.unsubscribeLocked(c)
	stale := false
	for _, k := range keys {
		c.deps[k] = struct{}{}
		set := t.subs[k]
		if set == nil {
			set = make(map[*Computation]struct{})
			t.subs[k] = set
		}
		set[c] = struct{}{}
		if t.versions[k] != reads[k] {
			stale = true
			t.enqueueLocked(c, k)
		}
	}
	if stale {
		t.signal()
	}
	return keys
}

// WithTracking runs fn inside a tracking scope for c. The scope is released
// exactly once, on normal return, error, or panic; a panic is re-raised
// after release.
func WithTracking[T any](c *Computation, fn func(*Scope) (T, error)) (T, error) {
	scope := c.tracker.BeginTracking(c)
	defer c.tracker.EndTracking(scope)
	return fn(scope)
}

// Observe registers a computation and runs it once immediately. It is
// re-run whenever anything it read changes.
func (t *Tracker) Observe(name string, body func(*Scope)) *Computation {
	c := t.NewComputation(name, body)
	t.runComputation(c)
	return c
}

// Notify marks keys as changed. Every computation depending on one of them
// is queued for the next batch.
func (t *Tracker) Notify(keys ...Key) {
	t.mu.Lock()
	queued := false
	for _, k := range keys {
		t.versions[k]++
		for c := range t.subs[k] {
			t.enqueueLocked(c, k)
			queued = true
		}
	}
	t.mu.Unlock()
	if queued {
		t.signal()
	}
}

func (t *Tracker) enqueueLocked(c *Computation, trigger Key) {
	triggers, queued := t.pending[c]
	if !queued {
		triggers = make(map[Key]struct{})
		t.pending[c] = triggers
		t.queue = append(t.queue, c)
	}
	triggers[trigger] = struct{}{}
}

func (t *Tracker) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Forget drops key: no computation depends on it any more and pending
// re-runs triggered only by key become no-ops. Used when the source behind
// key (for example a live query) is destroyed.
func (t *Tracker) Forget(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for c := range t.subs[key] {
		delete(c.deps, key)
	}
	delete(t.subs, key)
	delete(t.versions, key)
	for _, triggers := range t.pending {
		delete(triggers, key)
	}
	for b := range t.inflight {
		for _, triggers := range b.triggers {
			delete(triggers, key)
		}
	}
}

// Pending returns the number of computations queued for the next batch.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Flush runs one batch: every computation queued so far runs once, in the
// order it was first queued. Notifications raised while the batch runs are
// queued for the next batch. A computation whose triggers are all forgotten
// before its turn, including by an earlier computation of the same batch, is
// skipped. Returns the number of computations run.
func (t *Tracker) Flush() int {
	t.mu.Lock()
	b := &batch{order: t.queue, triggers: t.pending}
	t.queue = nil
	t.pending = make(map[*Computation]map[Key]struct{})
	t.inflight[b] = struct{}{}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.inflight, b)
		t.mu.Unlock()
	}()

	ran := 0
	for _, c := range b.order {
		t.mu.Lock()
		skip := len(b.triggers[c]) == 0 || c.disposed || c.body == nil
		t.mu.Unlock()
		if skip {
			continue
		}
		t.runComputation(c)
		ran++
	}
	return ran
}

// runComputation re-runs c with tracking. A panicking body is logged and its
// dependency set is still replaced with what it read before panicking.
func (t *Tracker) runComputation(c *Computation) {
	if c.body == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("observer panicked",
				"computation", c.name,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	_, _ = WithTracking(c, func(s *Scope) (struct{}, error) {
		c.body(s)
		return struct{}{}, nil
	})
}

// Run flushes batches as notifications arrive until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.wake:
			for t.Flush() > 0 || t.Pending() > 0 {
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
		}
	}
}
