package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/livesync/internal/entity"
	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/observe"
	"github.com/roach88/livesync/internal/predicate"
)

// Upstream is the engine's view of the remote authority.
//
// Implementations must not block and must not call back into the engine:
// the engine invokes them while holding its write lock so that subscribe and
// unsubscribe calls are issued in the same order as opens and closes.
type Upstream interface {
	// Subscribe registers interest in q. Idempotent per id.
	Subscribe(id QueryID, q predicate.Query)
	// Unsubscribe withdraws interest. Idempotent per id.
	Unsubscribe(id QueryID)
	// RequestResync asks for a fresh snapshot.
	RequestResync()
}

type noopUpstream struct{}

func (noopUpstream) Subscribe(QueryID, predicate.Query) {}
func (noopUpstream) Unsubscribe(QueryID)                {}
func (noopUpstream) RequestResync()                     {}

// Subscription is one open live query as seen by the upstream.
type Subscription struct {
	ID    QueryID
	Query predicate.Query
}

// Engine is the single-writer live query engine.
//
// The engine applies inbound snapshots and change events to the entity
// store, updates every open live query from the changed record, publishes
// new result sets, and then notifies the dependency tracker.
//
// Thread-safety model:
//   - Enqueue / Deliver*: safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Apply / IngestSnapshot: serialized by the write lock (used by Run,
//     the scenario harness, and tests)
//   - Open / Close / Fetch / Handle reads: safe from any goroutine
type Engine struct {
	mu       sync.Mutex
	store    *entity.Store
	tracker  *observe.Tracker
	upstream Upstream
	queries  map[QueryID]*LiveQuery
	order    []QueryID // open order, for deterministic iteration
	queue    *messageQueue

	resyncPending bool
}

// Option allows configuration of engine dependencies.
type Option func(*Engine)

// WithStore uses s as the local cache instead of a fresh store.
func WithStore(s *entity.Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithTracker notifies t instead of a private tracker.
func WithTracker(t *observe.Tracker) Option {
	return func(e *Engine) {
		e.tracker = t
	}
}

// WithUpstream connects the engine to the authority.
func WithUpstream(u Upstream) Option {
	return func(e *Engine) {
		e.upstream = u
	}
}

// New creates an engine. Without options it has an empty store, a private
// tracker, and no upstream.
func New(opts ...Option) *Engine {
	e := &Engine{
		queries:  make(map[QueryID]*LiveQuery),
		queue:    newMessageQueue(),
		upstream: noopUpstream{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = entity.New()
	}
	if e.tracker == nil {
		e.tracker = observe.NewTracker()
	}
	return e
}

// SetUpstream replaces the upstream. Used when the transport is built after
// the engine it feeds.
func (e *Engine) SetUpstream(u Upstream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if u == nil {
		u = noopUpstream{}
	}
	e.upstream = u
}

// Store returns the engine's entity store.
func (e *Engine) Store() *entity.Store {
	return e.store
}

// Tracker returns the dependency tracker the engine notifies.
func (e *Engine) Tracker() *observe.Tracker {
	return e.tracker
}

// Open returns a handle on the live query for q. Structurally equal queries
// share one LiveQuery; the first open computes its result set from the store
// and subscribes upstream.
func (e *Engine) Open(q predicate.Query) (*Handle, error) {
	if q.Collection == "" {
		return nil, fmt.Errorf("open live query: collection is required")
	}
	key, err := predicate.Key(q)
	if err != nil {
		return nil, fmt.Errorf("open live query: %w", err)
	}
	id := QueryID(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	lq, exists := e.queries[id]
	if !exists {
		lq = newLiveQuery(id, q, matchAll(q, e.store.Records()))
		e.queries[id] = lq
		e.order = append(e.order, id)
		e.upstream.Subscribe(id, q)
		liveQueriesGauge.Inc()
		slog.Debug("live query created",
			"query_id", id,
			"collection", q.Collection,
			"query", q.String(),
			"matches", lq.Result().Len(),
		)
	}
	lq.refs++

	return &Handle{engine: e, lq: lq}, nil
}

// OpenText parses expr in the query grammar and opens it on collection.
// Parse failures are returned synchronously and wrap
// predicate.ErrPredicateParse.
func (e *Engine) OpenText(collection, expr string) (*Handle, error) {
	q, err := predicate.Parse(collection, expr)
	if err != nil {
		return nil, fmt.Errorf("open %s %q: %w", collection, expr, err)
	}
	return e.Open(q)
}

// Close releases h. Closing the last handle on a live query destroys it,
// forgets its dependency key, and unsubscribes upstream. Closing the same
// handle twice has no effect.
func (e *Engine) Close(h *Handle) {
	if h == nil || !h.closed.CompareAndSwap(false, true) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	lq := h.lq
	lq.refs--
	if lq.refs > 0 {
		return
	}
	if e.queries[lq.id] != lq {
		return
	}
	delete(e.queries, lq.id)
	e.order = slices.DeleteFunc(e.order, func(id QueryID) bool { return id == lq.id })
	e.tracker.Forget(lq.Key())
	e.upstream.Unsubscribe(lq.id)
	liveQueriesGauge.Dec()
	slog.Debug("live query destroyed", "query_id", lq.id)
}

// Fetch evaluates q once against the current cache without registering a
// live query.
func (e *Engine) Fetch(q predicate.Query) []ir.Record {
	return matchAll(q, e.store.Records())
}

// Subscriptions lists open live queries in open order.
func (e *Engine) Subscriptions() []Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Subscription, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, Subscription{ID: id, Query: e.queries[id].query})
	}
	return out
}

// LiveQueries returns the number of live queries with open handles.
func (e *Engine) LiveQueries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queries)
}

// Apply applies one change event and updates every live query.
//
// A rejected event never corrupts results. Anything other than a stale
// duplicate leaves the store in NeedsResync and asks the upstream for a
// snapshot. The returned error is a *SyncError.
func (e *Engine) Apply(ctx context.Context, ev ir.ChangeEvent) error {
	_, span := tracer.Start(ctx, "engine.Apply",
		trace.WithAttributes(
			attribute.Int64("seq", ev.Seq),
			attribute.String("kind", string(ev.Kind)),
		),
	)
	defer span.End()
	timer := prometheus.NewTimer(applyDuration.WithLabelValues("event"))
	defer timer.ObserveDuration()

	e.mu.Lock()
	change, err := e.store.Apply(ev)
	if err != nil {
		serr := newSyncError(ev, err)
		// A store already waiting for a snapshot has asked for one.
		if entity.IsResyncTrigger(err) {
			e.requestResyncLocked(serr.Error())
		}
		e.mu.Unlock()

		eventsRejectedTotal.WithLabelValues(string(serr.Code)).Inc()
		span.RecordError(serr)
		span.SetStatus(codes.Error, string(serr.Code))
		return serr
	}

	var dirty []observe.Key
	for _, id := range e.order {
		lq := e.queries[id]
		if d := lq.applyChange(change); !d.Empty() {
			dirty = append(dirty, lq.Key())
		}
	}
	e.mu.Unlock()

	eventsAppliedTotal.Inc()
	span.SetAttributes(attribute.Int("dirty_queries", len(dirty)))
	if len(dirty) > 0 {
		e.tracker.Notify(dirty...)
	}
	return nil
}

// IngestSnapshot replaces the cache with snap and rebuilds every live query.
// Only queries whose contents changed are notified.
func (e *Engine) IngestSnapshot(ctx context.Context, snap ir.Snapshot) {
	_, span := tracer.Start(ctx, "engine.IngestSnapshot",
		trace.WithAttributes(
			attribute.Int64("seq", snap.Seq),
			attribute.Int("records", len(snap.Records)),
		),
	)
	defer span.End()
	timer := prometheus.NewTimer(applyDuration.WithLabelValues("snapshot"))
	defer timer.ObserveDuration()

	e.mu.Lock()
	e.store.IngestSnapshot(snap)
	e.resyncPending = false
	records := e.store.Records()

	var dirty []observe.Key
	for _, id := range e.order {
		lq := e.queries[id]
		if _, changed := lq.rebuild(records); changed {
			dirty = append(dirty, lq.Key())
		}
	}
	e.mu.Unlock()

	snapshotsIngestedTotal.Inc()
	span.SetAttributes(attribute.Int("dirty_queries", len(dirty)))
	slog.Debug("snapshot ingested",
		"seq", snap.Seq,
		"records", len(snap.Records),
		"dirty_queries", len(dirty),
	)
	if len(dirty) > 0 {
		e.tracker.Notify(dirty...)
	}
}

// ConnectionLost marks the cache stale. Results keep their last consistent
// contents; the next snapshot (requested by the transport on reconnect)
// brings them up to date.
func (e *Engine) ConnectionLost(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.MarkNeedsResync("connection lost: " + reason)
	// The transport requests a snapshot itself once it is back.
	e.resyncPending = true
	slog.Info("upstream connection lost", "reason", reason, "last_seq", e.store.LastSeq())
}

// RequestResync marks the cache stale and asks the upstream for a snapshot.
func (e *Engine) RequestResync(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.MarkNeedsResync(reason)
	e.requestResyncLocked(reason)
}

func (e *Engine) requestResyncLocked(reason string) {
	if e.resyncPending {
		return
	}
	e.resyncPending = true
	resyncRequestsTotal.Inc()
	slog.Warn("requesting resync", "reason", reason, "last_seq", e.store.LastSeq())
	e.upstream.RequestResync()
}

// Enqueue submits a message for the Run loop.
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(m Message) bool {
	return e.queue.Enqueue(m)
}

// DeliverSnapshot enqueues a snapshot.
func (e *Engine) DeliverSnapshot(snap ir.Snapshot) {
	e.Enqueue(Message{Type: MessageSnapshot, Snapshot: &snap})
}

// DeliverEvent enqueues a change event.
func (e *Engine) DeliverEvent(ev ir.ChangeEvent) {
	e.Enqueue(Message{Type: MessageEvent, Event: &ev})
}

// DeliverConnectionLost enqueues a connection-lost notice.
func (e *Engine) DeliverConnectionLost(reason string) {
	e.Enqueue(Message{Type: MessageConnectionLost, Reason: reason})
}

// DeliverResync enqueues a resync request, for protocol violations the
// transport cannot attribute to a single event.
func (e *Engine) DeliverResync(reason string) {
	e.Enqueue(Message{Type: MessageResync, Reason: reason})
}

// Run starts the single-writer loop. Blocks until ctx is cancelled or Stop
// is called.
//
// ERROR HANDLING: a message that fails to apply is logged with full context
// and the loop continues. Recovery happens through resync, not retries.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")

	for {
		msg, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processMessage(ctx, msg); err != nil {
				logMessageError(msg, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed once the queue is closed, so an
			// empty closed queue means Stop was called.
			if e.queue.Len() == 0 && e.queue.Closed() {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Sync blocks until every message enqueued before the call has been
// processed by Run, or ctx is done.
func (e *Engine) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !e.Enqueue(Message{Type: MessageBarrier, Done: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine sync: %w", ctx.Err())
	}
}

// Stop closes the inbound queue, which causes Run to return once drained.
func (e *Engine) Stop() {
	e.queue.Close()
}

// processMessage routes a message to its handler.
// Called only from the Run goroutine.
func (e *Engine) processMessage(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageSnapshot:
		if msg.Snapshot == nil {
			return fmt.Errorf("snapshot message missing snapshot")
		}
		e.IngestSnapshot(ctx, *msg.Snapshot)
		return nil

	case MessageEvent:
		if msg.Event == nil {
			return fmt.Errorf("event message missing event")
		}
		err := e.Apply(ctx, *msg.Event)
		if IsStaleError(err) {
			slog.Debug("ignoring stale event", "seq", msg.Event.Seq)
			return nil
		}
		return err

	case MessageConnectionLost:
		e.ConnectionLost(msg.Reason)
		return nil

	case MessageResync:
		e.RequestResync(msg.Reason)
		return nil

	case MessageBarrier:
		if msg.Done == nil {
			return fmt.Errorf("barrier message missing done channel")
		}
		close(msg.Done)
		return nil

	default:
		return fmt.Errorf("unknown message type: %d", msg.Type)
	}
}

// logMessageError logs a failed message with enough context to diagnose it.
func logMessageError(msg Message, err error) {
	switch msg.Type {
	case MessageEvent:
		if msg.Event != nil {
			slog.Error("event processing failed",
				"error", err,
				"seq", msg.Event.Seq,
				"kind", msg.Event.Kind,
				"record_id", msg.Event.TargetID(),
			)
			return
		}
	case MessageSnapshot:
		if msg.Snapshot != nil {
			slog.Error("snapshot processing failed",
				"error", err,
				"seq", msg.Snapshot.Seq,
			)
			return
		}
	}
	slog.Error("message processing failed",
		"error", err,
		"message_type", msg.Type.String(),
	)
}

// Handle is one caller's reference to a live query.
type Handle struct {
	engine *Engine
	lq     *LiveQuery
	closed atomic.Bool
}

// ID returns the live query's identity.
func (h *Handle) ID() QueryID {
	return h.lq.id
}

// Query returns the shared live query behind the handle.
func (h *Handle) Query() *LiveQuery {
	return h.lq
}

// Result returns the current result set.
func (h *Handle) Result() *ResultSet {
	return h.lq.Result()
}

// Items returns the current matching records. The slice is shared and must
// not be modified.
func (h *Handle) Items() []ir.Record {
	return h.lq.Result().Records
}

// Get returns the current records and records the read in scope, so the
// scope's computation re-runs when the result set changes.
func (h *Handle) Get(scope *observe.Scope) []ir.Record {
	scope.Track(h.lq.Key())
	return h.Items()
}

// Close releases the handle (see Engine.Close).
func (h *Handle) Close() {
	h.engine.Close(h)
}

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	return h.closed.Load()
}
