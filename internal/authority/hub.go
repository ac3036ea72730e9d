package authority

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/predicate"
	"github.com/roach88/livesync/internal/schema"
	"github.com/roach88/livesync/internal/store"
	"github.com/roach88/livesync/internal/wire"
)

// IDGenerator assigns ids to records created without one.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-ordered UUIDv7 ids.
type UUIDv7Generator struct{}

// Generate implements IDGenerator.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Hub is the authority: it owns the record store, applies writes, and fans
// committed changes out to every connected session as per-session event
// streams.
//
// One mutex orders store writes, change routing and snapshots, so every
// session observes changes in commit order and a snapshot never straddles a
// write.
type Hub struct {
	store   *store.Store
	schemas *schema.Registry
	ids     IDGenerator

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithSchemas validates writes against reg. Without it any collection and
// field kinds are accepted.
func WithSchemas(reg *schema.Registry) HubOption {
	return func(h *Hub) {
		h.schemas = reg
	}
}

// WithIDGenerator replaces the default UUIDv7 id generator.
func WithIDGenerator(g IDGenerator) HubOption {
	return func(h *Hub) {
		h.ids = g
	}
}

// NewHub creates a hub over st.
func NewHub(st *store.Store, opts ...HubOption) *Hub {
	h := &Hub{
		store:    st,
		ids:      UUIDv7Generator{},
		sessions: make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Schemas returns the registry writes are checked against, or nil.
func (h *Hub) Schemas() *schema.Registry {
	return h.schemas
}

func (h *Hub) check(rec ir.Record) error {
	if h.schemas == nil {
		return nil
	}
	if err := h.schemas.Check(rec); err != nil {
		if errors.Is(err, schema.ErrUnknownCollection) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// Create inserts a new record with a generated id.
func (h *Hub) Create(ctx context.Context, collection string, fields ir.IRObject) (ir.Record, error) {
	rec, _, err := h.Put(ctx, ir.Record{
		ID:         ir.RecordID(h.ids.Generate()),
		Collection: collection,
		Fields:     fields,
	})
	return rec, err
}

// Put inserts or replaces a record. Reports whether anything changed.
func (h *Hub) Put(ctx context.Context, rec ir.Record) (ir.Record, bool, error) {
	rec.Fields = ir.WithoutNulls(rec.Fields)
	if err := h.check(rec); err != nil {
		return ir.Record{}, false, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	change, changed, err := h.store.Put(ctx, rec)
	if err != nil {
		return ir.Record{}, false, err
	}
	if !changed {
		current, err := h.store.Get(ctx, rec.ID)
		return current, false, err
	}
	h.broadcastLocked(change)
	return *change.After, true, nil
}

// Patch applies field deltas to a record of collection. Returns
// store.ErrNotFound if the id does not exist in that collection.
func (h *Hub) Patch(ctx context.Context, collection string, id ir.RecordID, deltas ir.IRObject) (ir.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, err := h.getLocked(ctx, collection, id)
	if err != nil {
		return ir.Record{}, err
	}
	next := current.Clone()
	next.Fields = ir.ApplyDeltas(current.Fields, deltas)
	if err := h.check(next); err != nil {
		return ir.Record{}, err
	}

	change, changed, err := h.store.Patch(ctx, id, deltas)
	if err != nil {
		return ir.Record{}, err
	}
	if !changed {
		return current, nil
	}
	h.broadcastLocked(change)
	return *change.After, nil
}

// Delete removes a record of collection.
func (h *Hub) Delete(ctx context.Context, collection string, id ir.RecordID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.getLocked(ctx, collection, id); err != nil {
		return err
	}
	change, err := h.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	h.broadcastLocked(change)
	return nil
}

// Get returns one record of collection.
func (h *Hub) Get(ctx context.Context, collection string, id ir.RecordID) (ir.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.getLocked(ctx, collection, id)
}

func (h *Hub) getLocked(ctx context.Context, collection string, id ir.RecordID) (ir.Record, error) {
	rec, err := h.store.Get(ctx, id)
	if err != nil {
		return ir.Record{}, err
	}
	if rec.Collection != collection {
		return ir.Record{}, fmt.Errorf("get %s in %s: %w", id, collection, store.ErrNotFound)
	}
	return rec, nil
}

// Fetch evaluates q once against the current records.
func (h *Hub) Fetch(ctx context.Context, q predicate.Query) ([]ir.Record, error) {
	records, err := h.store.Records(ctx, q.Collection)
	if err != nil {
		return nil, err
	}
	out := make([]ir.Record, 0, len(records))
	for _, r := range records {
		if q.Matches(r) {
			out = append(out, r)
		}
	}
	if len(q.Order) > 0 {
		slices.SortStableFunc(out, func(a, b ir.Record) int {
			return predicate.CompareRecords(q.Order, a, b)
		})
	}
	return out, nil
}

// Sessions returns the number of connected sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) broadcastLocked(c store.Change) {
	writesTotal.WithLabelValues(string(c.Kind)).Inc()
	for sess := range h.sessions {
		ev, ok := sess.route(c)
		if !ok {
			continue
		}
		eventsSentTotal.WithLabelValues(string(ev.Kind)).Inc()
		sess.enqueue(wire.EventMessage(ev))
	}
	slog.Debug("change committed",
		"seq", c.Seq,
		"kind", c.Kind,
		"record_id", c.RecordID,
		"collection", c.Collection,
	)
}

// Serve runs the sync protocol on conn until the connection fails or ctx is
// canceled. A clean close by the peer returns nil.
func (h *Hub) Serve(ctx context.Context, conn wire.Conn) error {
	sess := newSession(uuid.NewString(), conn)
	if !h.register(sess) {
		_ = conn.Close()
		return fmt.Errorf("hub closed")
	}
	defer h.unregister(sess)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	writeErr := make(chan error, 1)
	go func() {
		err := sess.writeLoop(ctx)
		writeErr <- err
		cancel()
	}()

	slog.Info("session opened", "session", sess.id)
	err := h.readLoop(ctx, sess)
	cancel()
	_ = conn.Close()
	if werr := <-writeErr; werr != nil && !errors.Is(werr, context.Canceled) && errors.Is(err, context.Canceled) {
		err = werr
	}
	slog.Info("session closed", "session", sess.id, "error", err)

	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (h *Hub) readLoop(ctx context.Context, sess *session) error {
	for {
		m, err := sess.conn.Read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, wire.ErrMalformedMessage) {
				slog.Warn("dropping malformed frame", "session", sess.id, "error", err)
				sess.enqueue(wire.ErrorMessage("%v", err))
				continue
			}
			return err
		}
		if err := h.handle(ctx, sess, m); err != nil {
			if !IsProtocolError(err) {
				return err
			}
			slog.Warn("rejected client frame", "session", sess.id, "error", err)
			sess.enqueue(wire.ErrorMessage("%v", err))
		}
	}
}

func (h *Hub) handle(ctx context.Context, sess *session, m wire.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch m.Type {
	case wire.TypeSubscribe:
		if !sess.subscribe(m.QueryID, *m.Query) {
			return nil
		}
		subscriptionsGauge.Inc()
		slog.Debug("subscribed", "session", sess.id, "query_id", m.QueryID, "query", m.Query.String())
		return h.reconcileLocked(ctx, sess)

	case wire.TypeUnsubscribe:
		if !sess.unsubscribe(m.QueryID) {
			return nil
		}
		subscriptionsGauge.Dec()
		slog.Debug("unsubscribed", "session", sess.id, "query_id", m.QueryID)
		return h.reconcileLocked(ctx, sess)

	case wire.TypeSnapshotRequest:
		records, err := h.store.All(ctx)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		snap := sess.snapshot(records)
		snapshotsServedTotal.Inc()
		sess.enqueue(wire.SnapshotMessage(snap))
		slog.Debug("snapshot served", "session", sess.id, "seq", snap.Seq, "records", len(snap.Records))
		return nil

	default:
		return &ProtocolError{Op: string(m.Type), Err: fmt.Errorf("not accepted from clients")}
	}
}

func (h *Hub) reconcileLocked(ctx context.Context, sess *session) error {
	records, err := h.store.All(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	events := sess.reconcile(records)
	msgs := make([]wire.Message, len(events))
	for i, ev := range events {
		eventsSentTotal.WithLabelValues(string(ev.Kind)).Inc()
		msgs[i] = wire.EventMessage(ev)
	}
	sess.enqueue(msgs...)
	return nil
}

func (h *Hub) register(sess *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[sess] = struct{}{}
	sessionsGauge.Inc()
	return true
}

func (h *Hub) unregister(sess *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[sess]; !ok {
		return
	}
	delete(h.sessions, sess)
	sessionsGauge.Dec()
	subscriptionsGauge.Sub(float64(len(sess.queries)))
}

// Close disconnects every session and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]wire.Conn, 0, len(h.sessions))
	for sess := range h.sessions {
		conns = append(conns, sess.conn)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
