package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/livesync/internal/engine"
	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/observe"
	"github.com/roach88/livesync/internal/predicate"
	"github.com/roach88/livesync/internal/wire"
)

// StatusKey is the dependency key of the connection-status signal.
const StatusKey observe.Key = "transport:status"

// Sink consumes what the transport receives. *engine.Engine implements it.
//
// Deliver* methods must not block: they are called from the connection's
// reader goroutine.
type Sink interface {
	DeliverSnapshot(snap ir.Snapshot)
	DeliverEvent(ev ir.ChangeEvent)
	DeliverConnectionLost(reason string)
	DeliverResync(reason string)
	Subscriptions() []engine.Subscription
}

// Transport keeps one connection to the authority alive, reconnecting with
// backoff, and implements engine.Upstream on top of it.
//
// On every (re)connect it re-subscribes every open live query, then requests
// a snapshot. Events that arrive before the snapshot are held back and
// released after it, minus those the snapshot already covers.
type Transport struct {
	dialer      Dialer
	sink        Sink
	tracker     *observe.Tracker
	status      *observe.Signal[Status]
	backoff     BackoffConfig
	dialTimeout time.Duration

	mu       sync.Mutex
	state    State
	outbox   []wire.Message
	awaiting bool // snapshot requested, not yet received
	buffered []ir.ChangeEvent
	everLive bool
	conn     wire.Conn

	wake    chan struct{} // outbox signal, size 1
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithBackoff sets the reconnect delay policy.
func WithBackoff(c BackoffConfig) Option {
	return func(t *Transport) {
		t.backoff = c
	}
}

// WithDialTimeout bounds each connection attempt, handshake included.
func WithDialTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.dialTimeout = d
	}
}

// WithTracker publishes the status signal on tr, so observers registered
// there re-run on status changes.
func WithTracker(tr *observe.Tracker) Option {
	return func(t *Transport) {
		t.tracker = tr
	}
}

// New creates a transport. Nothing is dialed until Start.
func New(dialer Dialer, sink Sink, opts ...Option) *Transport {
	t := &Transport{
		dialer:      dialer,
		sink:        sink,
		backoff:     DefaultBackoff(),
		dialTimeout: 5 * time.Second,
		state:       StateDisconnected,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.tracker == nil {
		t.tracker = observe.NewTracker()
	}
	t.status = observe.NewSignal(t.tracker, StatusKey, Status{Kind: StatusConnecting})
	return t
}

// Status returns the connection-status signal.
func (t *Transport) Status() *observe.Signal[Status] {
	return t.status
}

// State returns the current state machine state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start begins connecting in the background. Connection failures never
// return from here; they drive the status signal.
func (t *Transport) Start(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return fmt.Errorf("transport already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	go t.run(ctx)
	return nil
}

// Close stops reconnecting, closes the connection, and waits for the
// background goroutines to exit. The transport ends in StateShutdown.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.state == StateShutdown {
		t.mu.Unlock()
		return
	}
	cancel := t.cancel
	conn := t.conn
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if t.started.Load() {
		<-t.done
	}

	t.mu.Lock()
	t.state = StateShutdown
	t.conn = nil
	t.mu.Unlock()
	slog.Info("transport shut down")
}

// Subscribe implements engine.Upstream. While disconnected the request is
// dropped: every open live query is re-subscribed on connect.
func (t *Transport) Subscribe(id engine.QueryID, q predicate.Query) {
	t.send(wire.Subscribe(string(id), q))
}

// Unsubscribe implements engine.Upstream.
func (t *Transport) Unsubscribe(id engine.QueryID) {
	t.send(wire.Unsubscribe(string(id)))
}

// RequestResync implements engine.Upstream. Incoming events are held back
// until the requested snapshot arrives. While disconnected this is a no-op:
// the next connection requests a snapshot anyway.
func (t *Transport) RequestResync() {
	t.mu.Lock()
	if t.state != StateSubscribed {
		t.mu.Unlock()
		return
	}
	t.awaiting = true
	t.outbox = append(t.outbox, wire.SnapshotRequest())
	t.mu.Unlock()
	t.signal()
}

func (t *Transport) send(m wire.Message) {
	t.mu.Lock()
	if t.state != StateSubscribed {
		t.mu.Unlock()
		return
	}
	t.outbox = append(t.outbox, m)
	t.mu.Unlock()
	t.signal()
}

func (t *Transport) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateShutdown {
		t.state = s
	}
}

// run is the connect / serve / back off loop.
func (t *Transport) run(ctx context.Context) {
	defer close(t.done)
	bo := t.backoff.newBackOff()

	for {
		conn, err := t.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			dialFailuresTotal.Inc()
			terr := &Error{Op: "dial", Err: err}
			t.status.Set(Status{Kind: StatusError, Reason: terr.Error()})
			delay := bo.NextBackOff()
			slog.Warn("connect failed", "error", err, "retry_in", delay)
			if !sleepContext(ctx, delay) {
				return
			}
			continue
		}

		reachedLive, err := t.serve(ctx, conn)
		if reachedLive {
			bo.Reset()
		}
		if ctx.Err() != nil {
			return
		}
		t.connectionLost(err)

		delay := bo.NextBackOff()
		slog.Info("reconnecting", "retry_in", delay)
		if !sleepContext(ctx, delay) {
			return
		}
	}
}

func (t *Transport) dial(ctx context.Context) (wire.Conn, error) {
	t.setState(StateConnecting)
	dctx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()
	conn, err := t.dialer.Dial(dctx)
	if err != nil {
		t.setState(StateDisconnected)
		return nil, err
	}

	t.mu.Lock()
	t.conn = conn
	status := Status{Kind: StatusConnecting}
	if t.everLive {
		status = Status{Kind: StatusReconnecting}
	}
	t.mu.Unlock()
	if t.status.Peek().Kind == StatusError {
		t.status.Set(status)
	}
	return conn, nil
}

// serve runs one connection until it fails. Reports whether a snapshot was
// received on it.
func (t *Transport) serve(ctx context.Context, conn wire.Conn) (bool, error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	t.state = StateSubscribed
	t.awaiting = true
	t.buffered = nil
	t.outbox = nil
	t.mu.Unlock()

	// Subscriptions takes the engine's lock, which may be held by a caller
	// blocked on t.mu inside Subscribe; read it without holding t.mu.
	subs := t.sink.Subscriptions()
	prefix := make([]wire.Message, 0, len(subs)+1)
	for _, s := range subs {
		prefix = append(prefix, wire.Subscribe(string(s.ID), s.Query))
	}
	prefix = append(prefix, wire.SnapshotRequest())

	t.mu.Lock()
	t.outbox = append(prefix, t.outbox...)
	t.mu.Unlock()
	t.signal()
	slog.Info("connected to authority", "subscriptions", len(subs))

	var live atomic.Bool
	errc := make(chan error, 2)
	go func() { errc <- t.writeLoop(sctx, conn) }()
	go func() { errc <- t.readLoop(conn, &live) }()

	err := <-errc
	cancel()
	_ = conn.Close()
	<-errc

	return live.Load(), err
}

func (t *Transport) writeLoop(ctx context.Context, conn wire.Conn) error {
	for {
		t.mu.Lock()
		batch := t.outbox
		t.outbox = nil
		t.mu.Unlock()

		for _, m := range batch {
			if err := conn.Write(m); err != nil {
				return &Error{Op: "write", Err: err}
			}
			framesSentTotal.WithLabelValues(string(m.Type)).Inc()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.wake:
		}
	}
}

func (t *Transport) readLoop(conn wire.Conn, live *atomic.Bool) error {
	for {
		m, err := conn.Read()
		if err != nil {
			if errors.Is(err, wire.ErrMalformedMessage) {
				// The frame may have been an event; only a snapshot can tell.
				malformedFramesTotal.Inc()
				slog.Warn("malformed frame from authority, resyncing", "error", err)
				t.sink.DeliverResync("malformed frame: " + err.Error())
				continue
			}
			return &Error{Op: "read", Err: err}
		}
		framesReceivedTotal.WithLabelValues(string(m.Type)).Inc()

		switch m.Type {
		case wire.TypeSnapshot:
			t.handleSnapshot(*m.Snapshot)
			live.Store(true)
		case wire.TypeEvent:
			t.handleEvent(*m.Event)
		case wire.TypeError:
			slog.Warn("authority reported error", "error", m.Error)
		default:
			slog.Warn("unexpected frame from authority", "type", m.Type)
		}
	}
}

func (t *Transport) handleSnapshot(snap ir.Snapshot) {
	t.mu.Lock()
	held := t.buffered
	t.buffered = nil
	t.awaiting = false
	t.everLive = true

	t.sink.DeliverSnapshot(snap)
	released := 0
	for _, ev := range held {
		if ev.Seq > snap.Seq {
			t.sink.DeliverEvent(ev)
			released++
		}
	}
	t.mu.Unlock()
	bufferedEvents.Set(0)

	slog.Info("snapshot received",
		"seq", snap.Seq,
		"records", len(snap.Records),
		"held_events", len(held),
		"released_events", released,
	)
	t.status.Set(Status{Kind: StatusLive})
}

func (t *Transport) handleEvent(ev ir.ChangeEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.awaiting {
		t.buffered = append(t.buffered, ev)
		bufferedEvents.Set(float64(len(t.buffered)))
		return
	}
	t.sink.DeliverEvent(ev)
}

func (t *Transport) connectionLost(err error) {
	t.mu.Lock()
	t.conn = nil
	if t.state != StateShutdown {
		t.state = StateDisconnected
	}
	t.awaiting = false
	t.buffered = nil
	t.outbox = nil
	t.mu.Unlock()
	bufferedEvents.Set(0)

	reason := "connection closed"
	if err != nil {
		reason = err.Error()
	}
	connectionsLostTotal.Inc()
	slog.Warn("connection to authority lost", "error", reason)

	t.sink.DeliverConnectionLost(reason)
	t.status.Set(Status{Kind: StatusReconnecting, Reason: reason})
}
