package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livesync/internal/engine"
	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/predicate"
	"github.com/roach88/livesync/internal/testutil"
	"github.com/roach88/livesync/internal/wire"
)

// recordingSink captures deliveries in order.
type recordingSink struct {
	mu        sync.Mutex
	subs      []engine.Subscription
	snapshots []ir.Snapshot
	events    []int64
	lost      []string
	resyncs   []string
}

func (s *recordingSink) DeliverSnapshot(snap ir.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
}

func (s *recordingSink) DeliverEvent(ev ir.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev.Seq)
}

func (s *recordingSink) DeliverConnectionLost(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lost = append(s.lost, reason)
}

func (s *recordingSink) DeliverResync(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resyncs = append(s.resyncs, reason)
}

func (s *recordingSink) resyncCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resyncs)
}

func (s *recordingSink) Subscriptions() []engine.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.Subscription(nil), s.subs...)
}

func (s *recordingSink) eventSeqs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.events...)
}

func (s *recordingSink) snapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

func (s *recordingSink) lostCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lost)
}

// pipeDialer hands the server end of every dialed pipe to the test.
type pipeDialer struct {
	conns    chan *testutil.PipeConn
	failures atomic.Int32
	dials    atomic.Int32
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{conns: make(chan *testutil.PipeConn, 8)}
}

func (d *pipeDialer) Dial(ctx context.Context) (wire.Conn, error) {
	d.dials.Add(1)
	if d.failures.Load() > 0 {
		d.failures.Add(-1)
		return nil, errors.New("connection refused")
	}
	client, server := testutil.Pipe()
	d.conns <- server
	return client, nil
}

func (d *pipeDialer) accept(t *testing.T) *testutil.PipeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not dial")
		return nil
	}
}

func readFrame(t *testing.T, c *testutil.PipeConn) wire.Message {
	t.Helper()
	type result struct {
		m   wire.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := c.Read()
		ch <- result{m, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return wire.Message{}
	}
}

var fastBackoff = BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2, Jitter: 0}

func albumQuery(t *testing.T, expr string) predicate.Query {
	t.Helper()
	q, err := predicate.Parse("album", expr)
	require.NoError(t, err)
	return q
}

func startTransport(t *testing.T, sink Sink, d Dialer) *Transport {
	t.Helper()
	tp := New(d, sink, WithBackoff(fastBackoff), WithDialTimeout(time.Second))
	require.NoError(t, tp.Start(context.Background()))
	t.Cleanup(tp.Close)
	return tp
}

func waitStatus(t *testing.T, tp *Transport, kind StatusKind) {
	t.Helper()
	require.Eventually(t, func() bool {
		return tp.Status().Peek().Kind == kind
	}, 2*time.Second, time.Millisecond, "status never became %s (is %s)", kind, tp.Status().Peek())
}

func TestTransport_SubscribesThenRequestsSnapshot(t *testing.T) {
	sink := &recordingSink{subs: []engine.Subscription{
		{ID: "q1", Query: albumQuery(t, "year > 1985")},
		{ID: "q2", Query: albumQuery(t, "artist = 'Prince'")},
	}}
	d := newPipeDialer()
	tp := startTransport(t, sink, d)
	assert.Equal(t, StatusConnecting, tp.Status().Peek().Kind)

	server := d.accept(t)
	m := readFrame(t, server)
	assert.Equal(t, wire.TypeSubscribe, m.Type)
	assert.Equal(t, "q1", m.QueryID)
	m = readFrame(t, server)
	assert.Equal(t, "q2", m.QueryID)
	m = readFrame(t, server)
	assert.Equal(t, wire.TypeSnapshotRequest, m.Type)
	assert.Equal(t, StateSubscribed, tp.State())

	require.NoError(t, server.Write(wire.SnapshotMessage(ir.Snapshot{Seq: 5})))
	waitStatus(t, tp, StatusLive)
	assert.Equal(t, 1, sink.snapshotCount())
}

func TestTransport_HoldsEventsUntilSnapshot(t *testing.T) {
	sink := &recordingSink{}
	d := newPipeDialer()
	tp := startTransport(t, sink, d)

	server := d.accept(t)
	readFrame(t, server) // snapshot_request

	for seq := int64(3); seq <= 6; seq++ {
		require.NoError(t, server.Write(wire.EventMessage(ir.Delete(seq, "a"))))
	}
	require.NoError(t, server.Write(wire.SnapshotMessage(ir.Snapshot{Seq: 4})))
	require.NoError(t, server.Write(wire.EventMessage(ir.Delete(7, "a"))))

	require.Eventually(t, func() bool {
		return len(sink.eventSeqs()) == 3
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, []int64{5, 6, 7}, sink.eventSeqs(), "events covered by the snapshot are dropped")
	assert.Equal(t, StatusLive, tp.Status().Peek().Kind)
}

func TestTransport_ReconnectsAndResubscribes(t *testing.T) {
	sink := &recordingSink{subs: []engine.Subscription{{ID: "q1", Query: albumQuery(t, "year > 1985")}}}
	d := newPipeDialer()
	tp := startTransport(t, sink, d)

	server := d.accept(t)
	readFrame(t, server)
	readFrame(t, server)
	require.NoError(t, server.Write(wire.SnapshotMessage(ir.Snapshot{Seq: 1})))
	waitStatus(t, tp, StatusLive)

	require.NoError(t, server.Close())
	waitStatus(t, tp, StatusReconnecting)
	require.Eventually(t, func() bool { return sink.lostCount() == 1 }, 2*time.Second, time.Millisecond)

	server = d.accept(t)
	m := readFrame(t, server)
	assert.Equal(t, wire.TypeSubscribe, m.Type)
	assert.Equal(t, "q1", m.QueryID)
	assert.Equal(t, wire.TypeSnapshotRequest, readFrame(t, server).Type)
	assert.Equal(t, StatusReconnecting, tp.Status().Peek().Kind, "not live until the snapshot arrives")

	require.NoError(t, server.Write(wire.SnapshotMessage(ir.Snapshot{Seq: 9})))
	waitStatus(t, tp, StatusLive)
	assert.Equal(t, 2, sink.snapshotCount())
}

func TestTransport_DialFailuresReportErrorAndRetry(t *testing.T) {
	sink := &recordingSink{}
	d := newPipeDialer()
	d.failures.Store(3)
	tp := startTransport(t, sink, d)

	server := d.accept(t)
	assert.GreaterOrEqual(t, d.dials.Load(), int32(4))
	readFrame(t, server)
	require.NoError(t, server.Write(wire.SnapshotMessage(ir.Snapshot{Seq: 0})))
	waitStatus(t, tp, StatusLive)
	assert.Equal(t, 0, sink.lostCount(), "a failed dial is not a lost connection")
}

func TestTransport_DialErrorStatus(t *testing.T) {
	d := DialerFunc(func(ctx context.Context) (wire.Conn, error) {
		return nil, errors.New("connection refused")
	})
	tp := startTransport(t, &recordingSink{}, d)

	waitStatus(t, tp, StatusError)
	assert.Contains(t, tp.Status().Peek().Reason, "connection refused")
	assert.Contains(t, tp.Status().Peek().Reason, "transport dial")
}

func TestTransport_UpstreamRequestsWhileConnected(t *testing.T) {
	sink := &recordingSink{}
	d := newPipeDialer()
	tp := New(d, sink, WithBackoff(fastBackoff))
	t.Cleanup(tp.Close)

	// Dropped: not connected yet, and re-sent from Subscriptions on connect.
	tp.Subscribe("early", albumQuery(t, "year > 1"))
	require.NoError(t, tp.Start(context.Background()))

	server := d.accept(t)
	assert.Equal(t, wire.TypeSnapshotRequest, readFrame(t, server).Type)
	require.NoError(t, server.Write(wire.SnapshotMessage(ir.Snapshot{Seq: 2})))
	waitStatus(t, tp, StatusLive)

	tp.Subscribe("q1", albumQuery(t, "year > 1985"))
	m := readFrame(t, server)
	assert.Equal(t, wire.TypeSubscribe, m.Type)
	assert.Equal(t, "q1", m.QueryID)

	tp.Unsubscribe("q1")
	m = readFrame(t, server)
	assert.Equal(t, wire.TypeUnsubscribe, m.Type)

	tp.RequestResync()
	assert.Equal(t, wire.TypeSnapshotRequest, readFrame(t, server).Type)

	// Held back until the resync snapshot arrives.
	require.NoError(t, server.Write(wire.EventMessage(ir.Delete(3, "a"))))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sink.eventSeqs())

	require.NoError(t, server.Write(wire.SnapshotMessage(ir.Snapshot{Seq: 2})))
	require.Eventually(t, func() bool {
		return len(sink.eventSeqs()) == 1
	}, 2*time.Second, time.Millisecond)
}

func TestTransport_MalformedFrameRequestsResync(t *testing.T) {
	sink := &recordingSink{}
	d := newPipeDialer()
	tp := startTransport(t, sink, d)

	server := d.accept(t)
	readFrame(t, server)
	require.NoError(t, server.WriteRaw([]byte(`{"type":"event"}`)))
	require.NoError(t, server.Write(wire.SnapshotMessage(ir.Snapshot{Seq: 1})))

	waitStatus(t, tp, StatusLive)
	require.Eventually(t, func() bool { return sink.resyncCount() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, sink.lostCount(), "the connection stays up")
}

func TestTransport_MalformedEventResyncsEngine(t *testing.T) {
	eng := engine.New()
	d := newPipeDialer()
	tp := New(d, eng, WithBackoff(fastBackoff), WithTracker(eng.Tracker()))
	eng.SetUpstream(tp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = eng.Run(ctx) }()

	h, err := eng.OpenText("album", "year > 1985")
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, tp.Start(ctx))
	defer tp.Close()

	server := d.accept(t)
	require.Equal(t, wire.TypeSubscribe, readFrame(t, server).Type)
	require.Equal(t, wire.TypeSnapshotRequest, readFrame(t, server).Type)
	require.NoError(t, server.Write(wire.SnapshotMessage(ir.Snapshot{Seq: 0, Records: []ir.Record{
		testutil.Album("id1", "Purple Rain", "Prince", 1990),
	}})))
	waitStatus(t, tp, StatusLive)

	// Event 1 carries a float and fails to decode. Nothing follows it, so
	// only the transport can notice the loss.
	require.NoError(t, server.WriteRaw([]byte(
		`{"type":"event","event":{"seq":1,"kind":"update","id":"id1","deltas":{"year":2000.5}}}`)))
	assert.Equal(t, wire.TypeSnapshotRequest, readFrame(t, server).Type)

	needs, _ := eng.Store().NeedsResync()
	assert.True(t, needs)

	require.NoError(t, server.Write(wire.SnapshotMessage(ir.Snapshot{Seq: 1, Records: []ir.Record{
		testutil.Album("id1", "Purple Rain", "Prince", 1984),
	}})))
	require.Eventually(t, func() bool {
		return len(h.Items()) == 0
	}, 2*time.Second, time.Millisecond)
}

func TestTransport_CloseIsTerminal(t *testing.T) {
	sink := &recordingSink{}
	d := newPipeDialer()
	tp := New(d, sink, WithBackoff(fastBackoff))
	require.NoError(t, tp.Start(context.Background()))
	assert.Error(t, tp.Start(context.Background()))

	server := d.accept(t)
	readFrame(t, server)

	tp.Close()
	tp.Close()
	assert.Equal(t, StateShutdown, tp.State())
	assert.True(t, server.Closed())
	assert.Equal(t, 0, sink.lostCount(), "shutdown is not reported as a lost connection")

	dials := d.dials.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, dials, d.dials.Load(), "no reconnect after Close")
}

func TestTransport_DrivesEngine(t *testing.T) {
	eng := engine.New()
	d := newPipeDialer()
	tp := New(d, eng, WithBackoff(fastBackoff), WithTracker(eng.Tracker()))
	eng.SetUpstream(tp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = eng.Run(ctx) }()

	h, err := eng.OpenText("album", "year > 1985")
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, tp.Start(ctx))
	defer tp.Close()

	server := d.accept(t)
	m := readFrame(t, server)
	require.Equal(t, wire.TypeSubscribe, m.Type)
	assert.Equal(t, string(h.ID()), m.QueryID)
	readFrame(t, server)

	require.NoError(t, server.Write(wire.SnapshotMessage(ir.Snapshot{Seq: 1, Records: []ir.Record{
		testutil.Album("id1", "Purple Rain", "Prince", 1990),
		testutil.Album("id2", "Dirty Mind", "Prince", 1980),
	}})))
	require.NoError(t, server.Write(wire.EventMessage(ir.Update(2, "id2", ir.IRObject{"year": ir.IRInt(2000)}))))

	require.Eventually(t, func() bool {
		return len(h.Items()) == 2
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, []ir.RecordID{"id1", "id2"}, h.Result().IDs())

	require.NoError(t, server.Close())
	waitStatus(t, tp, StatusReconnecting)
	assert.Equal(t, []ir.RecordID{"id1", "id2"}, h.Result().IDs(), "last-known results survive the drop")
	require.Eventually(t, func() bool {
		needs, _ := eng.Store().NeedsResync()
		return needs
	}, 2*time.Second, time.Millisecond)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "live", Status{Kind: StatusLive}.String())
	assert.Equal(t, "error: refused", Status{Kind: StatusError, Reason: "refused"}.String())
	assert.Equal(t, "subscribed", StateSubscribed.String())
}

func TestErrorMatchesErrTransport(t *testing.T) {
	cause := errors.New("eof")
	err := error(&Error{Op: "read", Err: cause})
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsTransportError(err))
	assert.False(t, IsTransportError(cause))
}
