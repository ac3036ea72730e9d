package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livesync/internal/authority"
	"github.com/roach88/livesync/internal/config"
	"github.com/roach88/livesync/internal/engine"
	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/observe"
	"github.com/roach88/livesync/internal/predicate"
	"github.com/roach88/livesync/internal/schema"
	"github.com/roach88/livesync/internal/store"
	"github.com/roach88/livesync/internal/testutil"
	"github.com/roach88/livesync/internal/transport"
	"github.com/roach88/livesync/internal/wire"
)

const waitFor = 3 * time.Second

func testConfig() config.Config {
	return config.Config{
		DialTimeout: time.Second,
		Backoff: config.Backoff{
			Initial:    10 * time.Millisecond,
			Max:        20 * time.Millisecond,
			Multiplier: 2,
			Jitter:     0,
		},
	}
}

func newHub(t *testing.T) *authority.Hub {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "authority.db"))
	require.NoError(t, err)
	h := authority.NewHub(st, authority.WithSchemas(schema.Builtin()))
	t.Cleanup(func() {
		h.Close()
		st.Close()
	})
	return h
}

// hubDialer connects to a Hub over in-memory pipes. After the first dial,
// every dial waits for a token on gate.
type hubDialer struct {
	hub  *authority.Hub
	gate chan struct{}

	mu      sync.Mutex
	servers []*testutil.PipeConn
}

func newHubDialer(h *authority.Hub) *hubDialer {
	return &hubDialer{hub: h, gate: make(chan struct{}, 8)}
}

func (d *hubDialer) Dial(ctx context.Context) (wire.Conn, error) {
	d.mu.Lock()
	first := len(d.servers) == 0
	d.mu.Unlock()
	if !first {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	client, server := testutil.Pipe()
	d.mu.Lock()
	d.servers = append(d.servers, server)
	d.mu.Unlock()
	go func() { _ = d.hub.Serve(context.Background(), server) }()
	return client, nil
}

// drop closes the current connection from the authority side.
func (d *hubDialer) drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.servers[len(d.servers)-1].Close()
}

func startClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c, err := New(testConfig(), opts...)
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func waitLive(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.WaitLive(ctx))
}

func ids(h *engine.Handle) []ir.RecordID {
	return h.Result().IDs()
}

func putAlbum(t *testing.T, h *authority.Hub, id string, year int64) {
	t.Helper()
	_, _, err := h.Put(context.Background(), testutil.Album(id, "Album "+id, "Prince", year))
	require.NoError(t, err)
}

func TestClientFollowsAuthority(t *testing.T) {
	hub := newHub(t)
	putAlbum(t, hub, "id1", 1990)
	putAlbum(t, hub, "id2", 1980)

	c := startClient(t, WithDialer(newHubDialer(hub)))
	h, err := c.OpenLiveQuery("album", "year > 1985")
	require.NoError(t, err)
	waitLive(t, c)

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]ir.RecordID{"id1"}, ids(h))
	}, waitFor, 5*time.Millisecond)

	_, err = hub.Patch(context.Background(), "album", "id2", ir.IRObject{"year": ir.IRInt(2000)})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]ir.RecordID{"id1", "id2"}, ids(h))
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, hub.Delete(context.Background(), "album", "id1"))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]ir.RecordID{"id2"}, ids(h))
	}, waitFor, 5*time.Millisecond)
}

func TestClientReconnectKeepsResultsAndResyncs(t *testing.T) {
	hub := newHub(t)
	putAlbum(t, hub, "a", 1990)
	putAlbum(t, hub, "b", 1995)

	dialer := newHubDialer(hub)
	c := startClient(t, WithDialer(dialer))
	h, err := c.OpenLiveQuery("album", "year > 1985")
	require.NoError(t, err)
	waitLive(t, c)
	require.Eventually(t, func() bool { return h.Result().Len() == 2 }, waitFor, 5*time.Millisecond)

	dialer.drop()
	require.Eventually(t, func() bool {
		return c.Status().Peek().Kind == transport.StatusReconnecting
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []ir.RecordID{"a", "b"}, ids(h), "last known results stay readable")

	// Changes made while offline arrive through the resync snapshot.
	_, err = hub.Patch(context.Background(), "album", "a", ir.IRObject{"year": ir.IRInt(1970)})
	require.NoError(t, err)
	putAlbum(t, hub, "c", 2001)

	dialer.gate <- struct{}{}
	waitLive(t, c)

	fresh, err := hub.Fetch(context.Background(), h.Query().Query())
	require.NoError(t, err)
	want := make([]ir.RecordID, len(fresh))
	for i, r := range fresh {
		want[i] = r.ID
	}
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, ids(h))
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []ir.RecordID{"b", "c"}, want)
}

func TestObserverRerunsOnResultChange(t *testing.T) {
	hub := newHub(t)
	putAlbum(t, hub, "a", 1990)

	c := startClient(t, WithDialer(newHubDialer(hub)))
	h, err := c.OpenLiveQuery("album", "true")
	require.NoError(t, err)
	waitLive(t, c)
	require.Eventually(t, func() bool { return h.Result().Len() == 1 }, waitFor, 5*time.Millisecond)

	var runs atomic.Int32
	var last atomic.Int32
	comp := c.Observe("count", func(s *observe.Scope) {
		runs.Add(1)
		last.Store(int32(len(h.Get(s))))
	})
	defer comp.Dispose()
	assert.Equal(t, int32(1), runs.Load(), "Observe runs the body immediately")

	putAlbum(t, hub, "b", 1991)
	require.Eventually(t, func() bool { return last.Load() == 2 }, waitFor, 5*time.Millisecond)
	assert.GreaterOrEqual(t, runs.Load(), int32(2))
}

func TestOpenLiveQueryParseError(t *testing.T) {
	c, err := New(testConfig(), WithDialer(newHubDialer(newHub(t))))
	require.NoError(t, err)

	_, err = c.OpenLiveQuery("album", "year >")
	require.Error(t, err)
	assert.True(t, errors.Is(err, predicate.ErrPredicateParse))

	_, err = c.Fetch("album", "artist = ")
	assert.ErrorIs(t, err, predicate.ErrPredicateParse)
}

func TestLifecycleErrors(t *testing.T) {
	_, err := New(config.Config{})
	assert.Error(t, err, "a server url or dialer is required")

	c, err := New(testConfig(), WithDialer(newHubDialer(newHub(t))))
	require.NoError(t, err)
	assert.ErrorIs(t, c.Shutdown(context.Background()), ErrNotStarted)

	require.NoError(t, c.Init(context.Background()))
	assert.Error(t, c.Init(context.Background()))
	assert.NoError(t, c.Shutdown(context.Background()))
	assert.NotEmpty(t, c.ID())
}

func TestWaitLiveTimesOut(t *testing.T) {
	failing := transport.DialerFunc(func(context.Context) (wire.Conn, error) {
		return nil, errors.New("connection refused")
	})
	c := startClient(t, WithDialer(failing))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.WaitLive(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientOverWebSocket(t *testing.T) {
	hub := newHub(t)
	putAlbum(t, hub, "a", 1990)
	srv := httptest.NewServer(authority.NewServer(hub))
	defer srv.Close()

	cfg := testConfig()
	cfg.ServerURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/sync"
	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = c.Shutdown(ctx)
	}()

	h, err := c.OpenLiveQuery("album", "artist = 'Prince'")
	require.NoError(t, err)
	waitLive(t, c)
	require.Eventually(t, func() bool { return h.Result().Len() == 1 }, waitFor, 5*time.Millisecond)

	putAlbum(t, hub, "b", 1999)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]ir.RecordID{"a", "b"}, ids(h))
	}, waitFor, 5*time.Millisecond)
}
