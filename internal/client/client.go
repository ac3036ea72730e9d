// Package client is the application-facing entry point: it owns the local
// entity cache and query engine, keeps the connection to the authority
// alive, and exposes live queries, observers and the connection status.
//
//	c, err := client.New(cfg)
//	if err := c.Init(ctx); err != nil { ... }
//	defer c.Shutdown(ctx)
//
//	h, err := c.OpenLiveQuery("album", "year > 1985")
//	c.Observe("render", func(s *observe.Scope) {
//		render(h.Get(s))
//	})
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/roach88/livesync/internal/config"
	"github.com/roach88/livesync/internal/engine"
	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/observe"
	"github.com/roach88/livesync/internal/predicate"
	"github.com/roach88/livesync/internal/transport"
)

// ErrNotStarted is returned by Shutdown before Init.
var ErrNotStarted = errors.New("client not started")

// Client is one livesync client. Create it with New, start it with Init and
// stop it with Shutdown. There is no package-level client.
type Client struct {
	id        string
	tracker   *observe.Tracker
	engine    *engine.Engine
	transport *transport.Transport

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Client.
type Option func(*options)

type options struct {
	dialer transport.Dialer
}

// WithDialer replaces the WebSocket dialer built from the configured server
// URL.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// New builds a client from cfg. Nothing connects until Init.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		if cfg.ServerURL == "" {
			return nil, fmt.Errorf("new client: server url is required")
		}
		o.dialer = transport.NewWebSocketDialer(cfg.ServerURL)
	}

	tracker := observe.NewTracker()
	eng := engine.New(engine.WithTracker(tracker))

	topts := []transport.Option{
		transport.WithTracker(tracker),
		transport.WithBackoff(cfg.TransportBackoff()),
	}
	if cfg.DialTimeout > 0 {
		topts = append(topts, transport.WithDialTimeout(cfg.DialTimeout))
	}
	tr := transport.New(o.dialer, eng, topts...)
	eng.SetUpstream(tr)

	return &Client{
		id:        uuid.Must(uuid.NewV7()).String(),
		tracker:   tracker,
		engine:    eng,
		transport: tr,
	}, nil
}

// ID returns the client's UUIDv7, used to correlate logs.
func (c *Client) ID() string {
	return c.id
}

// Init starts the engine, the observer scheduler and the connection in the
// background and returns immediately. Progress is reported through Status.
// The client runs until Shutdown or until ctx is canceled.
func (c *Client) Init(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("client %s already initialized", c.id)
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		if err := c.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("engine stopped", "client_id", c.id, "error", err)
		}
	}()
	go func() {
		defer c.wg.Done()
		if err := c.tracker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("observer scheduler stopped", "client_id", c.id, "error", err)
		}
	}()

	if err := c.transport.Start(ctx); err != nil {
		cancel()
		c.wg.Wait()
		return fmt.Errorf("init client %s: %w", c.id, err)
	}
	slog.Info("client started", "client_id", c.id)
	return nil
}

// Shutdown closes the connection and stops the background goroutines. It
// waits for them until ctx is done.
func (c *Client) Shutdown(ctx context.Context) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	c.transport.Close()
	c.engine.Stop()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("client stopped", "client_id", c.id)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown client %s: %w", c.id, ctx.Err())
	}
}

// OpenLiveQuery parses expr and opens a live query on collection. Parse
// errors are returned synchronously and wrap predicate.ErrPredicateParse.
// Results are available from the local cache immediately and follow the
// authority once connected.
func (c *Client) OpenLiveQuery(collection, expr string) (*engine.Handle, error) {
	return c.engine.OpenText(collection, expr)
}

// Open opens a live query from an already parsed query.
func (c *Client) Open(q predicate.Query) (*engine.Handle, error) {
	return c.engine.Open(q)
}

// Fetch evaluates expr once against the local cache.
func (c *Client) Fetch(collection, expr string) ([]ir.Record, error) {
	q, err := predicate.Parse(collection, expr)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %q: %w", collection, expr, err)
	}
	return c.engine.Fetch(q), nil
}

// Status returns the connection-status signal. Read it with Get inside an
// observer to re-run on every transition.
func (c *Client) Status() *observe.Signal[transport.Status] {
	return c.transport.Status()
}

// Observe runs fn now and again whenever anything it read through its scope
// changes. Dispose the returned computation to stop.
func (c *Client) Observe(name string, fn func(*observe.Scope)) *observe.Computation {
	return c.tracker.Observe(name, fn)
}

// WaitLive blocks until the status is Live and the snapshot behind it has
// been applied to every live query, or until ctx is done.
func (c *Client) WaitLive(ctx context.Context) error {
	live := make(chan struct{})
	var once sync.Once
	comp := c.tracker.Observe("client.WaitLive", func(s *observe.Scope) {
		if c.Status().Get(s).Kind == transport.StatusLive {
			once.Do(func() { close(live) })
		}
	})
	defer comp.Dispose()

	select {
	case <-live:
	case <-ctx.Done():
		return fmt.Errorf("wait live: %w (status %s)", ctx.Err(), c.Status().Peek())
	}
	// The snapshot that made the status live is queued ahead of this.
	if err := c.engine.Sync(ctx); err != nil {
		return fmt.Errorf("wait live: %w", err)
	}
	return nil
}

// Engine exposes the query engine.
func (c *Client) Engine() *engine.Engine {
	return c.engine
}
