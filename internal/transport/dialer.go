package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/livesync/internal/wire"
)

// Dialer opens a connection to the authority.
type Dialer interface {
	Dial(ctx context.Context) (wire.Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (wire.Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context) (wire.Conn, error) {
	return f(ctx)
}

// WebSocketDialer connects to an authority's WebSocket endpoint.
type WebSocketDialer struct {
	URL          string
	WriteTimeout time.Duration

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer for url (ws:// or wss://).
func NewWebSocketDialer(url string) *WebSocketDialer {
	return &WebSocketDialer{URL: url, WriteTimeout: 5 * time.Second}
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context) (wire.Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return wire.NewWebSocketConn(ws, d.WriteTimeout), nil
}
