package wire

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a message-oriented, bidirectional connection.
//
// Read blocks until a frame arrives. A frame that fails to decode is reported
// as an error wrapping ErrMalformedMessage and the connection stays usable;
// any other error means the connection is gone. Write is safe for concurrent
// use. Close unblocks a pending Read.
type Conn interface {
	Read() (Message, error)
	Write(Message) error
	Close() error
}

// WebSocketConn adapts a gorilla/websocket connection to Conn. Messages are
// sent as text frames.
type WebSocketConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	close   sync.Once
}

// NewWebSocketConn wraps ws. A zero writeTimeout disables write deadlines.
func NewWebSocketConn(ws *websocket.Conn, writeTimeout time.Duration) *WebSocketConn {
	return &WebSocketConn{ws: ws, writeTimeout: writeTimeout}
}

// Read implements Conn.
func (c *WebSocketConn) Read() (Message, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Message{}, fmt.Errorf("read frame: %w", err)
	}
	return Decode(data)
}

// Write implements Conn.
func (c *WebSocketConn) Write(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", m.Type, err)
	}
	return nil
}

// Close sends a normal close frame (best effort) and closes the socket.
func (c *WebSocketConn) Close() error {
	var err error
	c.close.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
