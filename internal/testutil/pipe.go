package testutil

import (
	"io"
	"sync"

	"github.com/roach88/livesync/internal/wire"
)

// PipeConn is one end of an in-memory wire.Conn pair.
//
// Frames are encoded and decoded exactly as on a WebSocket, so a test using
// a pipe exercises the same serialization as production. Closing either end
// closes both: pending and later Reads return io.EOF.
type PipeConn struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected ends.
func Pipe() (*PipeConn, *PipeConn) {
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &PipeConn{in: ba, out: ab, done: done, once: once}
	b := &PipeConn{in: ab, out: ba, done: done, once: once}
	return a, b
}

// Read implements wire.Conn.
func (p *PipeConn) Read() (wire.Message, error) {
	select {
	case data := <-p.in:
		return wire.Decode(data)
	case <-p.done:
		return wire.Message{}, io.EOF
	}
}

// Write implements wire.Conn.
func (p *PipeConn) Write(m wire.Message) error {
	data, err := wire.Encode(m)
	if err != nil {
		return err
	}
	return p.WriteRaw(data)
}

// WriteRaw sends an arbitrary frame, for malformed-input tests.
func (p *PipeConn) WriteRaw(data []byte) error {
	select {
	case <-p.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case p.out <- data:
		return nil
	case <-p.done:
		return io.ErrClosedPipe
	}
}

// Close implements wire.Conn.
func (p *PipeConn) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// Closed reports whether either end was closed.
func (p *PipeConn) Closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
