package engine

import (
	"sync"

	"github.com/roach88/livesync/internal/ir"
)

// MessageType distinguishes inbound message kinds.
type MessageType int

const (
	// MessageSnapshot carries a full snapshot from the authority.
	MessageSnapshot MessageType = iota + 1
	// MessageEvent carries one change event.
	MessageEvent
	// MessageConnectionLost reports that the upstream connection dropped.
	MessageConnectionLost
	// MessageResync asks the engine to request a fresh snapshot.
	MessageResync
	// MessageBarrier is closed once every earlier message is processed.
	MessageBarrier
)

func (t MessageType) String() string {
	switch t {
	case MessageSnapshot:
		return "snapshot"
	case MessageEvent:
		return "event"
	case MessageConnectionLost:
		return "connection_lost"
	case MessageResync:
		return "resync"
	case MessageBarrier:
		return "barrier"
	default:
		return "unknown"
	}
}

// Message wraps everything the engine's writer loop consumes.
type Message struct {
	Type     MessageType
	Snapshot *ir.Snapshot
	Event    *ir.ChangeEvent
	Reason   string
	Done     chan struct{} // MessageBarrier only
}

// messageQueue is a thread-safe unbounded FIFO queue.
//
// Transports enqueue from their reader goroutines while the engine's Run loop
// dequeues. The signal channel allows context-aware waiting in Run.
type messageQueue struct {
	mu       sync.Mutex
	messages []Message
	closed   bool
	signal   chan struct{} // buffered, size 1
}

func newMessageQueue() *messageQueue {
	return &messageQueue{
		messages: make([]Message, 0, 64),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a message to the back of the queue.
// Returns false if the queue is closed.
func (q *messageQueue) Enqueue(m Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.messages = append(q.messages, m)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front message without blocking.
func (q *messageQueue) TryDequeue() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return Message{}, false
	}

	m := q.messages[0]
	// Nil the slot so the snapshot/event can be collected.
	q.messages[0] = Message{}
	if len(q.messages) == 1 {
		q.messages = q.messages[:0]
	} else {
		q.messages = q.messages[1:]
	}
	return m, true
}

// Wait returns a channel that fires when messages may be available.
// It is closed when the queue is closed.
func (q *messageQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Closed reports whether Close was called.
func (q *messageQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting messages and wakes waiters.
func (q *messageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
