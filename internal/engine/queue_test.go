package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livesync/internal/ir"
)

func eventMessage(seq int64) Message {
	ev := ir.Delete(seq, "r")
	return Message{Type: MessageEvent, Event: &ev}
}

func TestMessageQueue_FIFO(t *testing.T) {
	q := newMessageQueue()

	for i := int64(1); i <= 3; i++ {
		require.True(t, q.Enqueue(eventMessage(i)))
	}

	for i := int64(1); i <= 3; i++ {
		m, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, i, m.Event.Seq)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestMessageQueue_Len(t *testing.T) {
	q := newMessageQueue()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(eventMessage(1))
	q.Enqueue(Message{Type: MessageConnectionLost, Reason: "eof"})
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
}

func TestMessageQueue_WaitSignals(t *testing.T) {
	q := newMessageQueue()

	select {
	case <-q.Wait():
		t.Fatal("wait fired on empty queue")
	default:
	}

	q.Enqueue(eventMessage(1))
	select {
	case <-q.Wait():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("wait did not fire after enqueue")
	}
}

func TestMessageQueue_Close(t *testing.T) {
	q := newMessageQueue()
	q.Close()
	q.Close()

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(eventMessage(1)), "enqueue after close should return false")

	select {
	case <-q.Wait():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("wait did not fire after close")
	}
}

func TestMessageQueue_ThreadSafe(t *testing.T) {
	q := newMessageQueue()

	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(eventMessage(int64(i)))
			}
		}()
	}
	wg.Wait()

	received := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		received++
	}
	assert.Equal(t, producers*perProducer, received)
}

func TestMessageType_String(t *testing.T) {
	assert.Equal(t, "snapshot", MessageSnapshot.String())
	assert.Equal(t, "event", MessageEvent.String())
	assert.Equal(t, "connection_lost", MessageConnectionLost.String())
	assert.Equal(t, "resync", MessageResync.String())
	assert.Equal(t, "unknown", MessageType(99).String())
}
