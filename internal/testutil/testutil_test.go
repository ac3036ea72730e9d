package testutil

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/wire"
)

func TestEventStream_StampsConsecutiveSeqs(t *testing.T) {
	s := NewEventStream()

	ins := s.Insert(Album("a1", "Purple Rain", "Prince", 1984))
	upd := s.Update("a1", ir.IRObject{"year": ir.IRInt(1985)})
	del := s.Delete("a1")

	assert.Equal(t, int64(1), ins.Seq)
	assert.Equal(t, int64(2), upd.Seq)
	assert.Equal(t, int64(3), del.Seq)
	assert.Equal(t, int64(3), s.Current())

	s.Skip(2)
	assert.Equal(t, int64(6), s.Delete("a1").Seq)

	s.Reset()
	assert.Equal(t, int64(1), s.Delete("a1").Seq)
}

func TestEventStream_At(t *testing.T) {
	s := NewEventStreamAt(10)
	assert.Equal(t, int64(11), s.Delete("x").Seq)
}

func TestEventStream_ConcurrentUse(t *testing.T) {
	s := NewEventStream()
	const n = 200

	var wg sync.WaitGroup
	seen := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- s.Delete("x").Seq
		}()
	}
	wg.Wait()
	close(seen)

	unique := map[int64]bool{}
	for seq := range seen {
		unique[seq] = true
	}
	assert.Len(t, unique, n)
	assert.Equal(t, int64(n), s.Current())
}

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("album")
	assert.Equal(t, "album-0001", g.Generate())
	assert.Equal(t, "album-0002", g.Generate())

	assert.Equal(t, "id-0001", NewSequentialIDs("").Generate())
}

func TestPipe_RoundTrip(t *testing.T) {
	a, b := Pipe()

	require.NoError(t, a.Write(wire.SnapshotRequest()))
	m, err := b.Read()
	require.NoError(t, err)
	assert.Equal(t, wire.TypeSnapshotRequest, m.Type)

	ev := ir.Delete(4, "a1")
	require.NoError(t, b.Write(wire.EventMessage(ev)))
	m, err = a.Read()
	require.NoError(t, err)
	assert.Equal(t, ev, *m.Event)
}

func TestPipe_MalformedFrame(t *testing.T) {
	a, b := Pipe()
	require.NoError(t, a.WriteRaw([]byte(`{"type":"bogus"}`)))

	_, err := b.Read()
	assert.True(t, errors.Is(err, wire.ErrMalformedMessage))
	assert.False(t, b.Closed())
}

func TestPipe_CloseUnblocksBothEnds(t *testing.T) {
	a, b := Pipe()

	done := make(chan error, 1)
	go func() {
		_, err := b.Read()
		done <- err
	}()

	require.NoError(t, a.Close())
	assert.ErrorIs(t, <-done, io.EOF)
	assert.True(t, b.Closed())
	assert.ErrorIs(t, b.Write(wire.SnapshotRequest()), io.ErrClosedPipe)
}
