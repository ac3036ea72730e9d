package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/predicate"
)

func TestSubscribeCarriesQuery(t *testing.T) {
	q, err := predicate.Parse("album", "year > 1985 AND artist IN ('Prince', 'Bowie') ORDER BY year DESC")
	require.NoError(t, err)

	data, err := Encode(Subscribe("q1", q))
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeSubscribe, got.Type)
	assert.Equal(t, "q1", got.QueryID)
	require.NotNil(t, got.Query)

	wantKey, err := predicate.Key(q)
	require.NoError(t, err)
	gotKey, err := predicate.Key(*got.Query)
	require.NoError(t, err)
	assert.Equal(t, wantKey, gotKey)
}

func TestEventFrame(t *testing.T) {
	ev := ir.Update(8, "a1", ir.IRObject{"year": ir.IRInt(2000), "artist": ir.IRNull{}})

	data, err := Encode(EventMessage(ev))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"event","event":{"seq":8,"kind":"update","id":"a1","deltas":{"artist":null,"year":2000}}}`,
		string(data))

	got, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, got.Event)
	assert.Equal(t, ev, *got.Event)
}

func TestSnapshotFrame(t *testing.T) {
	data, err := Encode(SnapshotMessage(ir.Snapshot{Seq: 3}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"snapshot","snapshot":{"seq":3,"records":[]}}`, string(data))

	snap := ir.Snapshot{Seq: 4, Records: []ir.Record{{
		ID:         "a1",
		Collection: "album",
		Fields:     ir.IRObject{"name": ir.IRString("Purple Rain"), "year": ir.IRInt(1984)},
		Version:    2,
	}}}
	data, err = Encode(SnapshotMessage(snap))
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, snap, *got.Snapshot)
}

func TestControlFrames(t *testing.T) {
	data, err := Encode(SnapshotRequest())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"snapshot_request"}`, string(data))

	data, err = Encode(Unsubscribe("q1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"unsubscribe","query_id":"q1"}`, string(data))

	data, err = Encode(ErrorMessage("unknown query %s", "q9"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","error":"unknown query q9"}`, string(data))
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{"type":`},
		{"unknown type", `{"type":"hello"}`},
		{"subscribe without query", `{"type":"subscribe","query_id":"q1"}`},
		{"subscribe without id", `{"type":"subscribe","query":{"collection":"album","where":{"lit":true},"order":[]}}`},
		{"unsubscribe without id", `{"type":"unsubscribe"}`},
		{"snapshot without body", `{"type":"snapshot"}`},
		{"event without body", `{"type":"event"}`},
		{"insert without record", `{"type":"event","event":{"seq":1,"kind":"insert"}}`},
		{"float field", `{"type":"event","event":{"seq":1,"kind":"update","id":"a","deltas":{"year":1.5}}}`},
		{"empty error", `{"type":"error"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedMessage), "got %v", err)
		})
	}
}

func TestEncodeValidates(t *testing.T) {
	_, err := Encode(Message{Type: TypeEvent})
	assert.ErrorIs(t, err, ErrMalformedMessage)
}
