package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRValueSealed(t *testing.T) {
	var _ IRValue = IRNull{}
	var _ IRValue = IRString("test")
	var _ IRValue = IRInt(42)
	var _ IRValue = IRBool(true)
	var _ IRValue = IRArray{IRString("a"), IRInt(1)}
	var _ IRValue = IRObject{"key": IRString("value")}
}

func TestIRObjectSortedKeysRFC8785Order(t *testing.T) {
	obj := IRObject{
		"a":  IRInt(1),
		"A":  IRInt(2),
		"aa": IRInt(3),
		"aA": IRInt(4),
		"Aa": IRInt(5),
		"AA": IRInt(6),
	}

	// 'A' = 65, 'a' = 97
	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aA", "aa"}, obj.SortedKeys())
}

func TestSortedKeysUTF16Order(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D 0xDE00, which sort before U+FF21
	// in UTF-16 even though the UTF-8 bytes sort after.
	obj := IRObject{
		"\uFF21":     IRInt(1),
		"\U0001F600": IRInt(2),
	}
	assert.Equal(t, []string{"\U0001F600", "\uFF21"}, obj.SortedKeys())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		value IRValue
		want  Kind
	}{
		{IRNull{}, KindNull},
		{nil, KindNull},
		{IRString("x"), KindString},
		{IRInt(1), KindInt},
		{IRBool(true), KindBool},
		{IRArray{}, KindArray},
		{IRObject{}, KindObject},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.value))
		})
	}
}

func TestLookup(t *testing.T) {
	obj := IRObject{
		"name": IRString("Test Track"),
		"metadata": IRObject{
			"genre": IRString("rock"),
			"bpm":   IRInt(120),
			"tags":  IRArray{IRString("guitar")},
		},
	}

	v, ok := obj.Lookup("name")
	require.True(t, ok)
	assert.Equal(t, IRString("Test Track"), v)

	v, ok = obj.Lookup("metadata.bpm")
	require.True(t, ok)
	assert.Equal(t, IRInt(120), v)

	_, ok = obj.Lookup("metadata.missing")
	assert.False(t, ok)

	_, ok = obj.Lookup("name.first")
	assert.False(t, ok, "cannot traverse into a string")

	_, ok = obj.Lookup("missing")
	assert.False(t, ok)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(IRInt(1), IRInt(1)))
	assert.False(t, Equal(IRInt(1), IRString("1")))
	assert.True(t, Equal(IRNull{}, IRNull{}))
	assert.False(t, Equal(IRNull{}, IRBool(false)))
	assert.True(t, Equal(IRArray{IRInt(1), IRString("a")}, IRArray{IRInt(1), IRString("a")}))
	assert.False(t, Equal(IRArray{IRInt(1)}, IRArray{IRInt(1), IRInt(2)}))
	assert.True(t, Equal(IRObject{"a": IRObject{"b": IRBool(true)}}, IRObject{"a": IRObject{"b": IRBool(true)}}))
	assert.False(t, Equal(IRObject{"a": IRInt(1)}, IRObject{"b": IRInt(1)}))
}

func TestCompare(t *testing.T) {
	cmp, ok := Compare(IRInt(1985), IRInt(1990))
	require.True(t, ok)
	assert.Equal(t, -1, cmp)

	cmp, ok = Compare(IRString("Prince"), IRString("Madonna"))
	require.True(t, ok)
	assert.Equal(t, 1, cmp)

	cmp, ok = Compare(IRInt(3), IRInt(3))
	require.True(t, ok)
	assert.Equal(t, 0, cmp)

	_, ok = Compare(IRInt(1), IRString("1"))
	assert.False(t, ok, "mixed kinds are unordered")

	_, ok = Compare(IRBool(true), IRBool(false))
	assert.False(t, ok, "bools are unordered")
}

func TestCloneIsDeep(t *testing.T) {
	orig := IRObject{"meta": IRObject{"genre": IRString("rock")}, "tags": IRArray{IRString("a")}}
	cp := orig.Clone()

	cp["meta"].(IRObject)["genre"] = IRString("jazz")
	cp["tags"].(IRArray)[0] = IRString("b")

	assert.Equal(t, IRString("rock"), orig["meta"].(IRObject)["genre"])
	assert.Equal(t, IRString("a"), orig["tags"].(IRArray)[0])
}

func TestUnmarshalRejectsFloats(t *testing.T) {
	tests := []string{`1.5`, `{"bpm": 120.5}`, `[1, 2.0]`, `1e3`}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := UnmarshalIRValue([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestUnmarshalIRValue(t *testing.T) {
	v, err := UnmarshalIRValue([]byte(`{"name":"Parade","year":1986,"live":false,"gone":null,"tags":["a"]}`))
	require.NoError(t, err)

	obj, ok := v.(IRObject)
	require.True(t, ok)
	assert.Equal(t, IRString("Parade"), obj["name"])
	assert.Equal(t, IRInt(1986), obj["year"])
	assert.Equal(t, IRBool(false), obj["live"])
	assert.Equal(t, IRNull{}, obj["gone"])
	assert.Equal(t, IRArray{IRString("a")}, obj["tags"])
}

func TestRecordJSONRoundTrip(t *testing.T) {
	rec := Record{
		ID:         "id1",
		Collection: "album",
		Fields:     IRObject{"name": IRString("Parade"), "year": IRInt(1986)},
		Version:    2,
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"id1","collection":"album","fields":{"name":"Parade","year":1986},"version":2}`, string(data))

	var got Record
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, rec, got)
}

func TestChangeEventJSON(t *testing.T) {
	ev := Update(7, "id2", IRObject{"year": IRInt(2000), "artist": IRNull{}})

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var got ChangeEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ev, got)
	assert.Equal(t, RecordID("id2"), got.TargetID())
}

func TestChangeEventValidate(t *testing.T) {
	assert.NoError(t, Insert(1, Record{ID: "a"}).Validate())
	assert.Error(t, ChangeEvent{Seq: 1, Kind: ChangeInsert}.Validate())
	assert.Error(t, ChangeEvent{Seq: 1, Kind: ChangeUpdate}.Validate())
	assert.Error(t, ChangeEvent{Seq: 1, Kind: ChangeDelete}.Validate())
	assert.Error(t, ChangeEvent{Seq: 1, Kind: "upsert", ID: "a"}.Validate())
}

func TestSnapshotEmptyRecordsEncodeAsArray(t *testing.T) {
	data, err := json.Marshal(Snapshot{Seq: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":3,"records":[]}`, string(data))
}

func TestCollectionSchemaCheck(t *testing.T) {
	album := CollectionSchema{
		Name: "album",
		Fields: []FieldSchema{
			{Name: "name", Kind: KindString},
			{Name: "artist", Kind: KindString},
			{Name: "year", Kind: KindInt},
		},
	}

	assert.NoError(t, album.Check(IRObject{"name": IRString("Parade"), "year": IRInt(1986)}))
	assert.NoError(t, album.Check(IRObject{"extra": IRBool(true)}), "undeclared fields are allowed")
	assert.NoError(t, album.Check(IRObject{"year": IRNull{}}), "null clears a field")
	assert.Error(t, album.Check(IRObject{"year": IRString("1986")}))
}
