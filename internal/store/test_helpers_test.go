package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/livesync/internal/ir"
)

// createTestStore opens a fresh database under t.TempDir().
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func album(id, name, artist string, year int64) ir.Record {
	return ir.Record{
		ID:         ir.RecordID(id),
		Collection: "album",
		Fields: ir.IRObject{
			"name":   ir.IRString(name),
			"artist": ir.IRString(artist),
			"year":   ir.IRInt(year),
		},
	}
}
