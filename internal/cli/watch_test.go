package cli

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/testutil"
)

func TestWatchCommand_Once(t *testing.T) {
	hub, server := startAuthority(t)
	for _, rec := range []ir.Record{
		testutil.Album("a1", "Purple Rain", "Prince", 1984),
		testutil.Album("a2", "Low", "Bowie", 1977),
		testutil.Album("a3", "Sign o' the Times", "Prince", 1987),
	} {
		_, _, err := hub.Put(t.Context(), rec)
		require.NoError(t, err)
	}

	out, _, err := execute(t, "watch", "album", "artist = 'Prince' ORDER BY year DESC",
		"--once", "--server", server, "--format", "json")
	require.NoError(t, err)

	var update watchUpdate
	require.NoError(t, json.Unmarshal([]byte(out), &update), "output: %s", out)
	assert.Equal(t, 2, update.Count)
	require.Len(t, update.Records, 2)
	assert.Equal(t, ir.RecordID("a3"), update.Records[0].ID)
	assert.Equal(t, ir.RecordID("a1"), update.Records[1].ID)
}

func TestWatchCommand_OnceText(t *testing.T) {
	hub, server := startAuthority(t)
	_, _, err := hub.Put(t.Context(), testutil.Album("a1", "Purple Rain", "Prince", 1984))
	require.NoError(t, err)

	out, _, err := execute(t, "watch", "album", "--once", "--server", server)
	require.NoError(t, err)
	assert.Contains(t, out, "1 record [a1]")
}

func TestWatchCommand_InvalidQuery(t *testing.T) {
	out, _, err := execute(t, "watch", "album", "year >>", "--once")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E101]")
}

func TestWatchCommand_OnceTimesOut(t *testing.T) {
	start := time.Now()
	_, _, err := execute(t, "watch", "album", "--once", "--timeout", "200ms", "--server", "ws://127.0.0.1:1/sync")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Less(t, time.Since(start), 10*time.Second)
}
