package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livesync/internal/ir"
)

func TestValidateCommand_Builtin(t *testing.T) {
	out, _, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "album: name string, artist string, year int")
	assert.Contains(t, out, "OK: 1 collection")
}

func TestValidateCommand_Dir(t *testing.T) {
	dir := t.TempDir()
	src := "package catalogue\n\ncollection: track: {\n\ttitle: string\n\tlength: int\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "track.cue"), []byte(src), 0o644))

	out, _, err := execute(t, "validate", dir, "--format", "json")
	require.NoError(t, err)
	status, data := decodeResponse[map[string][]ir.CollectionSchema](t, out)
	assert.Equal(t, "ok", status)
	require.Len(t, data["collections"], 1)
	track := data["collections"][0]
	assert.Equal(t, "track", track.Name)
	assert.Equal(t, []ir.FieldSchema{
		{Name: "title", Kind: ir.KindString},
		{Name: "length", Kind: ir.KindInt},
	}, track.Fields)
}

func TestValidateCommand_Invalid(t *testing.T) {
	dir := t.TempDir()
	src := "package catalogue\n\ncollection: track: {\n\tlength: float\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "track.cue"), []byte(src), 0o644))

	out, _, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E006]")
	assert.Contains(t, out, "float fields are not supported")
}

func TestValidateCommand_MissingDir(t *testing.T) {
	_, _, err := execute(t, "validate", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
