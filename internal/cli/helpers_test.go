package cli

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/livesync/internal/authority"
	"github.com/roach88/livesync/internal/schema"
	"github.com/roach88/livesync/internal/store"
	"github.com/roach88/livesync/internal/testutil"
)

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// startAuthority serves a fresh authority over HTTP and returns its hub and
// the value for --server.
func startAuthority(t *testing.T) (*authority.Hub, string) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "authority.db"))
	require.NoError(t, err)
	hub := authority.NewHub(st,
		authority.WithSchemas(schema.Builtin()),
		authority.WithIDGenerator(testutil.NewSequentialIDs("album")),
	)
	srv := httptest.NewServer(authority.NewServer(hub))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		st.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/sync"
}

// decodeResponse decodes a JSON CLIResponse whose data is of type T.
func decodeResponse[T any](t *testing.T, out string) (string, T) {
	t.Helper()
	var resp struct {
		Status string    `json:"status"`
		Data   T         `json:"data"`
		Error  *CLIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp.Status, resp.Data
}
