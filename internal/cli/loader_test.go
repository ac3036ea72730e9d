package cli

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ws://127.0.0.1:9797/sync", "http://127.0.0.1:9797"},
		{"wss://sync.example.com/sync", "https://sync.example.com"},
		{"ws://host/prefix/sync/", "http://host/prefix"},
		{"ws://host:1", "http://host:1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := httpBaseURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPBaseURLRejectsScheme(t *testing.T) {
	_, err := httpBaseURL("http://127.0.0.1:9797")
	assert.Error(t, err)
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "probe", RunE: func(*cobra.Command, []string) error { return nil }}
	addServerFlag(cmd)
	addDBFlag(cmd)
	addSchemasFlag(cmd)
	return cmd
}

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("LIVESYNC_SERVER_URL", "ws://env:1/sync")
	t.Setenv("LIVESYNC_DB_PATH", "env.db")

	cmd := newConfigCommand()
	require.NoError(t, cmd.Flags().Parse([]string{"--db", "flag.db"}))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "ws://env:1/sync", cfg.ServerURL)
	assert.Equal(t, "flag.db", cfg.DBPath)
	assert.Empty(t, cfg.SchemaDir)
}

func TestLoadConfig_Invalid(t *testing.T) {
	cmd := newConfigCommand()
	require.NoError(t, cmd.Flags().Parse([]string{"--server", "http://nope"}))

	_, err := loadConfig(cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLoadSchemas_MissingDir(t *testing.T) {
	t.Setenv("LIVESYNC_SCHEMA_DIR", t.TempDir()+"/missing")

	cfg, err := loadConfig(newConfigCommand())
	require.NoError(t, err)
	_, err = loadSchemas(cfg)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
