package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "livesync", cmd.Use)
	assert.Contains(t, cmd.Long, "live queries")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"serve", "watch", "get", "query", "put", "rm", "parse", "validate", "history", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "validate", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		command string
		flag    string
		def     string
	}{
		{"serve", "db", ""},
		{"serve", "listen", ""},
		{"serve", "schemas", ""},
		{"watch", "server", ""},
		{"watch", "once", "false"},
		{"watch", "timeout", "10s"},
		{"query", "filter", ""},
		{"put", "patch", "false"},
		{"parse", "filter", ""},
		{"history", "limit", "0"},
		{"history", "after", "0"},
		{"test", "update", "false"},
		{"test", "golden", ""},
	}

	root := NewRootCommand()
	for _, tt := range tests {
		t.Run(tt.command+"/"+tt.flag, func(t *testing.T) {
			sub, _, err := root.Find([]string{tt.command})
			require.NoError(t, err)
			f := sub.Flags().Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Equal(t, tt.def, f.DefValue)
		})
	}
}
