package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "hlcsync", cmd.Use)
	assert.Contains(t, cmd.Long, "hybrid logical clock")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"init", "put", "get", "log", "status", "sync", "serve", "watch"}

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

	for _, name := range []string{"config", "db", "group", "node"} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, "", f.DefValue, name)
	}
}

func TestPutCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	putCmd, _, err := cmd.Find([]string{"put"})
	require.NoError(t, err)

	propFlag := putCmd.Flags().Lookup("prop")
	require.NotNil(t, propFlag)
	assert.Equal(t, "p", propFlag.Shorthand)
	assert.Equal(t, "", propFlag.DefValue)
}

func TestSyncCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"sync", "watch"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)

		require.NotNil(t, sub.Flags().Lookup("peer"), name)
		wsFlag := sub.Flags().Lookup("ws")
		require.NotNil(t, wsFlag, name)
		assert.Equal(t, "false", wsFlag.DefValue)
	}

	watchCmd, _, err := cmd.Find([]string{"watch"})
	require.NoError(t, err)
	intervalFlag := watchCmd.Flags().Lookup("interval")
	require.NotNil(t, intervalFlag)
	assert.Equal(t, "1m0s", intervalFlag.DefValue)
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	listenFlag := serveCmd.Flags().Lookup("listen")
	require.NotNil(t, listenFlag)
	// empty means the config's listen address
	assert.Equal(t, "", listenFlag.DefValue)
}

func TestLogCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	logCmd, _, err := cmd.Find([]string{"log"})
	require.NoError(t, err)

	for _, name := range []string{"since", "limit", "exclude-node"} {
		require.NotNil(t, logCmd.Flags().Lookup(name), name)
	}
}

func TestIsValidFormat(t *testing.T) {
	tests := []struct {
		format string
		valid  bool
	}{
		{"text", true},
		{"json", true},
		{"yaml", false},
		{"", false},
		{"JSON", false},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			assert.Equal(t, tt.valid, isValidFormat(tt.format))
		})
	}
}
