package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "check", "triggers", "rules", "logs", "candidates", "signals", "seed", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "governor", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)

	require.NotNil(t, serveCmd.Flags().Lookup("seed"))
}

func TestGroupCommands_HaveSubcommands(t *testing.T) {
	cases := map[string][]string{
		"triggers":   {"list", "set-threshold", "deactivate", "activate"},
		"rules":      {"list", "toggle"},
		"logs":       {"list", "revert", "export"},
		"candidates": {"list", "approve", "reject", "generate"},
		"signals":    {"record", "list", "import-samples"},
	}
	for parent, subs := range cases {
		cmd, _, err := rootCmd.Find([]string{parent})
		require.NoError(t, err)
		names := make(map[string]bool)
		for _, c := range cmd.Commands() {
			names[c.Name()] = true
		}
		for _, s := range subs {
			assert.True(t, names[s], "%s should have subcommand %q", parent, s)
		}
	}
}

func TestLogsExport_Flags(t *testing.T) {
	for _, name := range []string{"out", "rule", "target", "open", "since", "limit"} {
		assert.NotNil(t, logsExportCmd.Flags().Lookup(name), "logs export should have --%s", name)
	}
	assert.Equal(t, "0", logsExportCmd.Flags().Lookup("limit").DefValue)
	assert.Equal(t, "50", logsListCmd.Flags().Lookup("limit").DefValue)
}

func TestCandidatesList_DefaultStatus(t *testing.T) {
	flag := candidatesListCmd.Flags().Lookup("status")
	require.NotNil(t, flag)
	assert.Equal(t, "PENDING", flag.DefValue)
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
