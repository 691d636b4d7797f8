package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "strata", cmd.Use)
	assert.Contains(t, cmd.Long, "<hex>/<size>")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"snapshot", "cat", "ls", "merge", "materialize", "exec", "rules", "watch"}

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

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestSnapshotCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	snapCmd, _, err := cmd.Find([]string{"snapshot"})
	require.NoError(t, err)

	policyFlag := snapCmd.Flags().Lookup("policy")
	require.NotNil(t, policyFlag)
	assert.Equal(t, "", policyFlag.DefValue)
}

func TestExecCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	execCmd, _, err := cmd.Find([]string{"exec"})
	require.NoError(t, err)

	for _, name := range []string{"input", "env", "workdir", "output-file", "output-dir", "description"} {
		assert.NotNil(t, execCmd.Flags().Lookup(name), name)
	}
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "rules"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
