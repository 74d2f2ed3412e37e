package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Tether Version: dev")
	assert.Contains(t, out, "Commit: none")
}

func TestAggregate_RejectsBadFlagsBeforeConnecting(t *testing.T) {
	_, err := execute(t, "aggregate", "--date", "04/10/2026")
	assert.ErrorContains(t, err, "invalid --date")

	_, err = execute(t, "aggregate", "--date", "2026-04-10", "--owner", "not-a-uuid")
	assert.ErrorContains(t, err, "invalid --owner")
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"}, {"worker"}, {"cache", "warm"}, {"cache", "cold"}, {"aggregate"}, {"version"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	warm, _, err := rootCmd.Find([]string{"cache", "warm"})
	require.NoError(t, err)
	assert.NotNil(t, warm.Flags().Lookup("fresh"))
}
