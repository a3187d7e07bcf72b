package root

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfilesCommandListsCatalog(t *testing.T) {
	clearProviderEnv(t)
	withConfigFile(t, "")

	cmd := newProfilesCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "ID")
	assert.Contains(t, out.String(), "architect")
	assert.Contains(t, out.String(), "Systems Architect")
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "ouroboros version")
}

func TestRootCommandTree(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()
	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "run")
	assert.Contains(t, names, "profiles")
	assert.Contains(t, names, "version")

	for _, flag := range []string{"config", "debug", "otel"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "missing root flag %s", flag)
	}
}
