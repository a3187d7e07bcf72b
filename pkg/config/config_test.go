package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvProvider, EnvModel, EnvOpenAIBase, EnvAnthropicKey, EnvOpenAIKey} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, cfg.Provider)
	assert.Equal(t, defaultAnthropicModel, cfg.Model)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
provider: openai
model: gpt-4.1
base_url: https://openrouter.ai/api/v1
profiles_dir: /etc/ouroboros/profiles
max_turns: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Equal(t, "gpt-4.1", cfg.Model)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.BaseURL)
	assert.Equal(t, "/etc/ouroboros/profiles", cfg.ProfilesDir)
	assert.Equal(t, 8, cfg.MaxTurns)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvProvider, "openai")
	t.Setenv(EnvModel, "gpt-4o-mini")
	t.Setenv(EnvOpenAIBase, "http://localhost:8080/v1")

	cfg, err := Load(writeConfig(t, "provider: anthropic\nmodel: claude-opus-4\n"))
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, "http://localhost:8080/v1", cfg.BaseURL)
}

func TestOpenAIModelDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvProvider, "openai")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, defaultOpenAIModel, cfg.Model)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err, "an explicit path must exist")

	_, err = Load(writeConfig(t, "provider: mystery\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")

	_, err = Load(writeConfig(t, "provider: [broken\n"))
	require.Error(t, err)
}

func TestAPIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAnthropicKey, "sk-ant-test")
	t.Setenv(EnvOpenAIKey, "sk-oai-test")

	assert.Equal(t, "sk-ant-test", Config{Provider: ProviderAnthropic}.APIKey())
	assert.Equal(t, "sk-oai-test", Config{Provider: ProviderOpenAI}.APIKey())
}
