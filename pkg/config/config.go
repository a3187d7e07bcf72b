// Package config loads the runtime configuration: which provider and model
// to drive sessions with, where the profile catalog lives, and the generation
// limits. Values come from an optional YAML file overlaid with environment
// variables; API keys are read from the environment only and never from the
// file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultOpenAIModel    = "gpt-4o"
)

// Environment overrides, applied after the file.
const (
	EnvProvider     = "OUROBOROS_PROVIDER"
	EnvModel        = "OUROBOROS_MODEL"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvOpenAIBase   = "OPENAI_BASE_URL"
)

type Config struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url"`
	ProfilesDir string `yaml:"profiles_dir"`
	MaxTurns    int    `yaml:"max_turns"`
	MaxTokens   int64  `yaml:"max_tokens"`
}

func Default() Config {
	return Config{Provider: ProviderAnthropic}
}

// DefaultPath is where Load looks when no path is given. A missing file there
// is not an error; the defaults apply.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ouroboros", "config.yaml")
}

// Load reads the config file at path, falling back to DefaultPath when path
// is empty. A missing default file yields the defaults; a missing explicit
// file is an error. Environment overrides apply last.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if len(bytes.TrimSpace(data)) > 0 {
				if err := yaml.Unmarshal(data, &cfg); err != nil {
					return Config{}, fmt.Errorf("parse config %s: %w", path, err)
				}
			}
		case explicit || !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg.applyEnv()
	if cfg.Model == "" {
		cfg.Model = DefaultModel(cfg.Provider)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvProvider); v != "" {
		c.Provider = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Model = v
	}
	if v := os.Getenv(EnvOpenAIBase); v != "" {
		c.BaseURL = v
	}
}

func (c Config) Validate() error {
	switch c.Provider {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown provider %q (want %s or %s)", c.Provider, ProviderAnthropic, ProviderOpenAI)
	}
	if c.Model == "" {
		return errors.New("model is required")
	}
	return nil
}

// APIKey resolves the configured provider's key from the environment.
func (c Config) APIKey() string {
	switch c.Provider {
	case ProviderOpenAI:
		return os.Getenv(EnvOpenAIKey)
	default:
		return os.Getenv(EnvAnthropicKey)
	}
}

// DefaultModel returns the model a provider gets when none is configured.
func DefaultModel(provider string) string {
	if provider == ProviderOpenAI {
		return defaultOpenAIModel
	}
	return defaultAnthropicModel
}
