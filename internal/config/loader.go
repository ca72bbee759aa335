package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// Load loads config from the default path (~/.turnbot/config.json).
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return LoadFromFile(filepath.Join(home, ".turnbot", "config.json"))
}

// LoadFromFile loads config from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader loads config from an io.Reader, applying defaults and env overrides.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	if err := json.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	expandPaths(cfg)

	return cfg, nil
}

// LoadDefaults returns the default config with env overrides and path
// expansion applied, for running without a config file.
func LoadDefaults() *Config {
	cfg := DefaultConfig()
	applyEnvOverrides(cfg)
	expandPaths(cfg)
	return cfg
}

// applyEnvOverrides applies TURNBOT_-prefixed environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]*string{
		"TURNBOT_PROVIDERS_OPENAI_APIKEY":     &cfg.Providers.OpenAI.APIKey,
		"TURNBOT_PROVIDERS_ANTHROPIC_APIKEY":  &cfg.Providers.Anthropic.APIKey,
		"TURNBOT_PROVIDERS_DEEPSEEK_APIKEY":   &cfg.Providers.DeepSeek.APIKey,
		"TURNBOT_PROVIDERS_OPENROUTER_APIKEY": &cfg.Providers.OpenRouter.APIKey,
		"TURNBOT_PROVIDERS_CUSTOM_APIKEY":     &cfg.Providers.Custom.APIKey,
		"TURNBOT_PROVIDERS_DEFAULT":           &cfg.Providers.Default,
		"TURNBOT_HISTORY_DATADIR":             &cfg.History.DataDir,
		"TURNBOT_PERSONA_PATH":                &cfg.Persona.Path,
		"TURNBOT_DEBOUNCE_MERGE_SEPARATOR":    &cfg.Debounce.MergeSeparator,
	}

	for env, ptr := range envMap {
		if val := os.Getenv(env); val != "" {
			*ptr = val
		}
	}

	if val := os.Getenv("TURNBOT_DEBOUNCE_SECONDS"); val != "" {
		if secs, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Debounce.DebounceSeconds = secs
		}
	}
	if val := os.Getenv("TURNBOT_DEBOUNCE_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			cfg.Debounce.Enabled = enabled
		}
	}
}

// expandPaths expands a leading ~ in configured paths.
func expandPaths(cfg *Config) {
	cfg.History.DataDir = expandHome(cfg.History.DataDir)
	cfg.Persona.Path = expandHome(cfg.Persona.Path)
}

func expandHome(path string) string {
	if len(path) >= 2 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
