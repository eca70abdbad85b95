package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Config is the on-disk configuration for replypilot-agent.
//
// Secrets (provider API keys) are never stored here; they live in a separate
// local secrets file managed by the settings package.
type Config struct {
	// Primary is the provider used first for every generation.
	Primary ProviderConfig `json:"primary"`

	// Fallback, when set, is tried once after the primary fails.
	Fallback *ProviderConfig `json:"fallback,omitempty"`

	// Engine tunes the per-conversation suggestion engine. Omitted fields
	// fall back to built-in defaults.
	Engine *EngineTuning `json:"engine,omitempty"`

	// HTTP tunes the retrying HTTP client shared by all provider calls.
	HTTP *HTTPTuning `json:"http,omitempty"`

	// AutoSuggest is the initial global state of automatic suggestions.
	// Defaults to true.
	AutoSuggest *bool `json:"auto_suggest,omitempty"`

	// StylesPath points at the reply-style definitions (YAML). If empty, the
	// built-in styles are used.
	StylesPath string `json:"styles_path,omitempty"`

	// StateDir is where the agent keeps its database, audit log and lock
	// file. If empty, the directory of the config file is used.
	StateDir string `json:"state_dir,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty"`
}

// ProviderConfig identifies one provider endpoint, key excluded.
type ProviderConfig struct {
	// ProviderID is one of: "openai" | "anthropic" | "openai_compatible".
	ProviderID string `json:"provider_id"`

	// Model is the model name sent to the provider.
	Model string `json:"model"`

	// BaseURL overrides the provider endpoint. Required for
	// openai_compatible; optional otherwise.
	BaseURL string `json:"base_url,omitempty"`
}

func (p *ProviderConfig) Validate() error {
	if p == nil {
		return errors.New("nil provider")
	}
	switch strings.TrimSpace(strings.ToLower(p.ProviderID)) {
	case "openai", "anthropic":
	case "openai_compatible":
		if strings.TrimSpace(p.BaseURL) == "" {
			return errors.New("base_url is required for openai_compatible")
		}
	default:
		return fmt.Errorf("invalid provider_id %q", p.ProviderID)
	}
	if strings.TrimSpace(p.Model) == "" {
		return errors.New("missing model")
	}
	if baseURL := strings.TrimSpace(p.BaseURL); baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
		scheme := strings.ToLower(strings.TrimSpace(u.Scheme))
		if scheme != "http" && scheme != "https" {
			return fmt.Errorf("invalid base_url scheme %q", u.Scheme)
		}
		if strings.TrimSpace(u.Host) == "" {
			return errors.New("invalid base_url host")
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if err := c.Primary.Validate(); err != nil {
		return fmt.Errorf("primary: %w", err)
	}
	if c.Fallback != nil {
		if err := c.Fallback.Validate(); err != nil {
			return fmt.Errorf("fallback: %w", err)
		}
	}
	if c.Engine != nil {
		if err := c.Engine.Validate(); err != nil {
			return fmt.Errorf("invalid engine: %w", err)
		}
	}
	if c.HTTP != nil {
		if err := c.HTTP.Validate(); err != nil {
			return fmt.Errorf("invalid http: %w", err)
		}
	}
	switch strings.TrimSpace(strings.ToLower(c.LogFormat)) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	switch strings.TrimSpace(strings.ToLower(c.LogLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

// EffectiveAutoSuggest returns the initial auto-suggest toggle state.
func (c *Config) EffectiveAutoSuggest() bool {
	if c == nil || c.AutoSuggest == nil {
		return true
	}
	return *c.AutoSuggest
}

// EffectiveStateDir resolves the state directory, falling back to the
// directory holding the config file.
func (c *Config) EffectiveStateDir(configPath string) string {
	if c != nil && strings.TrimSpace(c.StateDir) != "" {
		return filepath.Clean(strings.TrimSpace(c.StateDir))
	}
	return filepath.Dir(configPath)
}

// DefaultConfigPath returns the default config path:
//
//	~/.replypilot/config.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "replypilot.config.json"
	}
	return filepath.Join(home, ".replypilot", "config.json")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
