// Package config handles ambient CLI configuration loading: XDG paths,
// project-level overrides, and environment variables, layered with
// spf13/viper the way the teacher's own config package does.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all ambient configuration for the coordex CLI.
type Config struct {
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Merge     MergeConfig     `mapstructure:"merge"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
}

// SandboxConfig holds remote-sandbox provider settings.
type SandboxConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// AnthropicConfig holds settings for the Conflict Engine's optional
// semantic-merge narration. Narration is skipped entirely when both APIKey
// and UseBedrock are unset; the strategy chain never depends on it.
type AnthropicConfig struct {
	APIKey          string `mapstructure:"api_key"`
	Model           string `mapstructure:"model"`
	NarrateSemantic bool   `mapstructure:"narrate_semantic"`
	UseBedrock      bool   `mapstructure:"use_bedrock"`
	AWSRegion       string `mapstructure:"aws_region"`
	AWSProfile      string `mapstructure:"aws_profile"`
}

// DefaultsConfig holds default values applied to new sessions and claims.
type DefaultsConfig struct {
	ClaimTTLHours float64 `mapstructure:"claim_ttl_hours"`
	BudgetLimit   float64 `mapstructure:"budget_limit"`
}

// LoggingConfig holds logging output settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// MergeConfig holds Merge Detector polling settings.
type MergeConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
//  1. Environment variables (COORDEX_ prefix, explicit binds for secrets)
//  2. Project config (.coordex.yaml in the current directory or a parent)
//  3. User config ($XDG_CONFIG_HOME/coordex/config.yaml, falling back to ~/.config/coordex/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := UserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("COORDEX")
	v.AutomaticEnv()
	v.BindEnv("sandbox.api_key", "E2B_API_KEY", "COORDEX_SANDBOX_API_KEY")
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY", "COORDEX_ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Sandbox.APIKey = os.ExpandEnv(cfg.Sandbox.APIKey)
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file, bypassing XDG/
// project discovery (used by tests).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Sandbox.APIKey = os.ExpandEnv(cfg.Sandbox.APIKey)
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sandbox.api_key", "")
	v.SetDefault("sandbox.base_url", "https://api.e2b.dev")
	v.SetDefault("defaults.claim_ttl_hours", 24.0)
	v.SetDefault("defaults.budget_limit", 0.0)
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.json", false)
	v.SetDefault("merge.poll_interval", "30s")
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.narrate_semantic", false)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")
}

// UserConfigDir returns the XDG config directory for coordex.
func UserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "coordex")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "coordex")
	}
	return filepath.Join(home, ".config", "coordex")
}

// findProjectConfig searches for .coordex.yaml in the current directory and its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(cwd, ".coordex.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Sandbox:  SandboxConfig{BaseURL: "https://api.e2b.dev"},
		Defaults: DefaultsConfig{ClaimTTLHours: 24.0},
		Logging:  LoggingConfig{Level: "INFO"},
		Merge:    MergeConfig{PollInterval: 30 * time.Second},
	}
}
