package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no sandbox provider API key is configured.
var ErrNoAPIKey = errors.New("no sandbox API key configured")

// GetSandboxAPIKey returns the sandbox provider API key from the
// configuration. It checks in order: E2B_API_KEY environment variable,
// config file.
func GetSandboxAPIKey(cfg *Config) (string, error) {
	if key := os.Getenv("E2B_API_KEY"); key != "" {
		return key, nil
	}

	if cfg != nil && cfg.Sandbox.APIKey != "" {
		key := os.ExpandEnv(cfg.Sandbox.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, nil
		}
	}

	return "", ErrNoAPIKey
}

// MaskAPIKey returns a masked version of an API key for display, showing
// only the last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return "***"
	}
	return "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource returns where the sandbox API key was sourced from.
func GetAPIKeySource(cfg *Config) KeySource {
	if os.Getenv("E2B_API_KEY") != "" {
		return KeySourceEnv
	}
	if cfg != nil && cfg.Sandbox.APIKey != "" {
		key := os.ExpandEnv(cfg.Sandbox.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return KeySourceConfig
		}
	}
	return KeySourceNone
}
