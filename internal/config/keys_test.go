package config

import (
	"os"
	"testing"
)

func TestGetSandboxAPIKey(t *testing.T) {
	originalKey := os.Getenv("E2B_API_KEY")
	defer os.Setenv("E2B_API_KEY", originalKey)

	t.Run("from environment variable", func(t *testing.T) {
		os.Setenv("E2B_API_KEY", "e2b-test-key")
		defer os.Unsetenv("E2B_API_KEY")

		key, err := GetSandboxAPIKey(&Config{})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if key != "e2b-test-key" {
			t.Errorf("expected 'e2b-test-key', got %q", key)
		}
	})

	t.Run("from config", func(t *testing.T) {
		os.Unsetenv("E2B_API_KEY")

		cfg := &Config{Sandbox: SandboxConfig{APIKey: "e2b-config-key"}}
		key, err := GetSandboxAPIKey(cfg)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if key != "e2b-config-key" {
			t.Errorf("expected 'e2b-config-key', got %q", key)
		}
	})

	t.Run("no key configured", func(t *testing.T) {
		os.Unsetenv("E2B_API_KEY")

		_, err := GetSandboxAPIKey(&Config{})
		if err != ErrNoAPIKey {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
	})
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{"valid key", "e2b_abcdefghijklmnopqrstuvwxyz", "...wxyz"},
		{"empty key", "", "(not set)"},
		{"short key", "short", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MaskAPIKey(tt.key)
			if result != tt.expected {
				t.Errorf("MaskAPIKey() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestGetAPIKeySource(t *testing.T) {
	originalKey := os.Getenv("E2B_API_KEY")
	defer os.Setenv("E2B_API_KEY", originalKey)

	t.Run("from environment", func(t *testing.T) {
		os.Setenv("E2B_API_KEY", "test-key")
		defer os.Unsetenv("E2B_API_KEY")

		if source := GetAPIKeySource(&Config{}); source != KeySourceEnv {
			t.Errorf("expected KeySourceEnv, got %v", source)
		}
	})

	t.Run("from config", func(t *testing.T) {
		os.Unsetenv("E2B_API_KEY")

		cfg := &Config{Sandbox: SandboxConfig{APIKey: "e2b-config-key"}}
		if source := GetAPIKeySource(cfg); source != KeySourceConfig {
			t.Errorf("expected KeySourceConfig, got %v", source)
		}
	})

	t.Run("no key", func(t *testing.T) {
		os.Unsetenv("E2B_API_KEY")

		if source := GetAPIKeySource(&Config{}); source != KeySourceNone {
			t.Errorf("expected KeySourceNone, got %v", source)
		}
	})
}
