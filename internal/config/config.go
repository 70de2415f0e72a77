// Package config handles Daybreak configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/daybreak/config.yaml, /etc/daybreak/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "daybreak", "config.yaml"))
	}

	paths = append(paths, "/etc/daybreak/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Daybreak configuration.
type Config struct {
	Listen    ListenConfig   `yaml:"listen"`
	Database  DatabaseConfig `yaml:"database"`
	Model     ModelConfig    `yaml:"model"`
	Identity  IdentityConfig `yaml:"identity"`
	RateLimit RateConfig     `yaml:"rate_limit"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// DatabaseConfig defines SQLite storage settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ModelConfig defines the hosted LLM provider settings.
type ModelConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Name        string  `yaml:"name"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// IdentityConfig defines the identity provider used for bearer
// token verification.
type IdentityConfig struct {
	LookupURL string `yaml:"lookup_url"`
	Audience  string `yaml:"audience"`
}

// RateConfig defines per-user request throttling for chat endpoints.
type RateConfig struct {
	// RequestsPerMinute caps chat messages per user. Zero disables limiting.
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file body ($VAR or ${VAR}) are expanded before parsing, so API
// keys can stay out of the file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:   ListenConfig{Port: 8080},
		Database: DatabaseConfig{Path: "daybreak.db"},
		Model: ModelConfig{
			Name:        "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.2,
		},
		RateLimit: RateConfig{
			RequestsPerMinute: 30,
			Burst:             10,
		},
	}
}
