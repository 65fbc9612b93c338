// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration management for polychat.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/polychat/internal/util"
)

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config is the root configuration for the polychat server.
type Config struct {
	Server   ServerConfig   `toml:"server" json:"server"`
	Cloud    CloudConfig    `toml:"cloud" json:"cloud"`
	Storage  StorageConfig  `toml:"storage" json:"storage"`
	Defaults DefaultsConfig `toml:"defaults" json:"defaults"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// Port the HTTP server listens on.
	Port int `toml:"port" json:"port"`

	// AllowedOrigin is the origin allowed for cross-origin requests.
	// Empty means same-origin only.
	AllowedOrigin string `toml:"allowed_origin" json:"allowed_origin"`
}

// CloudConfig controls the OpenRouter backend.
type CloudConfig struct {
	// OpenRouterKey is the API key for OpenRouter.
	// SECURITY: Prefer the POLYCHAT_OPENROUTER_KEY env var over storing
	// the key in a config file.
	OpenRouterKey string `toml:"openrouter_key" json:"openrouter_key"`

	// BaseURL is the OpenRouter API base URL.
	BaseURL string `toml:"base_url" json:"base_url"`

	// TimeoutSecs is the per-request timeout in seconds.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`

	// MaxRetries is the number of attempts for retryable failures.
	MaxRetries int `toml:"max_retries" json:"max_retries"`

	// RequestsPerSecond caps the outbound request rate.
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
}

// StorageConfig controls local persistence.
type StorageConfig struct {
	// DataDir is the directory for conversation and settings files.
	// Empty means ~/.polychat/state.
	DataDir string `toml:"data_dir" json:"data_dir"`

	// MaxConversations caps the number of stored conversations.
	MaxConversations int `toml:"max_conversations" json:"max_conversations"`
}

// DefaultsConfig holds the initial generation parameters offered to new
// clients. Per-user preferences override these once saved.
type DefaultsConfig struct {
	Temperature float64 `toml:"temperature" json:"temperature"`
	MaxTokens   int     `toml:"max_tokens" json:"max_tokens"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          8090,
			AllowedOrigin: "",
		},
		Cloud: CloudConfig{
			OpenRouterKey:     "",
			BaseURL:           "https://openrouter.ai/api/v1",
			TimeoutSecs:       60,
			MaxRetries:        3,
			RequestsPerSecond: 5,
		},
		Storage: StorageConfig{
			DataDir:          "",
			MaxConversations: 100,
		},
		Defaults: DefaultsConfig{
			Temperature: 0.7,
			MaxTokens:   1000,
		},
	}
}

// =============================================================================
// CONFIG PATHS
// =============================================================================

// ConfigDir returns the polychat config directory (~/.polychat).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".polychat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) because they
// may contain the API key.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()
	var loadErr error

	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
			} else {
				return finishLoad(cfg)
			}
		}
	}

	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				loadErr = fmt.Errorf("failed to load JSON config: %w", err)
			} else {
				return finishLoad(cfg)
			}
		}
	}

	cfg, err = finishLoad(cfg)
	if err != nil {
		return nil, err
	}
	return cfg, loadErr
}

// LoadFromPath loads configuration from a specific file path with full
// validation. JSON files are detected by extension; anything else is
// parsed as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finishLoad(cfg)
}

// finishLoad applies env overrides, fills missing values, and validates.
func finishLoad(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	// Server
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}

	// Cloud
	if cfg.Cloud.BaseURL == "" {
		cfg.Cloud.BaseURL = defaults.Cloud.BaseURL
	}
	if cfg.Cloud.TimeoutSecs == 0 {
		cfg.Cloud.TimeoutSecs = defaults.Cloud.TimeoutSecs
	}
	if cfg.Cloud.MaxRetries == 0 {
		cfg.Cloud.MaxRetries = defaults.Cloud.MaxRetries
	}
	if cfg.Cloud.RequestsPerSecond == 0 {
		cfg.Cloud.RequestsPerSecond = defaults.Cloud.RequestsPerSecond
	}

	// Storage
	if cfg.Storage.MaxConversations == 0 {
		cfg.Storage.MaxConversations = defaults.Storage.MaxConversations
	}

	// Defaults
	if cfg.Defaults.Temperature == 0 {
		cfg.Defaults.Temperature = defaults.Defaults.Temperature
	}
	if cfg.Defaults.MaxTokens == 0 {
		cfg.Defaults.MaxTokens = defaults.Defaults.MaxTokens
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported variables:
//   - POLYCHAT_PORT: overrides server.port
//   - POLYCHAT_OPENROUTER_KEY: overrides cloud.openrouter_key
//   - POLYCHAT_BASE_URL: overrides cloud.base_url
//   - POLYCHAT_DATA_DIR: overrides storage.data_dir
func (c *Config) ApplyEnvOverrides() {
	if port := os.Getenv("POLYCHAT_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			c.Server.Port = n
		}
	}

	if key := os.Getenv("POLYCHAT_OPENROUTER_KEY"); key != "" {
		c.Cloud.OpenRouterKey = key
	}

	if base := os.Getenv("POLYCHAT_BASE_URL"); base != "" {
		c.Cloud.BaseURL = base
	}

	if dir := os.Getenv("POLYCHAT_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# polychat configuration file")
	fmt.Fprintln(file, "# Generated by polychat - edit with care")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// SaveJSON saves the configuration to a JSON file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveJSON(cfg *Config, path string) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// ==========================================================================
	// Server Settings Validation
	// ==========================================================================

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("must be 1-65535, got %d", c.Server.Port),
		})
	}

	if c.Server.AllowedOrigin != "" && c.Server.AllowedOrigin != "*" {
		if u, err := url.Parse(c.Server.AllowedOrigin); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "server.allowed_origin",
				Message: fmt.Sprintf("must be '*' or an absolute origin URL, got '%s'", c.Server.AllowedOrigin),
			})
		}
	}

	// ==========================================================================
	// Cloud Settings Validation
	// ==========================================================================

	if c.Cloud.BaseURL != "" {
		if u, err := url.Parse(c.Cloud.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "cloud.base_url",
				Message: fmt.Sprintf("invalid URL '%s'", c.Cloud.BaseURL),
			})
		}
	}

	if c.Cloud.TimeoutSecs < 1 || c.Cloud.TimeoutSecs > 600 {
		errs = append(errs, ValidationError{
			Field:   "cloud.timeout_secs",
			Message: fmt.Sprintf("must be 1-600, got %d", c.Cloud.TimeoutSecs),
		})
	}

	if c.Cloud.MaxRetries < 1 || c.Cloud.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "cloud.max_retries",
			Message: fmt.Sprintf("must be 1-10, got %d", c.Cloud.MaxRetries),
		})
	}

	if c.Cloud.RequestsPerSecond <= 0 || c.Cloud.RequestsPerSecond > 100 {
		errs = append(errs, ValidationError{
			Field:   "cloud.requests_per_second",
			Message: fmt.Sprintf("must be in (0, 100], got %g", c.Cloud.RequestsPerSecond),
		})
	}

	// ==========================================================================
	// Storage Settings Validation
	// ==========================================================================

	if c.Storage.MaxConversations < 1 || c.Storage.MaxConversations > 10000 {
		errs = append(errs, ValidationError{
			Field:   "storage.max_conversations",
			Message: fmt.Sprintf("must be 1-10000, got %d", c.Storage.MaxConversations),
		})
	}

	// ==========================================================================
	// Defaults Validation
	// ==========================================================================

	if c.Defaults.Temperature < 0 || c.Defaults.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "defaults.temperature",
			Message: fmt.Sprintf("must be 0.0-2.0, got %g", c.Defaults.Temperature),
		})
	}

	if c.Defaults.MaxTokens < 1 || c.Defaults.MaxTokens > 128000 {
		errs = append(errs, ValidationError{
			Field:   "defaults.max_tokens",
			Message: fmt.Sprintf("must be 1-128000, got %d", c.Defaults.MaxTokens),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
