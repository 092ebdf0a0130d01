// Package config handles loading and managing polyllm configuration.
//
// The configuration names the default provider and model, describes each
// provider (its models and where its credential lives), carries descriptive
// metadata for models and decides whether client creation may fall back to
// the mock provider.
//
// TOML is the primary format and follows the XDG Base Directory
// specification. YAML (.yaml, .yml) and JSON (.json) files are accepted too.
//
// Example TOML configuration:
//
//	fallback_to_mock = true
//	log_level = "info"
//
//	[defaults]
//	provider = "ollama"
//	model = "llama3.2"
//
//	[providers.ollama]
//	base_url = "http://localhost:11434"
//	models = ["llama3.2", "gemma:2b"]
//
//	[providers.groq]
//	api_key_env = "GROQ_TOKEN"
//	models = ["llama-3.3-70b-versatile"]
//
//	[models."llama3.2"]
//	name = "Llama 3.2"
//	context_window = 131072
//	strengths = ["general", "local"]
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	appName         = "polyllm"
	configFileName  = "config.toml"
	DefaultDirPerm  = 0750 // rwxr-x---
	DefaultFilePerm = 0600 // rw------- (may contain secrets)

	// DefaultProvider and DefaultModel apply when the configuration omits them.
	DefaultProvider = "mock"
	DefaultModel    = "mock-model"
)

// Config is the models configuration consumed by the client factory and the
// system initializer.
type Config struct {
	// Defaults names the provider and model used when a caller names neither.
	Defaults Defaults `toml:"defaults" yaml:"defaults" json:"defaults"`

	// Providers holds provider-specific settings keyed by provider name.
	Providers map[string]ProviderConfig `toml:"providers" yaml:"providers" json:"providers"`

	// Models holds descriptive metadata keyed by model id.
	Models map[string]ModelConfig `toml:"models" yaml:"models" json:"models"`

	// FallbackToMock lets client creation retry once against the mock
	// provider when the requested provider cannot be used.
	FallbackToMock bool `toml:"fallback_to_mock" yaml:"fallback_to_mock" json:"fallback_to_mock"`

	// LogLevel is one of debug, info, warn or error.
	LogLevel string `toml:"log_level,omitempty" yaml:"log_level,omitempty" json:"log_level,omitempty"`

	// RequestTimeoutSeconds bounds vendor HTTP calls. If <= 0, 60 seconds is used.
	RequestTimeoutSeconds int `toml:"request_timeout_seconds,omitempty" yaml:"request_timeout_seconds,omitempty" json:"request_timeout_seconds,omitempty"`
}

// Defaults is the default provider/model pair.
type Defaults struct {
	Provider string `toml:"provider" yaml:"provider" json:"provider"`
	Model    string `toml:"model" yaml:"model" json:"model"`
}

// ProviderConfig holds configuration specific to one provider.
type ProviderConfig struct {
	// Models lists model ids the provider should accept in addition to its
	// builtin catalog.
	Models []string `toml:"models,omitempty" yaml:"models,omitempty" json:"models,omitempty"`

	// APIKeyEnv names an environment variable holding the credential.
	APIKeyEnv string `toml:"api_key_env,omitempty" yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`

	// APIKey is an inline credential. Prefer APIKeyEnv.
	APIKey string `toml:"api_key,omitempty" yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// BaseURL overrides the vendor endpoint (used by Ollama and the
	// OpenAI-compatible providers).
	BaseURL string `toml:"base_url,omitempty" yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Options are passed to the provider verbatim.
	Options map[string]any `toml:"options,omitempty" yaml:"options,omitempty" json:"options,omitempty"`
}

// ModelConfig is descriptive model metadata.
type ModelConfig struct {
	Name                 string   `toml:"name,omitempty" yaml:"name,omitempty" json:"name,omitempty"`
	Provider             string   `toml:"provider,omitempty" yaml:"provider,omitempty" json:"provider,omitempty"`
	Description          string   `toml:"description,omitempty" yaml:"description,omitempty" json:"description,omitempty"`
	Version              string   `toml:"version,omitempty" yaml:"version,omitempty" json:"version,omitempty"`
	ContextWindow        int      `toml:"context_window,omitempty" yaml:"context_window,omitempty" json:"context_window,omitempty"`
	MaxOutputTokens      int      `toml:"max_output_tokens,omitempty" yaml:"max_output_tokens,omitempty" json:"max_output_tokens,omitempty"`
	Strengths            []string `toml:"strengths,omitempty" yaml:"strengths,omitempty" json:"strengths,omitempty"`
	InputCostPerMillion  float64  `toml:"input_cost_per_million,omitempty" yaml:"input_cost_per_million,omitempty" json:"input_cost_per_million,omitempty"`
	OutputCostPerMillion float64  `toml:"output_cost_per_million,omitempty" yaml:"output_cost_per_million,omitempty" json:"output_cost_per_million,omitempty"`
}

// Default returns the configuration used when no file is present: the mock
// provider and model, fallback disabled.
func Default() Config {
	return Config{
		Defaults: Defaults{
			Provider: DefaultProvider,
			Model:    DefaultModel,
		},
		Providers:             map[string]ProviderConfig{},
		Models:                map[string]ModelConfig{},
		FallbackToMock:        false,
		LogLevel:              "info",
		RequestTimeoutSeconds: 60,
	}
}

// GetConfigFilePath determines the configuration file path based on XDG specs:
// $XDG_CONFIG_HOME/polyllm/config.toml, or $HOME/.config/polyllm/config.toml.
//
// The returned path may not exist.
func GetConfigFilePath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not determine user home directory: %w", err)
		}
		configHome = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configHome, appName, configFileName), nil
}

// Load reads the configuration at the XDG path. A missing file yields Default.
func Load() (Config, error) {
	cfgPath, err := GetConfigFilePath()
	if err != nil {
		return Config{}, fmt.Errorf("failed to determine config path: %w", err)
	}
	return LoadOrDefault(cfgPath)
}

// LoadOrDefault is LoadFromFile except that a missing file yields Default.
func LoadOrDefault(filePath string) (Config, error) {
	if filePath == "" {
		return Default(), nil
	}
	if _, err := os.Stat(filePath); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return LoadFromFile(filePath)
}

// LoadFromFile loads configuration from a specific file path, merging it over
// Default. The format is chosen from the extension: .yaml/.yml, .json, and
// TOML for anything else.
func LoadFromFile(filePath string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("configuration file not found at %s", filePath)
		}
		return Config{}, fmt.Errorf("failed to access config file %s: %w", filePath, err)
	}

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to decode YAML config file %s: %w", filePath, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to decode JSON config file %s: %w", filePath, err)
		}
	default:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to decode TOML config file %s: %w", filePath, err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

// normalize fills empty values left by a partial file.
func (c *Config) normalize() {
	if c.Defaults.Provider == "" {
		c.Defaults.Provider = DefaultProvider
	}
	if c.Defaults.Model == "" {
		c.Defaults.Model = DefaultModel
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	if c.Models == nil {
		c.Models = map[string]ModelConfig{}
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 60
	}
}

// Save writes cfg as TOML to filePath, creating parent directories.
func Save(cfg Config, filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), DefaultDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", filepath.Dir(filePath), err)
	}

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("failed to create config file %s: %w", filePath, err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode configuration to TOML: %w", err)
	}
	return nil
}

// GetProviderConfig retrieves the configuration for a given provider.
func (c *Config) GetProviderConfig(provider string) (ProviderConfig, bool) {
	pc, exists := c.Providers[strings.ToLower(provider)]
	if !exists {
		pc, exists = c.Providers[provider]
	}
	return pc, exists
}

// GetModelConfig retrieves the metadata for a given model.
func (c *Config) GetModelConfig(model string) (ModelConfig, bool) {
	mc, exists := c.Models[model]
	return mc, exists
}

// ProviderNames lists configured providers in sorted order.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModelNames lists configured models in sorted order.
func (c *Config) ModelNames() []string {
	names := make([]string, 0, len(c.Models))
	for name := range c.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderModels lists the models configured for provider.
func (c *Config) ProviderModels(provider string) []string {
	pc, ok := c.GetProviderConfig(provider)
	if !ok {
		return nil
	}
	return pc.Models
}

// APIKey resolves the credential for provider. It checks, in order, the
// {PROVIDER}_API_KEY environment variable, the inline api_key and the
// variable named by api_key_env. It returns "" when nothing is found.
func (c *Config) APIKey(provider string) string {
	if key := os.Getenv(strings.ToUpper(provider) + "_API_KEY"); key != "" {
		return key
	}
	pc, ok := c.GetProviderConfig(provider)
	if !ok {
		return ""
	}
	if pc.APIKey != "" {
		return pc.APIKey
	}
	if pc.APIKeyEnv != "" {
		return os.Getenv(pc.APIKeyEnv)
	}
	return ""
}

// ProviderOptions flattens a provider section into the option map handed to
// the provider constructor.
func (c *Config) ProviderOptions(provider string) map[string]any {
	opts := map[string]any{
		"request_timeout_seconds": c.RequestTimeoutSeconds,
	}
	pc, ok := c.GetProviderConfig(provider)
	if !ok {
		return opts
	}
	for k, v := range pc.Options {
		opts[k] = v
	}
	if pc.BaseURL != "" {
		opts["base_url"] = pc.BaseURL
	}
	if len(pc.Models) > 0 {
		opts["models"] = append([]string(nil), pc.Models...)
	}
	return opts
}
