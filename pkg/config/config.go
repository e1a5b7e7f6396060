package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	envConfigPath        = "TEXCLAW_CONFIG"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"

	defaultSettingsDir  = ".texclaw"
	defaultSettingsFile = "settings.json"
)

// ErrNotFound is returned when no config file could be located.
var ErrNotFound = errors.New("config file not found")

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Channels  ChannelsConfig  `json:"channels"`
	Responder ResponderConfig `json:"responder"`
	Providers ProvidersConfig `json:"providers"`
	Render    RenderConfig    `json:"render"`
	Gateway   GatewayConfig   `json:"gateway"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// ResponderConfig selects where gateway replies come from.
type ResponderConfig struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenAI OpenAIProviderConfig `json:"openai"`
}

// OpenAIProviderConfig configures the OpenAI provider client.
type OpenAIProviderConfig struct {
	BaseURL               string `json:"base_url"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	APIKeyEnv             string `json:"api_key_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from"`
}

// RenderConfig configures the math interceptor and the image endpoint it targets.
type RenderConfig struct {
	// Enabled is a pointer so an absent key keeps rendering on.
	Enabled         *bool  `json:"enabled,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	DPI             int    `json:"dpi,omitempty"`
	Color           string `json:"color,omitempty"`
	FractionGrammar string `json:"fraction_grammar,omitempty"`
	SettingsPath    string `json:"settings_path,omitempty"`
	MatchTimeoutMS  int    `json:"match_timeout_ms,omitempty"`
}

// IsEnabled reports whether outbound messages should pass through the renderer.
func (r RenderConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{
		Responder: ResponderConfig{Type: "echo"},
	}
	applyEnvOverrides(cfg)
	return cfg
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadFile(configPath)
}

// LoadFile reads one config file and applies environment overrides.
func LoadFile(configPath string) (*Config, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// ResolveSettingsPath returns the rule settings file path, defaulting to
// ~/.texclaw/settings.json.
func (r RenderConfig) ResolveSettingsPath() (string, error) {
	path := strings.TrimSpace(r.SettingsPath)
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(homeDir, defaultSettingsDir, defaultSettingsFile), nil
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
	}

	return filepath.Clean(path), nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is TEXCLAW_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w (checked %s and %s)", ErrNotFound, candidates[0], candidates[1])
}
