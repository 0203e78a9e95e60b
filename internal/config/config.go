// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete gemgram configuration.
type Config struct {
	Telegram TelegramConfig `toml:"telegram"`
	Gemini   GeminiConfig   `toml:"gemini"`
	Render   RenderConfig   `toml:"render"`
	Storage  StorageConfig  `toml:"storage"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Log      LogConfig      `toml:"log"`
}

// TelegramConfig contains bot API settings.
type TelegramConfig struct {
	// Token is the bot token from @BotFather. Env: TELEGRAM_TOKEN
	Token string `toml:"token"`
	// AllowedUserIDs is the access allowlist. Empty means open to everyone.
	// Env: ALLOWED_USER_IDS (comma-separated)
	AllowedUserIDs []int64 `toml:"allowed_user_ids"`
	// PollTimeoutSecs is the long-poll timeout in seconds
	PollTimeoutSecs int `toml:"poll_timeout_secs"`
	// SendRatePerSec caps outbound messages per second across all chats.
	// Telegram's global bot limit is ~30/s; the default stays well under it.
	SendRatePerSec float64 `toml:"send_rate_per_sec"`
}

// GeminiConfig contains Gemini API settings.
type GeminiConfig struct {
	// APIKey for the generative language API. Env: GEMINI_API_KEY
	APIKey string `toml:"api_key"`
	// BaseURL overrides the API endpoint (used in tests)
	BaseURL string `toml:"base_url"`
	// DefaultModel used for chats with no explicit selection. Env: GEMINI_MODEL
	DefaultModel string `toml:"default_model"`
	// ModelOptions are the models offered by the /model command
	ModelOptions []string `toml:"model_options"`
	// SystemInstruction is prepended to every conversation
	SystemInstruction string `toml:"system_instruction"`
	// RequestTimeoutSecs bounds a single generateContent call
	RequestTimeoutSecs int `toml:"request_timeout_secs"`
}

// RenderConfig controls outbound message rendering.
type RenderConfig struct {
	// MessageLimit is the per-message character ceiling
	MessageLimit int `toml:"message_limit"`
	// HistoryLimit is how many stored turns feed each request
	HistoryLimit int `toml:"history_limit"`
}

// StorageConfig contains database settings.
type StorageConfig struct {
	// Path to the SQLite database file. Env: GEMGRAM_DB
	Path string `toml:"path"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	// Listen address for /metrics (default: 127.0.0.1:9090)
	Listen string `toml:"listen"`
}

// LogConfig controls logging output.
type LogConfig struct {
	// Level: "debug", "info", "warn", "error". Env: GEMGRAM_LOG_LEVEL
	Level string `toml:"level"`
	// Format: "text" or "json"
	Format string `toml:"format"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with built-in defaults.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeoutSecs: 10,
			SendRatePerSec:  20,
		},
		Gemini: GeminiConfig{
			DefaultModel: "gemini-2.0-flash",
			ModelOptions: []string{
				"gemini-2.0-flash",
				"gemini-2.0-flash-lite",
				"gemini-2.5-pro",
			},
			RequestTimeoutSecs: 90,
		},
		Render: RenderConfig{
			MessageLimit: 4096,
			HistoryLimit: 50,
		},
		Storage: StorageConfig{
			Path: "gemgram.db",
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9090",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// PollTimeout returns the long-poll timeout as a duration.
func (c *TelegramConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSecs) * time.Second
}

// RequestTimeout returns the per-request timeout as a duration.
func (c *GeminiConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from the given TOML path (may be empty or
// missing) and applies environment overrides. A .env file in the working
// directory is loaded first if present.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case in production
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies environment variables on top of file values.
func (c *Config) ApplyEnvOverrides() {
	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		c.Telegram.Token = token
	}

	if ids := os.Getenv("ALLOWED_USER_IDS"); ids != "" {
		c.Telegram.AllowedUserIDs = parseIDList(ids)
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Gemini.APIKey = key
	}

	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		c.Gemini.DefaultModel = model
	}

	if path := os.Getenv("GEMGRAM_DB"); path != "" {
		c.Storage.Path = path
	}

	if level := os.Getenv("GEMGRAM_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

// parseIDList parses a comma-separated list of user IDs, skipping entries
// that don't parse.
func parseIDList(s string) []int64 {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid configuration value.
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

// Validate checks the configuration and returns all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Telegram.Token == "" {
		errs = append(errs, ValidationError{
			Field:   "telegram.token",
			Message: "bot token is required (set TELEGRAM_TOKEN)",
		})
	}
	if c.Telegram.PollTimeoutSecs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "telegram.poll_timeout_secs",
			Message: "must be positive",
		})
	}
	if c.Telegram.SendRatePerSec <= 0 {
		errs = append(errs, ValidationError{
			Field:   "telegram.send_rate_per_sec",
			Message: "must be positive",
		})
	}

	if c.Gemini.APIKey == "" {
		errs = append(errs, ValidationError{
			Field:   "gemini.api_key",
			Message: "API key is required (set GEMINI_API_KEY)",
		})
	}
	if c.Gemini.DefaultModel == "" {
		errs = append(errs, ValidationError{
			Field:   "gemini.default_model",
			Message: "default model is required",
		})
	}
	if c.Gemini.RequestTimeoutSecs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "gemini.request_timeout_secs",
			Message: "must be positive",
		})
	}

	if c.Render.MessageLimit <= 0 {
		errs = append(errs, ValidationError{
			Field:   "render.message_limit",
			Message: "must be positive",
		})
	}
	if c.Render.HistoryLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "render.history_limit",
			Message: "cannot be negative",
		})
	}

	if c.Storage.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.path",
			Message: "database path is required",
		})
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen",
			Message: "listen address is required when metrics are enabled",
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: text, json", c.Log.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Allowed reports whether the user ID passes the allowlist. An empty
// allowlist admits everyone.
func (c *TelegramConfig) Allowed(userID int64) bool {
	if len(c.AllowedUserIDs) == 0 {
		return true
	}
	for _, id := range c.AllowedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
