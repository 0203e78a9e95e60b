// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TELEGRAM_TOKEN", "ALLOWED_USER_IDS",
		"GEMINI_API_KEY", "GEMINI_MODEL",
		"GEMGRAM_DB", "GEMGRAM_LOG_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	require.Equal(t, 4096, cfg.Render.MessageLimit)
	require.Equal(t, 50, cfg.Render.HistoryLimit)
	require.Equal(t, "gemini-2.0-flash", cfg.Gemini.DefaultModel)
	require.NotEmpty(t, cfg.Gemini.ModelOptions)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromTOML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "gemgram.toml")
	data := `
[telegram]
token = "file-token"
allowed_user_ids = [101, 202]

[gemini]
api_key = "file-key"
default_model = "gemini-2.5-pro"
system_instruction = "Be brief."

[render]
message_limit = 2048

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "file-token", cfg.Telegram.Token)
	require.Equal(t, []int64{101, 202}, cfg.Telegram.AllowedUserIDs)
	require.Equal(t, "gemini-2.5-pro", cfg.Gemini.DefaultModel)
	require.Equal(t, "Be brief.", cfg.Gemini.SystemInstruction)
	require.Equal(t, 2048, cfg.Render.MessageLimit)
	require.Equal(t, "debug", cfg.Log.Level)

	// file did not set these, defaults must survive
	require.Equal(t, 50, cfg.Render.HistoryLimit)
	require.Equal(t, 10, cfg.Telegram.PollTimeoutSecs)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_TOKEN", "env-token")
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("GEMINI_MODEL", "gemini-2.0-flash-lite")
	t.Setenv("ALLOWED_USER_IDS", "1, 2,3,,bogus,4")

	path := filepath.Join(t.TempDir(), "gemgram.toml")
	data := `
[telegram]
token = "file-token"

[gemini]
api_key = "file-key"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "env-token", cfg.Telegram.Token)
	require.Equal(t, "env-key", cfg.Gemini.APIKey)
	require.Equal(t, "gemini-2.0-flash-lite", cfg.Gemini.DefaultModel)
	require.Equal(t, []int64{1, 2, 3, 4}, cfg.Telegram.AllowedUserIDs)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_TOKEN", "tok")
	t.Setenv("GEMINI_API_KEY", "key")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.Equal(t, 4096, cfg.Render.MessageLimit)
}

func TestValidateRejectsMissingSecrets(t *testing.T) {
	cfg := Default()

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "telegram.token")
	require.Contains(t, err.Error(), "gemini.api_key")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Token = "t"
	cfg.Gemini.APIKey = "k"
	cfg.Render.MessageLimit = 0
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "render.message_limit")
	require.Contains(t, err.Error(), "log.level")
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("telegram = [broken"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestAllowed(t *testing.T) {
	open := TelegramConfig{}
	require.True(t, open.Allowed(42))

	locked := TelegramConfig{AllowedUserIDs: []int64{1, 2}}
	require.True(t, locked.Allowed(1))
	require.False(t, locked.Allowed(42))
}
