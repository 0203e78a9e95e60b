// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading for gemgram.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (TELEGRAM_TOKEN, GEMINI_API_KEY, ...)
//   - A TOML config file (default: ./gemgram.toml)
//   - Built-in defaults
//
// A .env file in the working directory is read into the environment before
// overrides are applied, so local development can keep secrets out of the
// shell profile.
//
// # Usage
//
//	cfg, err := config.Load("gemgram.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
