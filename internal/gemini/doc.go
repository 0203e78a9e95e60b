// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gemini provides the HTTP client for the Google Gemini
// generateContent API.
//
// The client is deliberately small: one non-streaming Generate call that
// takes the accumulated conversation turns plus the new user parts, and
// returns the model's text reply. Errors are categorized so the bot layer
// can decide what to tell the user (wrong model name, bad key, rate limit)
// versus what to just log and retry.
package gemini
