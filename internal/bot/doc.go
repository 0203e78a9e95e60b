// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bot wires the Telegram transport to the Gemini client, the
// conversation store, and the outbound rendering pipeline.
//
// Each update flows through the access-control middleware, then into a
// handler that owns the conversation key (chat ID plus forum thread ID)
// for the duration of the exchange. Replies are rendered into
// MarkdownV2-safe chunks and delivered under a global send rate limit,
// falling back to escaped and then plain text if Telegram rejects the
// markup.
package bot
