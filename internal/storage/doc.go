// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversation history and per-conversation
// model selection in SQLite.
//
// Records are keyed by conversation: a Telegram chat ID plus an
// optional forum topic (thread) ID. History is an append-only sequence
// of user/model turns; the model table holds the generation model
// chosen for each key.
//
// The store serializes writes through a single SQLite connection. The
// read-then-append-then-write sequence around one conversation key must
// be serialized by the caller; the bot holds a per-key lock for the
// duration of a reply.
package storage
