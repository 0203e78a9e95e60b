// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package markdown renders model-generated Markdown into Telegram
// MarkdownV2 message chunks.
//
// Telegram enforces a hard per-message length limit and rejects any
// message whose MarkdownV2 markup is unbalanced or contains unescaped
// reserved characters. This package is the outbound rendering pipeline
// that makes arbitrary model output safe to send:
//
//	raw text -> tokenize -> escape -> segment -> repair -> validate
//
// The tokenizer classifies the input into literal runs, span delimiters
// (bold, italic, strikethrough, inline code), fenced code blocks and
// links. The escaper escapes reserved characters in literal runs only;
// code interiors and link URLs pass through untouched. The segmenter
// partitions the stream into chunks under the length ceiling, preferring
// fence boundaries, then paragraph breaks, newlines and whitespace. Span
// repair closes formatting left open at a chunk boundary and reopens it
// at the start of the next chunk, so every chunk is independently valid.
// A chunk that still fails validation is demoted to plain text rather
// than dropped.
//
// The pipeline is pure and synchronous: one input string in, one ordered
// chunk sequence out, no state shared between invocations. It is safe to
// call from any number of goroutines.
package markdown
