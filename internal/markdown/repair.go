// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markdown

import "strings"

// =============================================================================
// SPAN REPAIR
// =============================================================================

// repairText assembles the final chunk text: reopening markers for spans
// carried over from the previous chunk (outermost first), the chunk
// content, then closing markers for spans still open at the boundary
// (innermost first). Code spans never appear here: inline code and
// fences segment atomically, so they are closed and reopened as whole
// constructs rather than repaired across a message boundary.
func repairText(d *chunkDraft) string {
	var b strings.Builder
	b.Grow(len(d.openAtStart) + d.text.Len() + len(d.openAtEnd))
	for _, t := range d.openAtStart {
		b.WriteString(spanMarker(t))
	}
	b.WriteString(d.text.String())
	for i := len(d.openAtEnd) - 1; i >= 0; i-- {
		b.WriteString(spanMarker(d.openAtEnd[i]))
	}
	return b.String()
}

// =============================================================================
// VALIDATION & DEMOTION
// =============================================================================

// finalize repairs every draft, validates it, and demotes any chunk
// that still fails to plain mode. Content is never dropped: a demoted
// chunk carries the same literal text with delimiters stripped and
// escape markers removed.
func (p *Pipeline) finalize(drafts []*chunkDraft) []Chunk {
	chunks := make([]Chunk, 0, len(drafts))
	for _, d := range drafts {
		text := repairText(d)
		if text == "" {
			continue
		}
		if p.validChunk(text, d.oversized) {
			chunks = append(chunks, Chunk{
				Text:          text,
				Mode:          ModeMarkup,
				Oversized:     d.oversized,
				OpenedAtStart: d.openAtStart,
			})
			continue
		}
		chunks = append(chunks, Chunk{
			Text:      d.plain.String(),
			Mode:      ModePlain,
			Oversized: d.oversized,
		})
	}
	return chunks
}

// validChunk checks delimiter balance and the length ceiling. Escaped
// characters are skipped; code interiors suppress all interpretation.
func (p *Pipeline) validChunk(text string, oversized bool) bool {
	if !oversized && len(text) > p.limit {
		return false
	}
	var stack spanStack
	inFence := false
	inCode := false
	i := 0
	for i < len(text) {
		if strings.HasPrefix(text[i:], "```") {
			inFence = !inFence
			i += 3
			continue
		}
		if inFence {
			i++
			continue
		}
		c := text[i]
		if inCode {
			if c == '`' {
				inCode = false
			}
			i++
			continue
		}
		switch c {
		case p.esc.marker:
			i += 2
			continue
		case '[':
			// Link URLs are unescaped by grammar; skip the whole
			// construct so URL bytes are not read as delimiters.
			if end := linkEnd(text, i); end > i {
				i = end
				continue
			}
		case '`':
			inCode = true
		case '*', '_', '~':
			span := delimiterSpan(c)
			switch {
			case stack.topIs(span):
				stack.pop()
			case stack.has(span):
				return false // improper overlap
			default:
				stack.push(span, i)
			}
		}
		i++
	}
	return !inFence && !inCode && stack.depth() == 0
}

// linkEnd returns the index just past a [label](url) construct starting
// at i, or i when the text there is not a complete link.
func linkEnd(text string, i int) int {
	mid := strings.Index(text[i:], "](")
	if mid < 0 {
		return i
	}
	end := strings.IndexByte(text[i+mid+2:], ')')
	if end < 0 {
		return i
	}
	return i + mid + 2 + end + 1
}

// delimiterSpan maps a rendered MarkdownV2 marker to its span type.
func delimiterSpan(c byte) SpanType {
	switch c {
	case '*':
		return SpanBold
	case '_':
		return SpanItalic
	case '~':
		return SpanStrike
	}
	return SpanNone
}
