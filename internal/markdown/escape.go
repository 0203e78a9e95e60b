// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markdown

import "strings"

// =============================================================================
// ESCAPER
// =============================================================================

// DefaultReserved is the MarkdownV2 reserved character set. Every
// occurrence in a literal run outside code must be escaped or Telegram
// rejects the whole message.
const DefaultReserved = "_*[]()~`>#+-=|{}.!\\"

// DefaultEscapeMarker is the MarkdownV2 escape character.
const DefaultEscapeMarker = '\\'

// escaper escapes reserved characters in literal runs. It runs exactly
// once, on raw literal content, before any split or join; idempotence is
// guaranteed by single application, not by detection.
type escaper struct {
	reserved [256]bool
	marker   byte
}

func newEscaper(reserved string, marker byte) *escaper {
	e := &escaper{marker: marker}
	for i := 0; i < len(reserved); i++ {
		e.reserved[reserved[i]] = true
	}
	return e
}

// apply fills in the rendered MarkdownV2 text of every token. Literal
// runs outside code get reserved characters escaped; code interiors,
// fences and link URLs pass through untouched per the dialect grammar
// (escaping inside code would corrupt rendering). Delimiters render as
// their MarkdownV2 markers.
func (e *escaper) apply(toks []Token) {
	for i := range toks {
		t := &toks[i]
		switch t.Kind {
		case TokenLiteral:
			if t.Code {
				t.text = t.Raw
			} else {
				t.text = e.escape(t.Raw)
			}
		case TokenDelimiter:
			t.text = spanMarker(t.Span)
		case TokenLink:
			t.text = "[" + e.escape(t.Label) + "](" + t.URL + ")"
		case TokenCodeFence:
			if t.Closed {
				t.text = t.Raw
			} else if strings.HasSuffix(t.Raw, "\n") {
				t.text = t.Raw + "```"
			} else {
				t.text = t.Raw + "\n```"
			}
		}
	}
}

// escape prefixes every reserved character with the escape marker.
func (e *escaper) escape(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if e.reserved[s[i]] {
			n++
		}
	}
	if n == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + n)
	for i := 0; i < len(s); i++ {
		if e.reserved[s[i]] {
			b.WriteByte(e.marker)
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Escape prefixes every reserved MarkdownV2 character in s with the
// default escape marker. The result carries no markup at all; it is the
// safe form for resending content that Telegram rejected as malformed.
func Escape(s string) string {
	return newEscaper(DefaultReserved, DefaultEscapeMarker).escape(s)
}

// unescape removes escape markers from escaped literal text, restoring
// the raw content. Used when a chunk is demoted to plain mode.
func (e *escaper) unescape(s string) string {
	if !strings.ContainsRune(s, rune(e.marker)) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == e.marker && i+1 < len(s) && e.reserved[s[i+1]] {
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// spanMarker returns the MarkdownV2 delimiter for an inline span type.
func spanMarker(t SpanType) string {
	switch t {
	case SpanBold:
		return "*"
	case SpanItalic:
		return "_"
	case SpanStrike:
		return "~"
	case SpanCode:
		return "`"
	}
	return ""
}
