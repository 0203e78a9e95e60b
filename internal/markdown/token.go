// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markdown

import "strings"

// =============================================================================
// TOKEN TYPES
// =============================================================================

// SpanType identifies a formatting span kind. Span kinds are a closed
// enumeration; no polymorphic dispatch is needed anywhere in the pipeline.
type SpanType uint8

const (
	SpanNone SpanType = iota
	SpanBold
	SpanItalic
	SpanStrike
	SpanCode
	SpanLink
	SpanFence
)

// String returns the span type name for logging and test output.
func (t SpanType) String() string {
	switch t {
	case SpanBold:
		return "bold"
	case SpanItalic:
		return "italic"
	case SpanStrike:
		return "strike"
	case SpanCode:
		return "code"
	case SpanLink:
		return "link"
	case SpanFence:
		return "fence"
	}
	return "none"
}

// TokenKind classifies a token in the flat stream produced by the tokenizer.
type TokenKind uint8

const (
	// TokenLiteral is a run of plain text. Literal runs are the only
	// tokens the escaper touches.
	TokenLiteral TokenKind = iota
	// TokenDelimiter opens or closes an inline formatting span.
	TokenDelimiter
	// TokenCodeFence is a whole fenced code block, open fence to close
	// fence (or end of input when unterminated). Always atomic.
	TokenCodeFence
	// TokenLink is an atomic [label](url) construct.
	TokenLink
)

// Token is one element of the token stream. Tokens are immutable once
// produced by the tokenizer; the escaper records its output in the
// separate rendered text, never in Raw.
type Token struct {
	Kind TokenKind
	Span SpanType // span type for delimiter tokens
	Raw  string   // source text covered by this token
	Open bool     // delimiter opens its span (false = closes)
	Code bool     // literal is an inline-code interior

	// Link fields
	Label string
	URL   string

	// Fence fields
	Interior string // info line plus body, without the fence markers
	Closed   bool   // fence had a closing marker in the input

	text string // rendered MarkdownV2 form, filled in by the escaper
}

// =============================================================================
// TOKENIZER
// =============================================================================

// tokenizer scans raw model output (standard Markdown) into a flat token
// stream covering the whole input with no gaps. Dialect conversion to
// MarkdownV2 happens at the delimiter level: ** becomes *, single * or _
// becomes _, ~~ becomes ~. Code regions are captured verbatim and never
// re-interpreted.
type tokenizer struct {
	input string
	pos   int
	toks  []Token
	lit   strings.Builder
	stack spanStack
}

// tokenize converts input into an ordered token stream. The second
// return value lists span types left open at end of input, outermost
// first.
func tokenize(input string) ([]Token, []SpanType) {
	tz := &tokenizer{input: input}
	tz.run()
	return tz.toks, tz.unclosed()
}

func (tz *tokenizer) run() {
	in := tz.input
	for tz.pos < len(in) {
		rest := in[tz.pos:]
		switch {
		case strings.HasPrefix(rest, "```"):
			tz.scanFence()
		case rest[0] == '`':
			tz.scanInlineCode()
		case strings.HasPrefix(rest, "**"):
			tz.toggle(SpanBold, "**")
		case rest[0] == '*':
			tz.toggle(SpanItalic, "*")
		case strings.HasPrefix(rest, "~~"):
			tz.toggle(SpanStrike, "~~")
		case strings.HasPrefix(rest, "__"):
			// Double underscore never opened a span in the source
			// dialect; keep it literal.
			tz.lit.WriteString("__")
			tz.pos += 2
		case rest[0] == '_':
			tz.scanUnderscore()
		case rest[0] == '[':
			tz.scanLink()
		default:
			tz.lit.WriteByte(rest[0])
			tz.pos++
		}
	}
	tz.flush()
}

// flush emits the pending literal run, if any.
func (tz *tokenizer) flush() {
	if tz.lit.Len() == 0 {
		return
	}
	tz.toks = append(tz.toks, Token{Kind: TokenLiteral, Raw: tz.lit.String()})
	tz.lit.Reset()
}

// toggle handles an inline span delimiter. A delimiter whose type is
// already open and on top of the stack closes it; an opener of a type
// that is open deeper in the stack would overlap improperly and is kept
// as literal text instead; anything else opens a new span.
func (tz *tokenizer) toggle(span SpanType, raw string) {
	switch {
	case tz.stack.topIs(span):
		tz.flush()
		tz.stack.pop()
		tz.toks = append(tz.toks, Token{Kind: TokenDelimiter, Span: span, Raw: raw})
	case tz.stack.has(span):
		tz.lit.WriteString(raw)
	default:
		tz.flush()
		tz.stack.push(span, len(tz.toks))
		tz.toks = append(tz.toks, Token{Kind: TokenDelimiter, Span: span, Raw: raw, Open: true})
	}
	tz.pos += len(raw)
}

// scanUnderscore applies the source dialect's word-boundary rule: an
// underscore only delimits italics when it does not sit inside a word.
func (tz *tokenizer) scanUnderscore() {
	in := tz.input
	if tz.stack.topIs(SpanItalic) {
		if tz.pos+1 >= len(in) || !isWordByte(in[tz.pos+1]) {
			tz.toggle(SpanItalic, "_")
			return
		}
	} else if !tz.stack.has(SpanItalic) {
		if tz.pos == 0 || !isWordByte(in[tz.pos-1]) {
			tz.toggle(SpanItalic, "_")
			return
		}
	}
	tz.lit.WriteByte('_')
	tz.pos++
}

// scanInlineCode captures `code` as an atomic delimiter/literal/delimiter
// group. The interior is never escaped or re-interpreted. A backtick with
// no closer on the same line stays literal.
func (tz *tokenizer) scanInlineCode() {
	in := tz.input
	end := -1
	for j := tz.pos + 1; j < len(in); j++ {
		if in[j] == '\n' {
			break
		}
		if in[j] == '`' {
			end = j
			break
		}
	}
	if end < 0 || end == tz.pos+1 {
		tz.lit.WriteByte('`')
		tz.pos++
		return
	}
	tz.flush()
	tz.toks = append(tz.toks,
		Token{Kind: TokenDelimiter, Span: SpanCode, Raw: "`", Open: true},
		Token{Kind: TokenLiteral, Raw: in[tz.pos+1 : end], Code: true},
		Token{Kind: TokenDelimiter, Span: SpanCode, Raw: "`"},
	)
	tz.pos = end + 1
}

// scanFence captures a whole ``` block as one atomic token. An
// unterminated fence runs to end of input and is still one block.
func (tz *tokenizer) scanFence() {
	in := tz.input
	start := tz.pos
	interiorStart := start + 3
	end := strings.Index(in[interiorStart:], "```")

	tz.flush()
	tok := Token{Kind: TokenCodeFence}
	if end >= 0 {
		tok.Raw = in[start : interiorStart+end+3]
		tok.Interior = in[interiorStart : interiorStart+end]
		tok.Closed = true
		tz.pos = interiorStart + end + 3
	} else {
		tok.Raw = in[start:]
		tok.Interior = in[interiorStart:]
		tz.pos = len(in)
	}
	tz.toks = append(tz.toks, tok)
}

// scanLink captures [label](url) as a single atomic token. Anything that
// does not complete the construct stays literal.
func (tz *tokenizer) scanLink() {
	in := tz.input
	closeBracket := strings.IndexByte(in[tz.pos:], ']')
	if closeBracket > 1 {
		labelEnd := tz.pos + closeBracket
		if labelEnd+1 < len(in) && in[labelEnd+1] == '(' {
			closeParen := strings.IndexByte(in[labelEnd+2:], ')')
			if closeParen > 0 {
				urlEnd := labelEnd + 2 + closeParen
				tz.flush()
				tz.toks = append(tz.toks, Token{
					Kind:  TokenLink,
					Span:  SpanLink,
					Raw:   in[tz.pos : urlEnd+1],
					Label: in[tz.pos+1 : labelEnd],
					URL:   in[labelEnd+2 : urlEnd],
				})
				tz.pos = urlEnd + 1
				return
			}
		}
	}
	tz.lit.WriteByte('[')
	tz.pos++
}

// unclosed returns the span types still open when input ended, outermost
// first. These are not errors: segmentation treats end of input as an
// implicit close point.
func (tz *tokenizer) unclosed() []SpanType {
	return tz.stack.openTypes()
}

func isWordByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
