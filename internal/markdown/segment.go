// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markdown

import (
	"strings"
	"unicode/utf8"
)

// =============================================================================
// ATOMS
// =============================================================================

// atomKind classifies the segmentable units built from the token stream.
type atomKind uint8

const (
	// atomLiteral is escaped literal text. The only splittable atom.
	atomLiteral atomKind = iota
	// atomDelim is a single inline span delimiter.
	atomDelim
	// atomCode is a whole inline-code group, delimiters included.
	atomCode
	// atomLink is a whole [label](url) construct.
	atomLink
	// atomFence is a whole fenced code block.
	atomFence
)

// atom is one segmentable unit. Everything except literals is atomic:
// it moves to the next chunk whole, or becomes its own oversized chunk
// when it alone exceeds the ceiling.
type atom struct {
	kind  atomKind
	text  string // rendered MarkdownV2 form
	plain string // demotion form: delimiters stripped, nothing escaped
	span  SpanType
	open  bool
}

// buildAtoms collapses the token stream into segmentable units. Inline
// code keeps its delimiter/literal/delimiter shape in the token stream
// but segments as a single unit.
func buildAtoms(toks []Token) []atom {
	var atoms []atom
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch t.Kind {
		case TokenLiteral:
			atoms = append(atoms, atom{kind: atomLiteral, text: t.text})
		case TokenDelimiter:
			if t.Span == SpanCode && t.Open && i+2 < len(toks) {
				interior := toks[i+1]
				atoms = append(atoms, atom{
					kind:  atomCode,
					text:  t.text + interior.text + toks[i+2].text,
					plain: interior.Raw,
				})
				i += 2
				continue
			}
			atoms = append(atoms, atom{kind: atomDelim, text: t.text, span: t.Span, open: t.Open})
		case TokenLink:
			atoms = append(atoms, atom{kind: atomLink, text: t.text, plain: t.Label + " (" + t.URL + ")"})
		case TokenCodeFence:
			atoms = append(atoms, atom{kind: atomFence, text: t.text, plain: t.Interior})
		}
	}
	return atoms
}

// =============================================================================
// CHUNK DRAFTS
// =============================================================================

// chunkDraft is a chunk under construction. Span repair turns it into a
// final Chunk by prepending reopeners and appending closers; the
// segmenter reserves length for both so the post-repair text stays
// within the ceiling.
type chunkDraft struct {
	text        strings.Builder
	plain       strings.Builder
	openAtStart []SpanType // spans to reopen, outermost first
	openAtEnd   []SpanType // spans to close, outermost first
	oversized   bool
}

// =============================================================================
// SEGMENTER
// =============================================================================

// segmenter walks the atom stream and emits chunk drafts whose rendered
// length, repair markers included, stays at or under the limit. Cut
// points are searched backward by priority: fence boundary, paragraph
// break, newline, whitespace, forced cut at the ceiling. The look-back
// window is a quarter of the limit.
type segmenter struct {
	limit int
	esc   *escaper

	out   []*chunkDraft
	cur   *chunkDraft
	stack spanStack
}

func (p *Pipeline) segment(toks []Token) []*chunkDraft {
	s := &segmenter{limit: p.limit, esc: p.esc, cur: &chunkDraft{}}
	s.run(buildAtoms(toks))
	return s.out
}

// used is the would-be rendered length of the current chunk so far,
// reopen prefix included.
func (s *segmenter) used() int {
	return len(s.cur.openAtStart) + s.cur.text.Len()
}

// closeCost is the length reserved for closing every open span. Only
// inline spans survive across atoms (code is always atomic), and each
// closes with a single marker character.
func (s *segmenter) closeCost() int {
	return s.stack.depth()
}

// empty reports whether the current chunk has no content yet.
func (s *segmenter) empty() bool {
	return s.cur.text.Len() == 0
}

// breakChunk seals the current chunk and starts the next one with the
// still-open spans scheduled for reopening.
func (s *segmenter) breakChunk() {
	s.cur.openAtEnd = s.stack.openTypes()
	s.out = append(s.out, s.cur)
	s.cur = &chunkDraft{openAtStart: s.stack.openTypes()}
	s.stack.restore(s.cur.openAtStart)
}

func (s *segmenter) run(atoms []atom) {
	for i := 0; i < len(atoms); i++ {
		a := atoms[i]
		switch a.kind {
		case atomDelim:
			s.addDelim(a)
		case atomCode, atomLink:
			s.addAtomic(a)
		case atomFence:
			s.addFence(a)
		case atomLiteral:
			s.addLiteral(a)
		}
	}
	// End of input is an implicit close point: whatever is still open
	// gets closed by repair with nothing reopened after it.
	s.cur.openAtEnd = s.stack.openTypes()
	if s.empty() {
		return
	}
	s.out = append(s.out, s.cur)
}

// addDelim places an inline span delimiter, which is never split and
// never oversized.
func (s *segmenter) addDelim(a atom) {
	cost := s.closeCost()
	if a.open {
		cost++
	} else {
		cost--
	}
	if s.used()+len(a.text)+cost > s.limit {
		s.breakChunk()
	}
	s.cur.text.WriteString(a.text)
	if a.open {
		s.stack.push(a.span, 0)
	} else {
		s.stack.pop()
	}
}

// addAtomic places an inline-code group or link. If it cannot fit in the
// current chunk it moves whole to the next; if it cannot fit in an empty
// chunk either, it becomes its own oversized chunk.
func (s *segmenter) addAtomic(a atom) {
	if s.used()+len(a.text)+s.closeCost() <= s.limit {
		s.cur.text.WriteString(a.text)
		s.cur.plain.WriteString(a.plain)
		return
	}
	if !s.empty() {
		s.breakChunk()
	}
	if s.used()+len(a.text)+s.closeCost() > s.limit {
		s.cur.oversized = true
	}
	s.cur.text.WriteString(a.text)
	s.cur.plain.WriteString(a.plain)
	if s.cur.oversized {
		s.breakChunk()
	}
}

// addFence places a fenced code block. A fence is never split: the
// preceding chunk ends at the fence boundary, and a fence longer than
// the ceiling is emitted alone and flagged oversized.
func (s *segmenter) addFence(a atom) {
	s.addAtomic(a)
}

// addLiteral places escaped literal text, splitting it at preferred cut
// points whenever it overflows the remaining budget.
func (s *segmenter) addLiteral(a atom) {
	text := a.text
	// A literal starting a continuation chunk drops the line breaks
	// that justified the cut.
	if len(s.out) > 0 && s.empty() {
		text = strings.TrimLeft(text, "\n")
	}
	for text != "" {
		avail := s.limit - s.used() - s.closeCost()
		if len(text) <= avail {
			s.cur.text.WriteString(text)
			s.cur.plain.WriteString(s.esc.unescape(text))
			return
		}
		if avail <= 0 {
			if !s.empty() {
				s.breakChunk()
				text = strings.TrimLeft(text, "\n")
				continue
			}
			// A fresh chunk whose whole budget goes to repair markers
			// can never fit anything; happens only when the limit is
			// smaller than the open-span depth plus reopen prefix.
			text = s.forceRune(text)
			continue
		}
		window := text[:s.safeCut(text, avail)]
		cut := s.findCut(window)
		if cut <= 0 {
			// No acceptable cut point. When most of the chunk is
			// already spent, a fresh chunk gets a full window and a
			// real chance at a clean cut; otherwise split at the
			// ceiling, mid-word if it must.
			if !s.empty() && avail < s.limit/2 {
				s.breakChunk()
				text = strings.TrimLeft(text, "\n")
				continue
			}
			cut = len(window)
		}
		if cut == 0 {
			// Empty window: the next rune alone is wider than the
			// remaining budget.
			text = s.forceRune(text)
			continue
		}
		piece := window[:cut]
		s.cur.text.WriteString(piece)
		s.cur.plain.WriteString(s.esc.unescape(piece))
		s.breakChunk()
		text = strings.TrimLeft(text[cut:], "\n")
	}
}

// forceRune moves the smallest indivisible prefix of text into the
// current chunk and seals it, guaranteeing progress at limits too small
// to hold even one character next to the repair markers. The resulting
// chunk may overflow the ceiling; validation demotes it to plain.
func (s *segmenter) forceRune(text string) string {
	var size int
	if text[0] == s.esc.marker && len(text) > 1 {
		_, n := utf8.DecodeRuneInString(text[1:])
		size = 1 + n
	} else {
		_, size = utf8.DecodeRuneInString(text)
	}
	piece := text[:size]
	s.cur.text.WriteString(piece)
	s.cur.plain.WriteString(s.esc.unescape(piece))
	s.breakChunk()
	return strings.TrimLeft(text[size:], "\n")
}

// findCut searches the window backward for the best cut position:
// paragraph break, then single newline, then whitespace. Candidates
// inside the look-back floor are rejected; 0 means no acceptable cut.
func (s *segmenter) findCut(window string) int {
	floor := s.limit/4 - s.used()
	if i := strings.LastIndex(window, "\n\n"); i > floor && i > 0 {
		return i
	}
	if i := strings.LastIndexByte(window, '\n'); i > floor && i > 0 {
		return i
	}
	if i := strings.LastIndexByte(window, ' '); i > floor && i > 0 {
		return i
	}
	return 0
}

// safeCut adjusts a byte offset so it does not land between an escape
// marker and its character, or inside a multi-byte rune.
func (s *segmenter) safeCut(text string, n int) int {
	if n >= len(text) {
		return len(text)
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	// An odd run of escape markers before the cut means the last one
	// belongs to the character after it.
	run := 0
	for i := n - 1; i >= 0 && text[i] == s.esc.marker; i-- {
		run++
	}
	if run%2 == 1 {
		n--
	}
	return n
}
