// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markdown

import "errors"

// =============================================================================
// PIPELINE CONFIGURATION
// =============================================================================

// TelegramMessageLimit is Telegram's hard per-message length limit.
const TelegramMessageLimit = 4096

// Options configures a Pipeline. All values are explicit constructor
// input; the pipeline keeps no process-wide state.
type Options struct {
	// Limit is the length ceiling for a single chunk.
	Limit int
	// Reserved is the set of characters that must be escaped in
	// literal text.
	Reserved string
	// EscapeMarker is the dialect's escape character.
	EscapeMarker byte
}

// DefaultOptions returns the Telegram MarkdownV2 configuration.
func DefaultOptions() Options {
	return Options{
		Limit:        TelegramMessageLimit,
		Reserved:     DefaultReserved,
		EscapeMarker: DefaultEscapeMarker,
	}
}

// =============================================================================
// OUTPUT TYPES
// =============================================================================

// Mode tags how a chunk should be sent.
type Mode uint8

const (
	// ModeMarkup is a chunk that validated as MarkdownV2.
	ModeMarkup Mode = iota
	// ModePlain is a chunk demoted to unformatted text after a
	// validation failure. Delivery over formatting fidelity.
	ModePlain
)

func (m Mode) String() string {
	if m == ModePlain {
		return "plain"
	}
	return "markup"
}

// Chunk is one transport-safe message unit.
type Chunk struct {
	Text string
	Mode Mode
	// Oversized marks the documented unavoidable-overflow case: a
	// single atomic unit (fence or link) longer than the ceiling,
	// emitted whole rather than corrupted.
	Oversized bool
	// OpenedAtStart lists span types reopened at the start of this
	// chunk by span repair, outermost first.
	OpenedAtStart []SpanType
}

// Result is the ordered chunk sequence for one pipeline invocation. It
// is consumed once by the transport and then discarded.
type Result struct {
	Chunks []Chunk
	// UnclosedAtEOF lists spans left open when the input ended. They
	// were closed implicitly at end of input; recorded for logging.
	UnclosedAtEOF []SpanType
}

// Demoted counts chunks that fell back to plain mode.
func (r Result) Demoted() int {
	n := 0
	for _, c := range r.Chunks {
		if c.Mode == ModePlain {
			n++
		}
	}
	return n
}

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline is the outbound message rendering pipeline. A single
// Pipeline is safe for concurrent use: every Render call owns its own
// token, span and chunk structures exclusively.
type Pipeline struct {
	limit int
	esc   *escaper
}

// NewPipeline constructs a pipeline from explicit options.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Limit <= 0 {
		return nil, errors.New("markdown: limit must be > 0")
	}
	if opts.Reserved == "" {
		return nil, errors.New("markdown: reserved character set is empty")
	}
	if opts.EscapeMarker == 0 {
		return nil, errors.New("markdown: escape marker is unset")
	}
	return &Pipeline{
		limit: opts.Limit,
		esc:   newEscaper(opts.Reserved, opts.EscapeMarker),
	}, nil
}

// Render converts raw model output into an ordered sequence of
// transport-safe chunks: tokenize, escape, segment, repair, validate.
// It never fails; malformed markup degrades to plain chunks.
func (p *Pipeline) Render(input string) Result {
	toks, unclosed := tokenize(input)
	p.esc.apply(toks)
	drafts := p.segment(toks)
	chunks := p.finalize(drafts)
	return Result{Chunks: chunks, UnclosedAtEOF: unclosed}
}
