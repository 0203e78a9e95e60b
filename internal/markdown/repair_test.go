// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markdown

import (
	"strings"
	"testing"
)

// =============================================================================
// VALIDATOR TESTS
// =============================================================================

func TestValidChunk(t *testing.T) {
	p := newTestPipeline(t, 4096)
	cases := []struct {
		text string
		want bool
	}{
		{"plain text", true},
		{"*a* _b_ ~c~", true},
		{"*a", false},
		{"a*", false},
		{"`a*b`", true},
		{"`a*b", false},
		{"```\n*unbalanced inside fence\n```", true},
		{"```\nopen fence", false},
		{"[x](http://a_b*c)", true},
		{`escaped \* star`, true},
		{"*_a_*", true},
		{"*_a*_", false},
	}
	for _, c := range cases {
		if got := p.validChunk(c.text, false); got != c.want {
			t.Errorf("validChunk(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestValidChunkLengthCeiling(t *testing.T) {
	p := newTestPipeline(t, 16)
	long := strings.Repeat("a", 17)
	if p.validChunk(long, false) {
		t.Error("chunk over the limit should fail validation")
	}
	if !p.validChunk(long, true) {
		t.Error("oversized-flagged chunk should pass the length check")
	}
}

// =============================================================================
// REPAIR TESTS
// =============================================================================

func TestRepairTextClosesAndReopens(t *testing.T) {
	d := &chunkDraft{
		openAtStart: []SpanType{SpanBold, SpanItalic},
		openAtEnd:   []SpanType{SpanBold, SpanItalic},
	}
	d.text.WriteString("content")
	// Reopen outermost first, close innermost first.
	if got := repairText(d); got != "*_content_*" {
		t.Errorf("repairText = %q, want %q", got, "*_content_*")
	}
}

// =============================================================================
// DEMOTION TESTS
// =============================================================================

// A chunk with an unmatched delimiter is demoted to plain mode with all
// delimiters stripped and escape markers removed.
func TestFinalizeDemotesUnbalancedChunk(t *testing.T) {
	p := newTestPipeline(t, 4096)
	d := &chunkDraft{}
	d.text.WriteString(`broken *bold without close\.`)
	d.plain.WriteString("broken bold without close.")

	chunks := p.finalize([]*chunkDraft{d})
	if len(chunks) != 1 {
		t.Fatalf("chunk count = %d", len(chunks))
	}
	ch := chunks[0]
	if ch.Mode != ModePlain {
		t.Fatalf("mode = %v, want plain", ch.Mode)
	}
	if ch.Text != "broken bold without close." {
		t.Errorf("demoted text = %q", ch.Text)
	}
	if strings.ContainsAny(ch.Text, `*\`) {
		t.Errorf("demoted text still carries markup: %q", ch.Text)
	}
}

func TestFinalizeSkipsEmptyDrafts(t *testing.T) {
	p := newTestPipeline(t, 4096)
	chunks := p.finalize([]*chunkDraft{{}})
	if len(chunks) != 0 {
		t.Errorf("chunk count = %d, want 0", len(chunks))
	}
}
