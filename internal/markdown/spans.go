// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markdown

// =============================================================================
// SPAN STACK
// =============================================================================

// openSpan records a span that has been opened but not yet closed.
type openSpan struct {
	Type     SpanType
	OpenedAt int // token index of the opening delimiter
}

// spanStack tracks the ordered set of currently open spans. Stack order
// is nesting order: the innermost span is last. The zero value is ready
// to use.
type spanStack struct {
	spans []openSpan
}

func (s *spanStack) push(t SpanType, tokenIndex int) {
	s.spans = append(s.spans, openSpan{Type: t, OpenedAt: tokenIndex})
}

func (s *spanStack) pop() openSpan {
	if len(s.spans) == 0 {
		return openSpan{}
	}
	top := s.spans[len(s.spans)-1]
	s.spans = s.spans[:len(s.spans)-1]
	return top
}

func (s *spanStack) depth() int {
	return len(s.spans)
}

// topIs reports whether the innermost open span has the given type.
func (s *spanStack) topIs(t SpanType) bool {
	return len(s.spans) > 0 && s.spans[len(s.spans)-1].Type == t
}

// has reports whether a span of the given type is open at any depth.
// Two spans of the same type can never be open simultaneously.
func (s *spanStack) has(t SpanType) bool {
	for _, sp := range s.spans {
		if sp.Type == t {
			return true
		}
	}
	return false
}

// openTypes returns the open span types, outermost first. The returned
// slice is a copy; mutating it does not affect the stack.
func (s *spanStack) openTypes() []SpanType {
	if len(s.spans) == 0 {
		return nil
	}
	out := make([]SpanType, len(s.spans))
	for i, sp := range s.spans {
		out[i] = sp.Type
	}
	return out
}

// restore replaces the stack contents with the given span types,
// outermost first. Used when a chunk boundary reopens spans.
func (s *spanStack) restore(types []SpanType) {
	s.spans = s.spans[:0]
	for _, t := range types {
		s.spans = append(s.spans, openSpan{Type: t})
	}
}
