// Package stream turns a backend's native incremental reply into the
// normalized, strictly ordered event sequence consumed by callers.
//
// The package has two moving parts: [ThinkingExtractor], a small state
// machine that isolates inline reasoning text, and [Normalizer], which
// classifies raw chunks and drives the extractor and the tool-call
// accumulator. Both are explicit state objects carried across the turn's
// suspension points so their transitions are unit-testable without a live
// stream.
package stream

import "strings"

// Inline reasoning delimiter tags used by local models that interleave
// thinking with answer text.
const (
	openTag  = "<think>"
	closeTag = "</think>"
)

// Segment is one extracted piece of content or thought text.
type Segment struct {
	// Thought reports whether Text is reasoning rather than answer text.
	Thought bool
	Text    string
}

// ThinkingExtractor detects reasoning text embedded between inline delimiter
// tags. A chunk boundary may fall in the middle of a tag, so the extractor
// holds back any trailing text that could be a tag prefix and carries it into
// the next call. Thought text accumulates until the close tag and is flushed
// as a single segment.
//
// One extractor serves one turn; it is not safe for concurrent use.
type ThinkingExtractor struct {
	inThink bool
	carry   string
	thought strings.Builder
}

// NewThinkingExtractor returns an extractor in the "outside reasoning" state.
func NewThinkingExtractor() *ThinkingExtractor {
	return &ThinkingExtractor{}
}

// Feed consumes one content-text delta and returns the segments it releases.
// Text that might be the start of a split tag is withheld until the next
// Feed or Finish resolves it.
func (e *ThinkingExtractor) Feed(text string) []Segment {
	if text == "" {
		return nil
	}
	s := e.carry + text
	e.carry = ""

	var out []Segment
	for s != "" {
		if e.inThink {
			idx := strings.Index(s, closeTag)
			if idx < 0 {
				keep, held := splitTagSuffix(s, closeTag)
				e.thought.WriteString(keep)
				e.carry = held
				return out
			}
			e.thought.WriteString(s[:idx])
			out = append(out, Segment{Thought: true, Text: e.thought.String()})
			e.thought.Reset()
			e.inThink = false
			s = s[idx+len(closeTag):]
			continue
		}

		idx := strings.Index(s, openTag)
		if idx < 0 {
			keep, held := splitTagSuffix(s, openTag)
			if keep != "" {
				out = append(out, Segment{Text: keep})
			}
			e.carry = held
			return out
		}
		if idx > 0 {
			out = append(out, Segment{Text: s[:idx]})
		}
		e.inThink = true
		s = s[idx+len(openTag):]
	}
	return out
}

// Finish flushes any state left when the turn ends. A turn that ends while
// still inside a reasoning block (malformed or truncated stream) releases
// whatever accumulated as a best-effort final thought rather than discarding
// it; withheld tag-prefix text outside a block is released as content.
func (e *ThinkingExtractor) Finish() []Segment {
	var out []Segment
	if e.inThink {
		e.thought.WriteString(e.carry)
		if e.thought.Len() > 0 {
			out = append(out, Segment{Thought: true, Text: e.thought.String()})
		}
	} else if e.carry != "" {
		out = append(out, Segment{Text: e.carry})
	}
	e.carry = ""
	e.thought.Reset()
	e.inThink = false
	return out
}

// splitTagSuffix splits s so that the returned held part is the longest
// suffix of s that is a proper prefix of tag. Everything before it is safe
// to release now.
func splitTagSuffix(s, tag string) (keep, held string) {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(tag, s[len(s)-n:]) {
			return s[:len(s)-n], s[len(s)-n:]
		}
	}
	return s, ""
}
