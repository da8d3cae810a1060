// Package align reconciles parsed transcript tokens with the duration of the
// audio they describe, producing ordered, non-overlapping segments.
package align

import (
	"errors"
	"fmt"
	"sort"

	"github.com/snarg/clip-engine/internal/transcript"
)

// ErrNoValidSegments is returned when clamping and overlap resolution leave
// nothing to emit.
var ErrNoValidSegments = errors.New("no valid segments")

// Segment is a finalized time range with its text.
// Invariant: 0 <= StartMs < EndMs <= audio duration.
type Segment struct {
	StartMs  int64  `json:"start_ms"`
	EndMs    int64  `json:"end_ms"`
	Text     string `json:"text"`
	TokenIDs []int  `json:"source_token_ids"`
}

// DurationMs returns EndMs - StartMs.
func (s Segment) DurationMs() int64 { return s.EndMs - s.StartMs }

// Warning records a token dropped during alignment.
type Warning struct {
	TokenID    int    `json:"token_id"`
	SourceLine int    `json:"source_line"`
	StartMs    int64  `json:"start_ms"`
	EndMs      int64  `json:"end_ms"`
	Reason     string `json:"reason"`
}

func (w Warning) String() string {
	return fmt.Sprintf("token %d (line %d): %s", w.TokenID, w.SourceLine, w.Reason)
}

// Result is the output of Align.
type Result struct {
	Segments []Segment
	Warnings []Warning
}

type span struct {
	id    int
	line  int
	start int64
	end   int64
	text  string
}

// Align resolves token boundaries against durationMs:
//
//  1. tokens without an end take the next token's start; the last takes durationMs
//  2. values are clamped into [0, durationMs]
//  3. zero-length or inverted tokens are dropped with a Warning
//  4. an overlap is resolved by pulling the earlier segment's end back to the
//     following segment's start
//
// Token IDs are indexes into tokens. The returned error wraps
// ErrNoValidSegments when nothing survives.
func Align(tokens []transcript.Token, durationMs int64) (*Result, error) {
	if durationMs <= 0 {
		return nil, fmt.Errorf("align: duration must be positive, got %d ms", durationMs)
	}

	spans := make([]span, len(tokens))
	for i, tok := range tokens {
		spans[i] = span{id: i, line: tok.SourceLine, start: tok.StartMs, end: tok.EndMs, text: tok.Text}
	}
	sort.SliceStable(spans, func(a, b int) bool { return spans[a].start < spans[b].start })

	// 1. infer missing ends
	for i := range spans {
		if tokens[spans[i].id].HasEnd {
			continue
		}
		if i+1 < len(spans) {
			spans[i].end = spans[i+1].start
		} else {
			spans[i].end = durationMs
		}
	}

	res := &Result{}

	// 2-3. clamp and drop
	kept := spans[:0:0]
	for _, s := range spans {
		s.start = clamp(s.start, durationMs)
		s.end = clamp(s.end, durationMs)
		if s.start >= s.end {
			res.Warnings = append(res.Warnings, dropWarning(s, "empty or inverted after clamping"))
			continue
		}
		kept = append(kept, s)
	}

	// 4. resolve overlaps; trimming can empty a segment, which is dropped too
	var out []span
	for i, s := range kept {
		if i+1 < len(kept) && s.end > kept[i+1].start {
			s.end = kept[i+1].start
		}
		if s.start >= s.end {
			res.Warnings = append(res.Warnings, dropWarning(s, "fully overlapped by following segment"))
			continue
		}
		out = append(out, s)
	}

	if len(out) == 0 {
		return res, fmt.Errorf("align: %w (%d tokens, %d dropped)", ErrNoValidSegments, len(tokens), len(res.Warnings))
	}

	res.Segments = make([]Segment, len(out))
	for i, s := range out {
		res.Segments[i] = Segment{
			StartMs:  s.start,
			EndMs:    s.end,
			Text:     s.text,
			TokenIDs: []int{s.id},
		}
	}
	return res, nil
}

func clamp(v, max int64) int64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func dropWarning(s span, reason string) Warning {
	return Warning{
		TokenID:    s.id,
		SourceLine: s.line,
		StartMs:    s.start,
		EndMs:      s.end,
		Reason:     reason,
	}
}
