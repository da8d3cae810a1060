package extract

import (
	"fmt"
	"strings"

	"github.com/snarg/clip-engine/internal/align"
)

// Policy bounds the duration of every emitted clip.
type Policy struct {
	MinMs int64 `json:"min_ms"`
	MaxMs int64 `json:"max_ms"`
}

// DefaultPolicy is 2 s to 30 s.
var DefaultPolicy = Policy{MinMs: 2000, MaxMs: 30000}

// Validate requires 0 < MinMs and MaxMs >= 2*MinMs, which guarantees that a
// midpoint split of an over-long segment leaves both halves at least MinMs.
func (p Policy) Validate() error {
	if p.MinMs <= 0 {
		return fmt.Errorf("min_ms must be positive, got %d", p.MinMs)
	}
	if p.MaxMs < 2*p.MinMs {
		return fmt.Errorf("max_ms (%d) must be at least twice min_ms (%d)", p.MaxMs, p.MinMs)
	}
	return nil
}

// part is one source token inside a working segment. Merging concatenates
// parts, so part boundaries are the token boundaries a split may cut at.
type part struct {
	start, end int64
	text       string
	ids        []int
}

type unit []part

func (u unit) start() int64 { return u[0].start }
func (u unit) end() int64   { return u[len(u)-1].end }
func (u unit) dur() int64   { return u.end() - u.start() }

func (u unit) segment() align.Segment {
	var texts []string
	var ids []int
	for _, p := range u {
		if p.text != "" {
			texts = append(texts, p.text)
		}
		for _, id := range p.ids {
			if len(ids) == 0 || ids[len(ids)-1] != id {
				ids = append(ids, id)
			}
		}
	}
	return align.Segment{
		StartMs:  u.start(),
		EndMs:    u.end(),
		Text:     strings.Join(texts, " "),
		TokenIDs: ids,
	}
}

// Enforce applies p to segs: segments shorter than MinMs are merged into the
// next one (the last merges backward), then segments longer than MaxMs are
// split recursively. The input must be sorted and non-overlapping; the output
// keeps both properties. If the whole list spans less than MinMs, a single
// short segment is returned.
func Enforce(segs []align.Segment, p Policy) []align.Segment {
	if len(segs) == 0 {
		return nil
	}

	merged := mergeShort(segs, p.MinMs)

	var out []align.Segment
	for _, u := range merged {
		for _, piece := range split(u, p) {
			out = append(out, piece.segment())
		}
	}
	return out
}

func mergeShort(segs []align.Segment, minMs int64) []unit {
	var out []unit
	var pending unit
	for _, s := range segs {
		u := unit{{start: s.StartMs, end: s.EndMs, text: s.Text, ids: append([]int(nil), s.TokenIDs...)}}
		if pending != nil {
			u = append(pending, u...)
			pending = nil
		}
		if u.dur() < minMs {
			pending = u
			continue
		}
		out = append(out, u)
	}
	if pending != nil {
		if len(out) > 0 {
			out[len(out)-1] = append(out[len(out)-1], pending...)
		} else {
			out = append(out, pending)
		}
	}
	return out
}

func split(u unit, p Policy) []unit {
	if u.dur() <= p.MaxMs {
		return []unit{u}
	}
	left, right := cut(u, p.MinMs)
	return append(split(left, p), split(right, p)...)
}

// cut divides u at the token boundary nearest its midpoint that leaves both
// sides at least minMs, or at the midpoint itself when no boundary qualifies.
func cut(u unit, minMs int64) (unit, unit) {
	mid := u.start() + u.dur()/2

	best, bestDist := -1, int64(-1)
	for k := 1; k < len(u); k++ {
		at := u[k].start
		if at-u.start() < minMs || u.end()-at < minMs {
			continue
		}
		d := at - mid
		if d < 0 {
			d = -d
		}
		if best < 0 || d < bestDist {
			best, bestDist = k, d
		}
	}
	if best > 0 {
		left := append(unit(nil), u[:best]...)
		right := append(unit(nil), u[best:]...)
		// the left side absorbs any gap before the boundary
		left[len(left)-1].end = u[best].start
		return left, right
	}

	// Midpoint cut inside the part that contains mid.
	var left, right unit
	for _, pt := range u {
		switch {
		case pt.end <= mid:
			left = append(left, pt)
		case pt.start >= mid:
			right = append(right, pt)
		default:
			lt, rt := apportion(pt.text, pt.start, pt.end, mid)
			left = append(left, part{start: pt.start, end: mid, text: lt, ids: pt.ids})
			right = append(right, part{start: mid, end: pt.end, text: rt, ids: pt.ids})
		}
	}
	// mid may fall in a gap between parts
	left[len(left)-1].end = mid
	right[0].start = mid
	return left, right
}

// apportion splits text on whole words in proportion to the time on each side
// of at, rounding to the nearest word.
func apportion(text string, start, end, at int64) (string, string) {
	words := strings.Fields(text)
	if len(words) == 0 || end <= start {
		return "", ""
	}
	n := int64(len(words))
	k := (2*n*(at-start) + (end - start)) / (2 * (end - start))
	return strings.Join(words[:k], " "), strings.Join(words[k:], " ")
}
