package align

import (
	"errors"
	"reflect"
	"testing"

	"github.com/snarg/clip-engine/internal/transcript"
)

func parse(t *testing.T, text string) []transcript.Token {
	t.Helper()
	res, err := transcript.Parse(transcript.SplitLines(text), transcript.FormatUnrecognized)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return res.Tokens
}

func TestAlign_BracketScenario(t *testing.T) {
	res, err := Align(parse(t, "[00:00] Hello\n[00:05] World\n[00:10] End"), 12000)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	want := []Segment{
		{StartMs: 0, EndMs: 5000, Text: "Hello", TokenIDs: []int{0}},
		{StartMs: 5000, EndMs: 10000, Text: "World", TokenIDs: []int{1}},
		{StartMs: 10000, EndMs: 12000, Text: "End", TokenIDs: []int{2}},
	}
	if !reflect.DeepEqual(res.Segments, want) {
		t.Errorf("segments = %+v\nwant %+v", res.Segments, want)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestAlign_SRTScenario(t *testing.T) {
	res, err := Align(parse(t, "00:00:01,000 --> 00:00:04,000\nHi"), 10000)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if len(res.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(res.Segments))
	}
	if s := res.Segments[0]; s.StartMs != 1000 || s.EndMs != 4000 || s.Text != "Hi" {
		t.Errorf("segment = %+v, want (1000, 4000, Hi)", s)
	}
}

func TestAlign_ClampPastDuration(t *testing.T) {
	tokens := []transcript.Token{
		{StartMs: 0, Text: "a", SourceLine: 1},
		{StartMs: 8000, EndMs: 15000, HasEnd: true, Text: "b", SourceLine: 2},
	}
	res, err := Align(tokens, 10000)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if got := res.Segments[len(res.Segments)-1].EndMs; got != 10000 {
		t.Errorf("last end = %d, want 10000", got)
	}
}

func TestAlign_StartPastDurationDropped(t *testing.T) {
	tokens := []transcript.Token{
		{StartMs: 0, Text: "a", SourceLine: 1},
		{StartMs: 15000, Text: "late", SourceLine: 2},
	}
	res, err := Align(tokens, 10000)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if len(res.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(res.Segments))
	}
	if s := res.Segments[0]; s.EndMs != 10000 {
		t.Errorf("segment end = %d, want 10000", s.EndMs)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].SourceLine != 2 {
		t.Fatalf("warnings = %+v, want one for line 2", res.Warnings)
	}
}

func TestAlign_InvertedDropped(t *testing.T) {
	tokens := []transcript.Token{
		{StartMs: 1000, EndMs: 500, HasEnd: true, Text: "bad", SourceLine: 1},
		{StartMs: 2000, EndMs: 3000, HasEnd: true, Text: "ok", SourceLine: 2},
	}
	res, err := Align(tokens, 10000)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if len(res.Segments) != 1 || res.Segments[0].Text != "ok" {
		t.Errorf("segments = %+v", res.Segments)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].TokenID != 0 {
		t.Errorf("warnings = %+v", res.Warnings)
	}
}

func TestAlign_OverlapTrimsEarlier(t *testing.T) {
	tokens := []transcript.Token{
		{StartMs: 0, EndMs: 5000, HasEnd: true, Text: "one", SourceLine: 1},
		{StartMs: 3000, EndMs: 8000, HasEnd: true, Text: "two", SourceLine: 2},
	}
	res, err := Align(tokens, 10000)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if res.Segments[0].EndMs != 3000 || res.Segments[1].StartMs != 3000 {
		t.Errorf("segments = %+v, want boundary at 3000", res.Segments)
	}
}

func TestAlign_FullyOverlappedDropped(t *testing.T) {
	tokens := []transcript.Token{
		{StartMs: 2000, EndMs: 4000, HasEnd: true, Text: "a", SourceLine: 1},
		{StartMs: 2000, EndMs: 6000, HasEnd: true, Text: "b", SourceLine: 2},
	}
	res, err := Align(tokens, 10000)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if len(res.Segments) != 1 || res.Segments[0].Text != "b" {
		t.Errorf("segments = %+v", res.Segments)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("warnings = %+v, want 1", res.Warnings)
	}
}

func TestAlign_NoValidSegments(t *testing.T) {
	tokens := []transcript.Token{{StartMs: 20000, Text: "x", SourceLine: 1}}
	res, err := Align(tokens, 10000)
	if !errors.Is(err, ErrNoValidSegments) {
		t.Fatalf("err = %v, want ErrNoValidSegments", err)
	}
	if res == nil || len(res.Warnings) != 1 {
		t.Errorf("want warning retained, got %+v", res)
	}
}

func TestAlign_BadDuration(t *testing.T) {
	if _, err := Align(nil, 0); err == nil {
		t.Error("Align with zero duration should fail")
	}
}

func TestAlign_Properties(t *testing.T) {
	inputs := []string{
		"[00:00] a\n[00:03] b\n[00:04] c\n[00:30] d",
		"00:01 - 00:09 a\n00:05 - 00:07 b\n00:06 - 00:20 c",
		"00:00:00,000 --> 00:00:02,000\nx\n\n00:00:01,500 --> 00:00:09,000\ny\n\n00:00:08,000 --> 00:00:30,000\nz",
		"[00:02] a\n00:03 - 00:04 b\n[00:05] c",
	}
	const duration = 12000
	for _, in := range inputs {
		tokens := parse(t, in)
		res, err := Align(tokens, duration)
		if err != nil {
			t.Fatalf("Align(%q): %v", in, err)
		}
		for i, s := range res.Segments {
			if s.StartMs < 0 || s.StartMs >= s.EndMs || s.EndMs > duration {
				t.Errorf("%q: segment %d out of bounds: %+v", in, i, s)
			}
			if i > 0 && res.Segments[i-1].EndMs > s.StartMs {
				t.Errorf("%q: segments %d and %d overlap", in, i-1, i)
			}
		}

		again, _ := Align(tokens, duration)
		if !reflect.DeepEqual(res, again) {
			t.Errorf("%q: Align not deterministic", in)
		}
	}
}

func TestAlign_BracketContiguous(t *testing.T) {
	res, err := Align(parse(t, "[00:00] a\n[00:02] b\n[00:07] c\n[00:09] d"), 11000)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if res.Segments[0].StartMs != 0 {
		t.Errorf("first start = %d, want 0", res.Segments[0].StartMs)
	}
	for i := 1; i < len(res.Segments); i++ {
		if res.Segments[i-1].EndMs != res.Segments[i].StartMs {
			t.Errorf("gap between %d and %d", i-1, i)
		}
	}
	if last := res.Segments[len(res.Segments)-1]; last.EndMs != 11000 {
		t.Errorf("last end = %d, want 11000", last.EndMs)
	}
}
