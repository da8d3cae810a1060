package extract

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"github.com/snarg/clip-engine/internal/align"
)

func seg(start, end int64, text string, ids ...int) align.Segment {
	return align.Segment{StartMs: start, EndMs: end, Text: text, TokenIDs: ids}
}

// ramp returns a mono track whose sample i has value i%32768.
func ramp(rate int, durationMs int64, frames int64) *AudioTrack {
	samples := make([]int16, frames)
	for i := range samples {
		samples[i] = int16(i % 32768)
	}
	return &AudioTrack{SampleRate: rate, Channels: 1, DurationMs: durationMs, Samples: samples}
}

func TestFrameAt(t *testing.T) {
	tests := []struct {
		ms   int64
		rate int
		want int64
	}{
		{0, 16000, 0},
		{1000, 16000, 16000},
		{1, 44100, 44},
		{10, 44100, 441},
		{3, 22050, 66},
		{1, 22050, 22},
		{1, 1500, 2},
	}
	for _, tt := range tests {
		if got := FrameAt(tt.ms, tt.rate); got != tt.want {
			t.Errorf("FrameAt(%d, %d) = %d, want %d", tt.ms, tt.rate, got, tt.want)
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := DefaultPolicy.Validate(); err != nil {
		t.Errorf("DefaultPolicy invalid: %v", err)
	}
	if err := (Policy{MinMs: 2000, MaxMs: 3000}).Validate(); err == nil {
		t.Error("max < 2*min should be rejected")
	}
	if err := (Policy{MinMs: 0, MaxMs: 3000}).Validate(); err == nil {
		t.Error("zero min should be rejected")
	}
}

func TestEnforce_MergeForward(t *testing.T) {
	got := Enforce([]align.Segment{
		seg(0, 1000, "a", 0),
		seg(1000, 4000, "b", 1),
		seg(4000, 7000, "c", 2),
	}, DefaultPolicy)
	want := []align.Segment{
		seg(0, 4000, "a b", 0, 1),
		seg(4000, 7000, "c", 2),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Enforce = %+v\nwant %+v", got, want)
	}
}

func TestEnforce_MergeBackwardWhenLast(t *testing.T) {
	got := Enforce([]align.Segment{
		seg(0, 3000, "a", 0),
		seg(3000, 4000, "b", 1),
	}, DefaultPolicy)
	want := []align.Segment{seg(0, 4000, "a b", 0, 1)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Enforce = %+v, want %+v", got, want)
	}
}

func TestEnforce_TotalBelowMin(t *testing.T) {
	got := Enforce([]align.Segment{seg(0, 500, "a", 0), seg(500, 1000, "b", 1)}, DefaultPolicy)
	want := []align.Segment{seg(0, 1000, "a b", 0, 1)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Enforce = %+v, want %+v", got, want)
	}
}

func TestEnforce_SplitMidpointApportionsWords(t *testing.T) {
	p := Policy{MinMs: 2000, MaxMs: 5000}
	got := Enforce([]align.Segment{seg(0, 6000, "one two three four five six", 0)}, p)
	want := []align.Segment{
		seg(0, 3000, "one two three", 0),
		seg(3000, 6000, "four five six", 0),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Enforce = %+v\nwant %+v", got, want)
	}
}

func TestEnforce_SplitAfterMerge(t *testing.T) {
	p := Policy{MinMs: 2000, MaxMs: 5000}
	got := Enforce([]align.Segment{
		seg(0, 1000, "a", 0),
		seg(1000, 6000, "one two three four five", 1),
	}, p)
	want := []align.Segment{
		seg(0, 3000, "a one two", 0, 1),
		seg(3000, 6000, "three four five", 1),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Enforce = %+v\nwant %+v", got, want)
	}
}

func TestEnforce_SplitPrefersTokenBoundary(t *testing.T) {
	p := Policy{MinMs: 2000, MaxMs: 5000}
	got := Enforce([]align.Segment{
		seg(0, 1000, "a", 0),
		seg(3000, 9000, "b c", 1),
	}, p)
	want := []align.Segment{
		seg(0, 3000, "a", 0),
		seg(3000, 6000, "b", 1),
		seg(6000, 9000, "c", 1),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Enforce = %+v\nwant %+v", got, want)
	}
}

func TestEnforce_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p := DefaultPolicy
	for trial := 0; trial < 200; trial++ {
		var segs []align.Segment
		var at int64
		for i := 0; i < 1+rng.Intn(12); i++ {
			at += int64(rng.Intn(1500))
			d := int64(1 + rng.Intn(70000))
			segs = append(segs, seg(at, at+d, "w x y z", i))
			at += d
		}
		total := segs[len(segs)-1].EndMs - segs[0].StartMs

		got := Enforce(segs, p)
		if got[0].StartMs != segs[0].StartMs || got[len(got)-1].EndMs != segs[len(segs)-1].EndMs {
			t.Fatalf("trial %d: coverage changed", trial)
		}
		for i, s := range got {
			if s.StartMs >= s.EndMs {
				t.Fatalf("trial %d: empty segment %+v", trial, s)
			}
			if i > 0 && got[i-1].EndMs > s.StartMs {
				t.Fatalf("trial %d: overlap at %d", trial, i)
			}
			if total >= p.MinMs && (s.DurationMs() < p.MinMs || s.DurationMs() > p.MaxMs) {
				t.Fatalf("trial %d: segment %d duration %d outside policy", trial, i, s.DurationMs())
			}
		}
		if again := Enforce(segs, p); !reflect.DeepEqual(got, again) {
			t.Fatalf("trial %d: not deterministic", trial)
		}
	}
}

func TestExtract_Slices(t *testing.T) {
	track := ramp(1000, 12000, 12000)
	segs := []align.Segment{
		seg(0, 5000, "Hello", 0),
		seg(5000, 10000, "World", 1),
		seg(10000, 12000, "End", 2),
	}
	clips, err := Extract(segs, track, DefaultPolicy)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(clips) != 3 {
		t.Fatalf("got %d clips, want 3", len(clips))
	}
	c := clips[1]
	if c.StartFrame != 5000 || c.EndFrame != 10000 || c.Audio.Frames() != 5000 {
		t.Errorf("clip 1 frames = %d-%d (%d)", c.StartFrame, c.EndFrame, c.Audio.Frames())
	}
	if c.Audio.Samples[0] != 5000 {
		t.Errorf("clip 1 first sample = %d, want 5000", c.Audio.Samples[0])
	}
	if c.Audio.DurationMs() != 5000 {
		t.Errorf("clip 1 duration = %d, want 5000", c.Audio.DurationMs())
	}
}

func TestExtract_StereoInterleaved(t *testing.T) {
	track := &AudioTrack{SampleRate: 1000, Channels: 2, DurationMs: 4000, Samples: make([]int16, 8000)}
	for i := range track.Samples {
		track.Samples[i] = int16(i)
	}
	clips, err := Extract([]align.Segment{seg(0, 2000, "a", 0), seg(2000, 4000, "b", 1)}, track, DefaultPolicy)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got := clips[1].Audio.Samples[0]; got != 4000 {
		t.Errorf("clip 1 first sample = %d, want 4000", got)
	}
	if got := len(clips[1].Audio.Samples); got != 4000 {
		t.Errorf("clip 1 sample count = %d, want 4000", got)
	}
}

func TestExtract_DoesNotMutateTrack(t *testing.T) {
	track := ramp(1000, 4000, 4000)
	clips, err := Extract([]align.Segment{seg(0, 4000, "x", 0)}, track, DefaultPolicy)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	clips[0].Audio.Samples[10] = -1
	if track.Samples[10] != 10 {
		t.Error("clip shares memory with the track")
	}
}

func TestExtract_BufferShorterThanDuration(t *testing.T) {
	track := ramp(1000, 12000, 10000)
	_, err := Extract([]align.Segment{seg(0, 6000, "a", 0), seg(6000, 12000, "b", 1)}, track, DefaultPolicy)
	var xerr *Error
	if !errors.As(err, &xerr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if xerr.Index != 1 || xerr.Frames != 10000 {
		t.Errorf("error = %+v", xerr)
	}
}

func TestExtract_InvalidInputs(t *testing.T) {
	if _, err := Extract(nil, &AudioTrack{SampleRate: 0, Channels: 1, DurationMs: 1}, DefaultPolicy); err == nil {
		t.Error("zero sample rate should fail")
	}
	if _, err := Extract(nil, ramp(1000, 1000, 1000), Policy{MinMs: 10, MaxMs: 5}); err == nil {
		t.Error("invalid policy should fail")
	}
}
