package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/snarg/clip-engine/internal/extract"
	"github.com/snarg/clip-engine/internal/transcript"
)

func silence(rate int, ms int64) *extract.AudioTrack {
	frames := extract.FrameAt(ms, rate)
	return &extract.AudioTrack{SampleRate: rate, Channels: 1, DurationMs: ms, Samples: make([]int16, frames)}
}

func input(text string, ms int64) Input {
	return Input{
		Lines:  transcript.SplitLines(text),
		Track:  silence(8000, ms),
		Policy: extract.DefaultPolicy,
	}
}

func TestRun_Bracket(t *testing.T) {
	out, err := Run(context.Background(), input("[00:00] Hello\n[00:05] World\n[00:10] End", 12000), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Clips) != 3 {
		t.Fatalf("got %d clips, want 3", len(out.Clips))
	}
	want := [][2]int64{{0, 5000}, {5000, 10000}, {10000, 12000}}
	for i, c := range out.Clips {
		if c.Segment.StartMs != want[i][0] || c.Segment.EndMs != want[i][1] {
			t.Errorf("clip %d = %d-%d, want %d-%d", i, c.Segment.StartMs, c.Segment.EndMs, want[i][0], want[i][1])
		}
		if got := c.Audio.Frames(); got != c.EndFrame-c.StartFrame {
			t.Errorf("clip %d has %d frames, want %d", i, got, c.EndFrame-c.StartFrame)
		}
	}
	if out.Format != transcript.FormatBracket {
		t.Errorf("Format = %s", out.Format)
	}
}

func TestRun_ParseErrorsRetained(t *testing.T) {
	out, err := Run(context.Background(), input("[00:00] Hello\ngarbage\n[00:05] World", 10000), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Clips) != 2 || len(out.ParseErrors) != 1 || out.WarningCount() != 1 {
		t.Errorf("clips=%d parseErrors=%d warnings=%d", len(out.Clips), len(out.ParseErrors), out.WarningCount())
	}
}

func TestRun_NoTimestampsIsPermanent(t *testing.T) {
	out, err := Run(context.Background(), input("nothing here", 5000), nil)
	if KindOf(err) != KindNoTimestamps || ClassOf(err) != Permanent {
		t.Fatalf("err = %v, want permanent no_timestamps", err)
	}
	if !errors.Is(err, transcript.ErrNoTimestampsFound) {
		t.Error("error should wrap ErrNoTimestampsFound")
	}
	if len(out.ParseErrors) != 1 {
		t.Errorf("parse errors = %d, want 1", len(out.ParseErrors))
	}
}

func TestRun_AlignmentFailure(t *testing.T) {
	_, err := Run(context.Background(), input("[01:00] too late", 5000), nil)
	if KindOf(err) != KindAlignment || ClassOf(err) != Permanent {
		t.Fatalf("err = %v, want permanent alignment", err)
	}
}

func TestRun_ExtractionFailure(t *testing.T) {
	in := input("[00:00] a\n[00:05] b", 10000)
	in.Track.Samples = in.Track.Samples[:4000]
	_, err := Run(context.Background(), in, nil)
	if KindOf(err) != KindExtraction {
		t.Fatalf("err = %v, want extraction", err)
	}
	var xerr *extract.Error
	if !errors.As(err, &xerr) {
		t.Error("error should wrap *extract.Error")
	}
}

func TestRun_HookSeesStagesInOrder(t *testing.T) {
	var seen []Stage
	_, err := Run(context.Background(), input("[00:00] a\n[00:05] b", 10000), func(s Stage) error {
		seen = append(seen, s)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []Stage{StageParsing, StageAligning, StageExtracting}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("stages = %v, want %v", seen, want)
	}
}

func TestRun_HookStops(t *testing.T) {
	stop := Wrap(KindCancelled, Permanent, errors.New("run cancelled"))
	out, err := Run(context.Background(), input("[00:00] a\n[00:05] b", 10000), func(s Stage) error {
		if s == StageAligning {
			return stop
		}
		return nil
	})
	if err != stop {
		t.Fatalf("err = %v, want hook error", err)
	}
	if out.TokenCount != 2 || out.Clips != nil {
		t.Errorf("parsing should have completed and extraction not run: %+v", out)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, input("[00:00] a", 5000), nil)
	if KindOf(err) != KindCancelled || ClassOf(err) != Permanent {
		t.Fatalf("err = %v, want permanent cancelled", err)
	}
}

func TestRun_Deterministic(t *testing.T) {
	text := "00:00:00,000 --> 00:00:01,000\na\n\n00:00:01,000 --> 00:00:40,000\nb c d e f g\n\n00:00:40,000 --> 00:00:41,000\nh"
	a, err := Run(context.Background(), input(text, 45000), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	b, _ := Run(context.Background(), input(text, 45000), nil)
	if !reflect.DeepEqual(a, b) {
		t.Error("identical inputs produced different output")
	}
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{errors.New("plain"), Permanent},
		{context.DeadlineExceeded, Transient},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), Transient},
		{Wrap(KindRateLimited, Transient, errors.New("429")), Transient},
		{fmt.Errorf("outer: %w", Wrap(KindAuth, Fatal, errors.New("401"))), Fatal},
		{ContextError(context.Canceled), Permanent},
	}
	for _, tt := range tests {
		if got := ClassOf(tt.err); got != tt.want {
			t.Errorf("ClassOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
	if Wrap(KindAuth, Fatal, nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}
