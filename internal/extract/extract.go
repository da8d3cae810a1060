// Package extract cuts aligned segments into sample-accurate audio clips that
// satisfy a duration policy.
package extract

import (
	"fmt"

	"github.com/snarg/clip-engine/internal/align"
)

// Error reports a segment whose frame range does not fit the audio buffer,
// which means the declared duration does not match the decoded audio.
type Error struct {
	Index      int
	StartMs    int64
	EndMs      int64
	StartFrame int64
	EndFrame   int64
	Frames     int64
	Reason     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract segment %d [%d-%d ms]: %s (frames %d-%d of %d)",
		e.Index, e.StartMs, e.EndMs, e.Reason, e.StartFrame, e.EndFrame, e.Frames)
}

// Clip pairs a final segment with its audio.
type Clip struct {
	Index      int
	Segment    align.Segment
	StartFrame int64
	EndFrame   int64
	Audio      Slice
}

// Extract enforces p on segs and slices track for each resulting segment.
// The track is never modified; every clip owns a copy of its samples.
func Extract(segs []align.Segment, track *AudioTrack, p Policy) ([]Clip, error) {
	if err := track.Validate(); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	final := Enforce(segs, p)
	frames := track.Frames()

	// Bounds are checked for every segment before any copying.
	type bounds struct{ start, end int64 }
	spans := make([]bounds, len(final))
	for i, s := range final {
		sf, ef := FrameAt(s.StartMs, track.SampleRate), FrameAt(s.EndMs, track.SampleRate)
		fail := func(reason string) error {
			return &Error{Index: i, StartMs: s.StartMs, EndMs: s.EndMs, StartFrame: sf, EndFrame: ef, Frames: frames, Reason: reason}
		}
		switch {
		case s.StartMs < 0 || s.EndMs > track.DurationMs:
			return nil, fail("segment outside declared duration")
		case ef > frames:
			return nil, fail("audio shorter than declared duration")
		case sf >= ef:
			return nil, fail("segment shorter than one frame")
		}
		spans[i] = bounds{sf, ef}
	}

	clips := make([]Clip, len(final))
	for i, s := range final {
		clips[i] = Clip{
			Index:      i,
			Segment:    s,
			StartFrame: spans[i].start,
			EndFrame:   spans[i].end,
			Audio:      track.slice(spans[i].start, spans[i].end),
		}
	}
	return clips, nil
}
