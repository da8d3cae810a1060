package extract

import (
	"fmt"
)

// AudioTrack is decoded PCM audio owned by the caller. Samples are 16-bit and
// interleaved by channel. Extraction only reads from it.
type AudioTrack struct {
	SampleRate int
	Channels   int
	DurationMs int64
	Samples    []int16
}

// Frames returns the number of complete sample frames in the buffer.
func (t *AudioTrack) Frames() int64 {
	if t.Channels <= 0 {
		return 0
	}
	return int64(len(t.Samples) / t.Channels)
}

// Validate checks the track metadata.
func (t *AudioTrack) Validate() error {
	switch {
	case t == nil:
		return fmt.Errorf("audio track is nil")
	case t.SampleRate <= 0:
		return fmt.Errorf("sample rate must be positive, got %d", t.SampleRate)
	case t.Channels <= 0:
		return fmt.Errorf("channel count must be positive, got %d", t.Channels)
	case t.DurationMs <= 0:
		return fmt.Errorf("duration must be positive, got %d ms", t.DurationMs)
	}
	return nil
}

// FrameAt converts milliseconds to a frame offset, rounding half up.
func FrameAt(ms int64, sampleRate int) int64 {
	return (ms*int64(sampleRate) + 500) / 1000
}

// DurationFromFrames returns the duration in milliseconds of n frames,
// truncated so that FrameAt(result) never exceeds n.
func DurationFromFrames(n int64, sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return n * 1000 / int64(sampleRate)
}

// Slice is a copy of a frame range of an AudioTrack.
type Slice struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Frames returns the number of frames in the slice.
func (s Slice) Frames() int64 {
	if s.Channels <= 0 {
		return 0
	}
	return int64(len(s.Samples) / s.Channels)
}

// DurationMs returns the slice length in milliseconds.
func (s Slice) DurationMs() int64 {
	return DurationFromFrames(s.Frames(), s.SampleRate)
}

func (t *AudioTrack) slice(startFrame, endFrame int64) Slice {
	lo, hi := startFrame*int64(t.Channels), endFrame*int64(t.Channels)
	out := make([]int16, hi-lo)
	copy(out, t.Samples[lo:hi])
	return Slice{SampleRate: t.SampleRate, Channels: t.Channels, Samples: out}
}
