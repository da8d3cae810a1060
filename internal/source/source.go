// Package source provides transcripts and decoded audio for a video id.
// Every error returned from this package is classified (see pipeline.Error).
package source

import (
	"context"

	"github.com/snarg/clip-engine/internal/extract"
	"github.com/snarg/clip-engine/internal/transcript"
)

// Transcript is the text-provider contract: ordered raw lines plus an
// optional notation hint.
type Transcript struct {
	FormatHint transcript.Format
	Lines      []string
	Origin     string // "captions" or the transcriber name
	Language   string
}

// Audio is a downloaded and decoded source.
type Audio struct {
	// DownloadPath is the file as fetched, before conversion. The
	// transcription fallback uploads this one because it is smaller.
	DownloadPath string
	WAVPath      string
	Track        *extract.AudioTrack
}

// TranscriptProvider fetches official captions. A source without captions
// yields a Permanent KindNoTranscript error.
type TranscriptProvider interface {
	Transcript(ctx context.Context, videoID, workDir string) (*Transcript, error)
}

// AudioProvider downloads and decodes audio into workDir.
type AudioProvider interface {
	Audio(ctx context.Context, videoID, workDir string) (*Audio, error)
}

// Transcriber is the fallback when no captions exist. Inputs above the
// provider's size limit fail with a Permanent KindSizeLimit error.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*Transcript, error)
	Name() string
}

// Entry is one video of a playlist or channel.
type Entry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Index int    `json:"index"`
}

// Lister expands playlist and channel URLs into their videos.
type Lister interface {
	List(ctx context.Context, d Descriptor) ([]Entry, error)
}
