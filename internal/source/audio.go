package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/snarg/clip-engine/internal/extract"
	"github.com/snarg/clip-engine/internal/pipeline"
)

// FFmpeg converts downloaded media into PCM WAV.
type FFmpeg struct {
	path       string
	sampleRate int
	run        runFunc
}

// NewFFmpeg returns a converter producing mono 16-bit WAV at sampleRate.
func NewFFmpeg(path string, sampleRate int) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &FFmpeg{path: path, sampleRate: sampleRate, run: execRun}
}

// ToWAV converts in to a WAV file next to it and returns the new path.
func (f *FFmpeg) ToWAV(ctx context.Context, in string) (string, error) {
	out := strings.TrimSuffix(in, filepath.Ext(in)) + "_" + strconv.Itoa(f.sampleRate) + ".wav"
	_, stderr, err := f.run(ctx, f.path,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", in,
		"-ac", "1", "-ar", strconv.Itoa(f.sampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		out,
	)
	if err != nil {
		// ffmpeg failing on a file we just downloaded means the media is bad.
		cerr := classifyTool("ffmpeg", pipeline.KindDownload, err, stderr)
		if pipeline.ClassOf(cerr) == pipeline.Transient && pipeline.KindOf(cerr) == pipeline.KindDownload {
			return "", pipeline.Wrap(pipeline.KindDownload, pipeline.Permanent, cerr)
		}
		return "", cerr
	}
	return out, nil
}

// DecodeWAV reads a 16-bit PCM WAV file into an AudioTrack. The duration is
// derived from the decoded frame count, never from header metadata.
func DecodeWAV(path string) (*extract.AudioTrack, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer fh.Close()

	d := wav.NewDecoder(fh)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid wav file", filepath.Base(path))
	}
	if d.NumChans == 0 || d.SampleRate == 0 {
		return nil, fmt.Errorf("%s: missing format chunk", filepath.Base(path))
	}
	if d.BitDepth != 16 {
		return nil, fmt.Errorf("%s: unsupported bit depth %d", filepath.Base(path), d.BitDepth)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	channels := int(d.NumChans)
	rate := int(d.SampleRate)
	samples := make([]int16, len(buf.Data)-len(buf.Data)%channels)
	for i := range samples {
		samples[i] = int16(buf.Data[i])
	}
	track := &extract.AudioTrack{
		SampleRate: rate,
		Channels:   channels,
		Samples:    samples,
	}
	track.DurationMs = extract.DurationFromFrames(track.Frames(), rate)
	if track.DurationMs <= 0 {
		return nil, fmt.Errorf("%s: no audio", filepath.Base(path))
	}
	return track, nil
}

// Media is the AudioProvider backed by yt-dlp and ffmpeg.
type Media struct {
	ytdlp  *YtDlp
	ffmpeg *FFmpeg
	log    zerolog.Logger
}

// NewMedia combines a downloader and a converter.
func NewMedia(y *YtDlp, f *FFmpeg, log zerolog.Logger) *Media {
	return &Media{ytdlp: y, ffmpeg: f, log: log}
}

// Audio downloads, converts and decodes the audio of videoID.
func (m *Media) Audio(ctx context.Context, videoID, workDir string) (*Audio, error) {
	dl, err := m.ytdlp.DownloadAudio(ctx, videoID, workDir)
	if err != nil {
		return nil, err
	}
	wavPath, err := m.ffmpeg.ToWAV(ctx, dl)
	if err != nil {
		return nil, err
	}
	track, err := DecodeWAV(wavPath)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindDownload, pipeline.Permanent, err)
	}
	m.log.Debug().
		Str("video_id", videoID).
		Int("sample_rate", track.SampleRate).
		Int64("duration_ms", track.DurationMs).
		Msg("audio decoded")
	return &Audio{DownloadPath: dl, WAVPath: wavPath, Track: track}, nil
}
