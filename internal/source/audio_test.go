package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/snarg/clip-engine/internal/pipeline"
)

func writeWAV(t *testing.T, path string, rate, channels int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	data := make([]int, 16000) // 1 s of mono 16 kHz
	for i := range data {
		data[i] = i%200 - 100
	}
	writeWAV(t, path, 16000, 1, data)

	track, err := DecodeWAV(path)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if track.SampleRate != 16000 || track.Channels != 1 || track.DurationMs != 1000 {
		t.Errorf("track = rate %d ch %d dur %d", track.SampleRate, track.Channels, track.DurationMs)
	}
	if track.Frames() != 16000 || track.Samples[1] != -99 {
		t.Errorf("frames = %d, sample[1] = %d", track.Frames(), track.Samples[1])
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	os.WriteFile(path, []byte("definitely not riff"), 0o644)
	if _, err := DecodeWAV(path); err == nil {
		t.Error("DecodeWAV should reject garbage")
	}
}

func TestMedia_Audio(t *testing.T) {
	dir := t.TempDir()
	dl := filepath.Join(dir, "abcdefghijk.m4a")

	y := newTestYtDlp(&fakeRun{stdout: dl + "\n"})
	ff := NewFFmpeg("ffmpeg", 8000)
	ff.run = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		out := args[len(args)-1]
		if !strings.HasSuffix(out, "_8000.wav") {
			t.Errorf("output path = %q", out)
		}
		writeWAV(t, out, 8000, 1, make([]int, 4000))
		return nil, nil, nil
	}

	a, err := NewMedia(y, ff, zerolog.Nop()).Audio(context.Background(), "abcdefghijk", dir)
	if err != nil {
		t.Fatalf("Audio: %v", err)
	}
	if a.DownloadPath != dl || a.Track.DurationMs != 500 {
		t.Errorf("audio = %+v, duration %d", a, a.Track.DurationMs)
	}
}

func TestFFmpeg_BadMediaIsPermanent(t *testing.T) {
	ff := NewFFmpeg("ffmpeg", 16000)
	ff.run = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return nil, []byte("Invalid data found when processing input"), errors.New("exit status 1")
	}
	_, err := ff.ToWAV(context.Background(), "/tmp/x.webm")
	if pipeline.ClassOf(err) != pipeline.Permanent {
		t.Errorf("err = %v, want permanent", err)
	}
}
