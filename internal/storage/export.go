package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/snarg/clip-engine/internal/align"
	"github.com/snarg/clip-engine/internal/extract"
	"github.com/snarg/clip-engine/internal/transcript"
)

// ManifestFile is the per-job manifest name.
const ManifestFile = "segments.json"

// ExportRequest is one completed job's output.
type ExportRequest struct {
	RunID            string
	JobID            string
	SourceURL        string
	VideoID          string
	Title            string
	TranscriptOrigin string
	Format           transcript.Format
	Policy           extract.Policy
	DurationMs       int64
	Clips            []extract.Clip
	ParseErrors      []*transcript.ParseError
	Warnings         []align.Warning
}

// Manifest describes an exported job.
type Manifest struct {
	RunID            string                   `json:"run_id"`
	JobID            string                   `json:"job_id"`
	SourceURL        string                   `json:"source_url"`
	VideoID          string                   `json:"video_id,omitempty"`
	Title            string                   `json:"title,omitempty"`
	TranscriptOrigin string                   `json:"transcript_origin"`
	Format           string                   `json:"format"`
	Policy           extract.Policy           `json:"policy"`
	DurationMs       int64                    `json:"duration_ms"`
	SampleRate       int                      `json:"sample_rate"`
	Channels         int                      `json:"channels"`
	Segments         []ManifestSegment        `json:"segments"`
	ParseErrors      []*transcript.ParseError `json:"parse_errors,omitempty"`
	Warnings         []align.Warning          `json:"alignment_warnings,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
}

// ManifestSegment is one exported clip.
type ManifestSegment struct {
	Index      int    `json:"index"`
	File       string `json:"file"`
	StartMs    int64  `json:"start_ms"`
	EndMs      int64  `json:"end_ms"`
	DurationMs int64  `json:"duration_ms"`
	StartFrame int64  `json:"start_frame"`
	EndFrame   int64  `json:"end_frame"`
	Text       string `json:"text"`
	TokenIDs   []int  `json:"source_token_ids"`
}

// Exporter writes clips and manifests to a Store.
type Exporter struct {
	store  Store
	tmpDir string
	log    zerolog.Logger
}

// NewExporter creates an exporter. tmpDir holds WAV encoding scratch files.
func NewExporter(store Store, tmpDir string, log zerolog.Logger) *Exporter {
	return &Exporter{
		store:  store,
		tmpDir: tmpDir,
		log:    log.With().Str("component", "exporter").Logger(),
	}
}

// ClipName returns the file name of the i-th (0-based) clip.
func ClipName(i int, text string) string {
	return fmt.Sprintf("segment_%03d_%s.wav", i+1, SafeName(text))
}

// Export writes every clip as WAV, then the manifest. The manifest is written
// last so its presence marks a complete export.
func (e *Exporter) Export(ctx context.Context, req ExportRequest) (*Manifest, error) {
	m := &Manifest{
		RunID:            req.RunID,
		JobID:            req.JobID,
		SourceURL:        req.SourceURL,
		VideoID:          req.VideoID,
		Title:            req.Title,
		TranscriptOrigin: req.TranscriptOrigin,
		Format:           req.Format.String(),
		Policy:           req.Policy,
		DurationMs:       req.DurationMs,
		ParseErrors:      req.ParseErrors,
		Warnings:         req.Warnings,
		Segments:         make([]ManifestSegment, 0, len(req.Clips)),
		CreatedAt:        time.Now().UTC(),
	}

	for i, c := range req.Clips {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := ClipName(i, c.Segment.Text)
		data, err := EncodeWAV(e.tmpDir, c.Audio)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		if err := e.store.Save(ctx, Key(req.RunID, req.JobID, name), data, ContentTypeFromExt(".wav")); err != nil {
			return nil, fmt.Errorf("save %s: %w", name, err)
		}
		m.SampleRate, m.Channels = c.Audio.SampleRate, c.Audio.Channels
		m.Segments = append(m.Segments, ManifestSegment{
			Index:      i + 1,
			File:       name,
			StartMs:    c.Segment.StartMs,
			EndMs:      c.Segment.EndMs,
			DurationMs: c.Segment.DurationMs(),
			StartFrame: c.StartFrame,
			EndFrame:   c.EndFrame,
			Text:       c.Segment.Text,
			TokenIDs:   c.Segment.TokenIDs,
		})
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := e.store.Save(ctx, Key(req.RunID, req.JobID, ManifestFile), data, ContentTypeFromExt(".json")); err != nil {
		return nil, fmt.Errorf("save manifest: %w", err)
	}

	e.log.Debug().
		Str("run_id", req.RunID).
		Str("job_id", req.JobID).
		Int("clips", len(req.Clips)).
		Str("store", e.store.Type()).
		Msg("job exported")
	return m, nil
}

// EncodeWAV renders a slice as 16-bit PCM WAV. The encoder needs to seek, so
// it writes to a scratch file in tmpDir.
func EncodeWAV(tmpDir string, s extract.Slice) ([]byte, error) {
	f, err := os.CreateTemp(tmpDir, ".clip-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create scratch: %w", err)
	}
	name := f.Name()
	defer os.Remove(name)

	data := make([]int, len(s.Samples))
	for i, v := range s.Samples {
		data[i] = int(v)
	}
	enc := wav.NewEncoder(f, s.SampleRate, 16, s.Channels, 1)
	err = enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: s.Channels, SampleRate: s.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	})
	if err == nil {
		err = enc.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return os.ReadFile(name)
}
