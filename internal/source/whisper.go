package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/snarg/clip-engine/internal/pipeline"
	"github.com/snarg/clip-engine/internal/transcript"
)

// DefaultMaxUploadBytes is the transcription upload limit (250 MB).
const DefaultMaxUploadBytes = 250 * 1024 * 1024

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint
// (OpenAI, Groq, speaches, whisper.cpp server).
type WhisperClient struct {
	url      string
	apiKey   string
	model    string
	language string
	maxBytes int64
	client   *http.Client
}

// WhisperOptions configures a WhisperClient.
type WhisperOptions struct {
	URL      string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
	MaxBytes int64
}

// WhisperResponse is the verbose_json response body.
type WhisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []WhisperSegment `json:"segments"`
}

// WhisperSegment is a timed chunk of the transcription.
type WhisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// NewWhisperClient creates a new Whisper HTTP client.
func NewWhisperClient(opts WhisperOptions) *WhisperClient {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxUploadBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	return &WhisperClient{
		url:      opts.URL,
		apiKey:   opts.APIKey,
		model:    opts.Model,
		language: opts.Language,
		maxBytes: opts.MaxBytes,
		client:   &http.Client{Timeout: opts.Timeout},
	}
}

func (wc *WhisperClient) Name() string { return "whisper" }

// Model returns the configured model identifier.
func (wc *WhisperClient) Model() string { return wc.model }

// Transcribe uploads audioPath and returns the segments as SRT-arrow lines.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string) (*Transcript, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindTranscription, pipeline.Permanent, fmt.Errorf("stat audio file: %w", err))
	}
	if info.Size() > wc.maxBytes {
		return nil, pipeline.Errorf(pipeline.KindSizeLimit, pipeline.Permanent,
			"FileTooLarge: %s is %d MB, limit %d MB", filepath.Base(audioPath), info.Size()>>20, wc.maxBytes>>20)
	}

	resp, err := wc.request(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	return &Transcript{
		FormatHint: transcript.FormatSRTArrow,
		Lines:      SRTLines(resp),
		Origin:     wc.Name(),
		Language:   resp.Language,
	}, nil
}

func (wc *WhisperClient) request(ctx context.Context, audioPath string) (*WhisperResponse, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindTranscription, pipeline.Permanent, fmt.Errorf("open audio file: %w", err))
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindInternal, pipeline.Permanent, fmt.Errorf("create form file: %w", err))
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, pipeline.Wrap(pipeline.KindInternal, pipeline.Permanent, fmt.Errorf("copy audio data: %w", err))
	}

	if wc.model != "" {
		w.WriteField("model", wc.model)
	}
	if wc.language != "" {
		w.WriteField("language", wc.language)
	}
	w.WriteField("temperature", "0.00")
	w.WriteField("response_format", "verbose_json")
	w.WriteField("timestamp_granularities[]", "segment")
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, &buf)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindTranscription, pipeline.Permanent, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if wc.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+wc.apiKey)
	}

	resp, err := wc.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, pipeline.Wrap(pipeline.KindCancelled, pipeline.Permanent, err)
		}
		// timeouts and connection failures
		return nil, pipeline.Wrap(pipeline.KindTranscription, pipeline.Transient, fmt.Errorf("whisper request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindTranscription, pipeline.Transient, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	var result WhisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, pipeline.Wrap(pipeline.KindTranscription, pipeline.Permanent, fmt.Errorf("decode response: %w", err))
	}
	return &result, nil
}

func classifyStatus(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	err := fmt.Errorf("whisper API error (status %d): %s", status, msg)
	switch {
	case status == http.StatusTooManyRequests:
		return pipeline.Wrap(pipeline.KindRateLimited, pipeline.Transient, err)
	case status == http.StatusRequestTimeout || status >= 500:
		return pipeline.Wrap(pipeline.KindTranscription, pipeline.Transient, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pipeline.Wrap(pipeline.KindAuth, pipeline.Fatal, err)
	case status == http.StatusRequestEntityTooLarge:
		return pipeline.Wrap(pipeline.KindSizeLimit, pipeline.Permanent, err)
	}
	return pipeline.Wrap(pipeline.KindTranscription, pipeline.Permanent, err)
}

// SRTLines renders segments as SRT cues. A response with text but no
// segments becomes one cue spanning the reported duration.
func SRTLines(r *WhisperResponse) []string {
	segs := r.Segments
	if len(segs) == 0 && strings.TrimSpace(r.Text) != "" && r.Duration > 0 {
		segs = []WhisperSegment{{Start: 0, End: r.Duration, Text: r.Text}}
	}
	var lines []string
	n := 0
	for _, s := range segs {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		n++
		lines = append(lines,
			fmt.Sprint(n),
			transcript.FormatTimestamp(secondsToMs(s.Start))+" --> "+transcript.FormatTimestamp(secondsToMs(s.End)),
			text,
			"",
		)
	}
	return lines
}

func secondsToMs(s float64) int64 {
	if s <= 0 {
		return 0
	}
	return int64(s*1000 + 0.5)
}
