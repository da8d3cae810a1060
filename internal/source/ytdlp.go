package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/clip-engine/internal/pipeline"
	"github.com/snarg/clip-engine/internal/transcript"
)

// runFunc executes an external command and returns its stdout and stderr.
type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%v: %w", err, ctx.Err())
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

// YtDlp wraps the yt-dlp binary for captions, audio and playlist listing.
type YtDlp struct {
	path  string
	langs []string
	run   runFunc
	log   zerolog.Logger
}

// NewYtDlp creates a yt-dlp wrapper. langs orders the caption languages to
// try; manual captions are preferred over automatic ones.
func NewYtDlp(path string, langs []string, log zerolog.Logger) *YtDlp {
	if path == "" {
		path = "yt-dlp"
	}
	if len(langs) == 0 {
		langs = []string{"en"}
	}
	return &YtDlp{path: path, langs: langs, run: execRun, log: log}
}

// Check verifies the binary runs.
func (y *YtDlp) Check(ctx context.Context) (string, error) {
	out, stderr, err := y.run(ctx, y.path, "--version")
	if err != nil {
		return "", classifyTool("yt-dlp", pipeline.KindDownload, err, stderr)
	}
	return strings.TrimSpace(string(out)), nil
}

// Transcript downloads captions as SRT into workDir.
func (y *YtDlp) Transcript(ctx context.Context, videoID, workDir string) (*Transcript, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, pipeline.Wrap(pipeline.KindInternal, pipeline.Permanent, fmt.Errorf("mkdir %s: %w", workDir, err))
	}
	start := time.Now()
	args := []string{
		"--skip-download",
		"--write-subs", "--write-auto-subs",
		"--sub-langs", strings.Join(y.langs, ","),
		"--sub-format", "srt/vtt/best",
		"--convert-subs", "srt",
		"--no-progress",
		"-o", filepath.Join(workDir, "%(id)s.%(ext)s"),
		WatchURL(videoID),
	}
	_, stderr, err := y.run(ctx, y.path, args...)
	if err != nil {
		return nil, classifyTool("yt-dlp", pipeline.KindDownload, err, stderr)
	}

	path, lang := y.pickSubtitle(workDir, videoID)
	if path == "" {
		return nil, pipeline.Errorf(pipeline.KindNoTranscript, pipeline.Permanent, "no captions for %s in %v", videoID, y.langs)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindInternal, pipeline.Permanent, err)
	}
	y.log.Debug().Str("video_id", videoID).Str("file", filepath.Base(path)).Dur("elapsed", time.Since(start)).Msg("captions fetched")

	lines := strings.Split(strings.TrimPrefix(string(data), "\ufeff"), "\n")
	return &Transcript{
		FormatHint: transcript.FormatSRTArrow,
		Lines:      lines,
		Origin:     "captions",
		Language:   lang,
	}, nil
}

// pickSubtitle returns the first subtitle file matching the language order.
// yt-dlp names them <id>.<lang>.srt.
func (y *YtDlp) pickSubtitle(dir, id string) (string, string) {
	matches, _ := filepath.Glob(filepath.Join(dir, id+".*.srt"))
	sort.Strings(matches)
	for _, lang := range y.langs {
		for _, m := range matches {
			l := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), id+"."), ".srt")
			if l == lang || strings.HasPrefix(l, lang+"-") {
				return m, l
			}
		}
	}
	if len(matches) > 0 {
		m := matches[0]
		return m, strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), id+"."), ".srt")
	}
	return "", ""
}

// DownloadAudio fetches the best audio stream into workDir and returns its path.
func (y *YtDlp) DownloadAudio(ctx context.Context, videoID, workDir string) (string, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", pipeline.Wrap(pipeline.KindInternal, pipeline.Permanent, fmt.Errorf("mkdir %s: %w", workDir, err))
	}
	args := []string{
		"-f", "bestaudio/best",
		"--no-playlist",
		"--no-progress",
		"-o", filepath.Join(workDir, "%(id)s.%(ext)s"),
		"--print", "after_move:filepath",
		WatchURL(videoID),
	}
	out, stderr, err := y.run(ctx, y.path, args...)
	if err != nil {
		return "", classifyTool("yt-dlp", pipeline.KindDownload, err, stderr)
	}
	path := lastLine(out)
	if path == "" {
		return "", pipeline.Errorf(pipeline.KindDownload, pipeline.Transient, "yt-dlp printed no file path for %s", videoID)
	}
	return path, nil
}

type flatPlaylist struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Entries []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"entries"`
}

// List expands a playlist or channel with --flat-playlist. Entries without an
// id are skipped; untitled entries are named "Video N".
func (y *YtDlp) List(ctx context.Context, d Descriptor) ([]Entry, error) {
	target := d.ListURL
	if target == "" {
		target = d.Raw
	}
	out, stderr, err := y.run(ctx, y.path, "--flat-playlist", "-J", "--no-warnings", target)
	if err != nil {
		return nil, classifyTool("yt-dlp", pipeline.KindDownload, err, stderr)
	}

	var fp flatPlaylist
	if err := json.Unmarshal(jsonPart(out), &fp); err != nil {
		return nil, pipeline.Errorf(pipeline.KindDownload, pipeline.Permanent, "decode playlist json: %v", err)
	}

	var entries []Entry
	for i, e := range fp.Entries {
		if e.ID == "" {
			continue
		}
		title := e.Title
		if title == "" {
			title = fmt.Sprintf("Video %d", i+1)
		}
		entries = append(entries, Entry{ID: e.ID, Title: title, URL: WatchURL(e.ID), Index: i + 1})
	}
	if len(entries) == 0 {
		return nil, pipeline.Errorf(pipeline.KindNoTranscript, pipeline.Permanent, "no videos found in %s", target)
	}
	return entries, nil
}

// jsonPart drops any non-JSON lines yt-dlp mixes into stdout.
func jsonPart(out []byte) []byte {
	for _, line := range bytes.Split(out, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if bytes.HasPrefix(line, []byte("{")) {
			return line
		}
	}
	return bytes.TrimSpace(out)
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// classifyTool maps a failed external command to an error class using its
// exit status and stderr.
func classifyTool(tool string, kind pipeline.Kind, err error, stderr []byte) error {
	msg := strings.TrimSpace(string(stderr))
	if i := strings.LastIndex(msg, "ERROR:"); i >= 0 {
		msg = strings.TrimSpace(msg[i+len("ERROR:"):])
	}
	wrapped := fmt.Errorf("%s: %w: %s", tool, err, msg)

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return pipeline.Wrap(kind, pipeline.Fatal, wrapped)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pipeline.Wrap(pipeline.KindTimeout, pipeline.Transient, wrapped)
	}
	if errors.Is(err, context.Canceled) {
		return pipeline.Wrap(pipeline.KindCancelled, pipeline.Permanent, wrapped)
	}

	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "http error 429", "too many requests"):
		return pipeline.Wrap(pipeline.KindRateLimited, pipeline.Transient, wrapped)
	case containsAny(lower, "sign in to confirm your age", "age-restricted"):
		return pipeline.Wrap(kind, pipeline.Permanent, wrapped)
	case containsAny(lower, "sign in to confirm", "http error 401"):
		return pipeline.Wrap(pipeline.KindAuth, pipeline.Fatal, wrapped)
	case containsAny(lower, "video unavailable", "private video", "is not available", "has been removed",
		"unsupported url", "is not a valid url", "members-only", "http error 404"):
		return pipeline.Wrap(kind, pipeline.Permanent, wrapped)
	case containsAny(lower, "file is larger than max-filesize"):
		return pipeline.Wrap(pipeline.KindSizeLimit, pipeline.Permanent, wrapped)
	}
	// Network hiccups, 5xx and unknown failures are worth another attempt.
	return pipeline.Wrap(kind, pipeline.Transient, wrapped)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
