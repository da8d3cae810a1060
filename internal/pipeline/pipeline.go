// Package pipeline runs the parse, align and extract stages for a single job.
package pipeline

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/snarg/clip-engine/internal/align"
	"github.com/snarg/clip-engine/internal/extract"
	"github.com/snarg/clip-engine/internal/transcript"
)

// Stage identifies a pipeline stage.
type Stage string

const (
	StageParsing    Stage = "parsing"
	StageAligning   Stage = "aligning"
	StageExtracting Stage = "extracting"
)

// StageHook is called before each stage starts. A non-nil return stops the
// run and is returned as-is. Stages themselves are never interrupted.
type StageHook func(Stage) error

// Input is everything one pipeline run needs. Lines and Track are borrowed.
type Input struct {
	Lines      []transcript.Line
	FormatHint transcript.Format
	Track      *extract.AudioTrack
	Policy     extract.Policy
}

// Output is owned by the caller once Run returns.
type Output struct {
	Format      transcript.Format
	TokenCount  int
	ParseErrors []*transcript.ParseError
	Warnings    []align.Warning
	Clips       []extract.Clip
}

// WarningCount is the number of recoverable problems recorded during the run.
func (o *Output) WarningCount() int {
	if o == nil {
		return 0
	}
	return len(o.ParseErrors) + len(o.Warnings)
}

// Run executes parse, align and extract in order. On failure the partial
// Output is still returned so the caller can report what was recorded.
// The context logger (zerolog.Ctx) receives per-line diagnostics at debug.
func Run(ctx context.Context, in Input, hook StageHook) (*Output, error) {
	log := zerolog.Ctx(ctx)
	out := &Output{}

	if err := boundary(ctx, hook, StageParsing); err != nil {
		return out, err
	}
	parsed, err := transcript.Parse(in.Lines, in.FormatHint)
	if parsed != nil {
		out.Format = parsed.Format
		out.TokenCount = len(parsed.Tokens)
		out.ParseErrors = parsed.Errors
		for _, pe := range parsed.Errors {
			log.Debug().Int("line", pe.Line).Str("reason", pe.Reason).Msg("transcript line skipped")
		}
	}
	if err != nil {
		if errors.Is(err, transcript.ErrNoTimestampsFound) {
			return out, Wrap(KindNoTimestamps, Permanent, err)
		}
		return out, Wrap(KindInternal, Permanent, err)
	}

	if err := boundary(ctx, hook, StageAligning); err != nil {
		return out, err
	}
	if in.Track == nil {
		return out, Errorf(KindExtraction, Permanent, "no audio track")
	}
	aligned, err := align.Align(parsed.Tokens, in.Track.DurationMs)
	if aligned != nil {
		out.Warnings = aligned.Warnings
		for _, w := range aligned.Warnings {
			log.Debug().Int("token", w.TokenID).Int("line", w.SourceLine).Str("reason", w.Reason).Msg("token dropped during alignment")
		}
	}
	if err != nil {
		return out, Wrap(KindAlignment, Permanent, err)
	}

	if err := boundary(ctx, hook, StageExtracting); err != nil {
		return out, err
	}
	clips, err := extract.Extract(aligned.Segments, in.Track, in.Policy)
	if err != nil {
		return out, Wrap(KindExtraction, Permanent, err)
	}
	out.Clips = clips

	log.Debug().
		Str("format", out.Format.String()).
		Int("tokens", out.TokenCount).
		Int("segments", len(aligned.Segments)).
		Int("clips", len(clips)).
		Int("warnings", out.WarningCount()).
		Msg("pipeline complete")
	return out, nil
}

func boundary(ctx context.Context, hook StageHook, s Stage) error {
	if err := ctx.Err(); err != nil {
		return ContextError(err)
	}
	if hook != nil {
		return hook(s)
	}
	return nil
}
