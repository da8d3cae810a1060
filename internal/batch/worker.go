package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/snarg/clip-engine/internal/metrics"
	"github.com/snarg/clip-engine/internal/pipeline"
	"github.com/snarg/clip-engine/internal/source"
	"github.com/snarg/clip-engine/internal/storage"
	"github.com/snarg/clip-engine/internal/transcript"
)

var pipelineStates = map[pipeline.Stage]State{
	pipeline.StageParsing:    StateParsing,
	pipeline.StageAligning:   StateAligning,
	pipeline.StageExtracting: StateExtracting,
}

func (o *Orchestrator) worker(id int) {
	defer o.wg.Done()
	log := o.log.With().Int("worker", id).Logger()

	for jobID := range o.queue {
		o.mu.Lock()
		e, ok := o.jobs[jobID]
		if ok {
			e.inQueue = false
		}
		o.mu.Unlock()
		if !ok || o.shutdown.Err() != nil {
			// left Queued for Resume
			continue
		}

		o.active.Add(1)
		o.runJob(log, jobID)
		o.active.Add(-1)
	}
}

// runJob drives one job to a terminal state, retrying transient failures
// with exponential backoff.
func (o *Orchestrator) runJob(log zerolog.Logger, id string) {
	o.mu.RLock()
	e := o.jobs[id]
	j := e.job
	rs := o.runs[j.RunID]
	o.mu.RUnlock()
	if j.State.Terminal() || rs == nil {
		return
	}
	log = log.With().Str("job_id", id).Str("run_id", j.RunID).Str("video_id", j.VideoID).Logger()

	// jctx ends when the run is cancelled or the orchestrator stops. It only
	// bounds backoff waits; stage work runs on o.ctx.
	jctx, jcancel := context.WithCancel(rs.ctx)
	defer jcancel()
	stop := context.AfterFunc(o.shutdown, jcancel)
	defer stop()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.opts.RetryBaseDelay
	b.MaxInterval = o.opts.RetryMaxDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.opts.MaxAttempts-1)), jctx)

	workDir := filepath.Join(o.opts.WorkDir, id)
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := o.attempt(log, rs, id, attempt, workDir)
		if err == nil || pipeline.ClassOf(err) == pipeline.Transient {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		o.retries.Add(1)
		metrics.JobRetriesTotal.WithLabelValues(string(pipeline.KindOf(err))).Inc()
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("transient failure, retrying")
	})

	switch {
	case err == nil:
		o.cleanup(workDir)
	case errors.Is(err, errShutdown) || o.shutdown.Err() != nil && errors.Is(err, context.Canceled):
		log.Info().Msg("job interrupted by shutdown; resume the run to continue")
	case rs.ctx.Err() != nil && errors.Is(err, context.Canceled):
		// cancelled while waiting to retry
		o.fail(id, cancelError(rs.ctx))
		o.cleanup(workDir)
	default:
		o.fail(id, err)
		o.cleanup(workDir)
		if pipeline.ClassOf(err) == pipeline.Fatal {
			o.halt(rs, err)
		}
	}
}

// attempt runs every stage once.
func (o *Orchestrator) attempt(log zerolog.Logger, rs *runState, id string, n int, workDir string) error {
	o.update(id, func(j *Job) {
		j.Attempts = n
		j.RetryCount = n - 1
	})
	if err := o.advance(rs, id, StateDownloading); err != nil {
		return err
	}
	j, err := o.Status(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return pipeline.Wrap(pipeline.KindInternal, pipeline.Fatal, err)
	}

	tr, au, err := o.fetch(log, j.VideoID, workDir)
	if err != nil {
		return err
	}
	o.update(id, func(j *Job) { j.TranscriptOrigin = tr.Origin })

	hook := func(s pipeline.Stage) error { return o.advance(rs, id, pipelineStates[s]) }
	out, err := pipeline.Run(log.WithContext(o.ctx), pipeline.Input{
		Lines:      transcript.LinesFrom(tr.Lines),
		FormatHint: tr.FormatHint,
		Track:      au.Track,
		Policy:     o.opts.Policy,
	}, hook)
	if out != nil {
		o.update(id, func(j *Job) {
			j.ParseWarnings = len(out.ParseErrors)
			j.AlignWarnings = len(out.Warnings)
		})
		metrics.ParseWarningsTotal.WithLabelValues("parse").Add(float64(len(out.ParseErrors)))
		metrics.ParseWarningsTotal.WithLabelValues("alignment").Add(float64(len(out.Warnings)))
	}
	if err != nil {
		return err
	}

	if err := o.advance(rs, id, StateExporting); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(o.ctx, o.opts.StageTimeout)
	m, err := o.opts.Exporter.Export(ctx, storage.ExportRequest{
		RunID:            j.RunID,
		JobID:            j.ID,
		SourceURL:        j.SourceURL,
		VideoID:          j.VideoID,
		Title:            j.Title,
		TranscriptOrigin: tr.Origin,
		Format:           out.Format,
		Policy:           o.opts.Policy,
		DurationMs:       au.Track.DurationMs,
		Clips:            out.Clips,
		ParseErrors:      out.ParseErrors,
		Warnings:         out.Warnings,
	})
	cancel()
	if err != nil {
		var pe *pipeline.Error
		if errors.As(err, &pe) {
			return err
		}
		return pipeline.Wrap(pipeline.KindExport, pipeline.Transient, err)
	}
	metrics.SegmentsExportedTotal.Add(float64(len(m.Segments)))
	if rs.ctx.Err() != nil {
		return cancelError(rs.ctx)
	}

	done, ok := o.transition(id, StateDone, func(j *Job) {
		j.Segments = len(m.Segments)
		j.Error, j.ErrorKind, j.ErrorClass = "", "", ""
	})
	if ok {
		o.completed.Add(1)
		metrics.JobsFinishedTotal.WithLabelValues(string(StateDone), "").Inc()
		log.Info().
			Int("segments", done.Segments).
			Int("warnings", done.WarningCount()).
			Int("retry_count", done.RetryCount).
			Str("transcript", done.TranscriptOrigin).
			Msg("job done")
		o.checkRunFinished(done.RunID)
	}
	return nil
}

// advance is the stage boundary: shutdown and run cancellation are checked
// here and nowhere else.
func (o *Orchestrator) advance(rs *runState, id string, to State) error {
	if o.shutdown.Err() != nil {
		return errShutdown
	}
	if rs.ctx.Err() != nil {
		return cancelError(rs.ctx)
	}
	if _, ok := o.transition(id, to, nil); !ok {
		o.mu.RLock()
		cur := o.jobs[id].job.State
		o.mu.RUnlock()
		if cur.Terminal() {
			return cancelError(rs.ctx)
		}
	}
	return nil
}

// fetch gets captions and audio, falling back to the transcriber when the
// video has no captions. Each external call gets its own timeout.
func (o *Orchestrator) fetch(log zerolog.Logger, videoID, workDir string) (*source.Transcript, *source.Audio, error) {
	var tr *source.Transcript
	terr := o.call(func(ctx context.Context) (err error) {
		tr, err = o.opts.Transcripts.Transcript(ctx, videoID, workDir)
		return err
	})
	fallback := terr != nil && pipeline.KindOf(terr) == pipeline.KindNoTranscript && o.opts.Transcriber != nil
	if terr != nil && !fallback {
		return nil, nil, terr
	}

	var au *source.Audio
	if err := o.call(func(ctx context.Context) (err error) {
		au, err = o.opts.Audio.Audio(ctx, videoID, workDir)
		return err
	}); err != nil {
		return nil, nil, err
	}

	if fallback {
		log.Info().Str("transcriber", o.opts.Transcriber.Name()).Msg("no captions, transcribing audio")
		if err := o.call(func(ctx context.Context) (err error) {
			tr, err = o.opts.Transcriber.Transcribe(ctx, au.DownloadPath)
			return err
		}); err != nil {
			return nil, nil, err
		}
	}
	return tr, au, nil
}

func (o *Orchestrator) call(fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(o.ctx, o.opts.StageTimeout)
	defer cancel()
	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		var pe *pipeline.Error
		if !errors.As(err, &pe) {
			return pipeline.ContextError(ctx.Err())
		}
	}
	return err
}

func (o *Orchestrator) cleanup(workDir string) {
	if o.opts.KeepWorkFiles {
		return
	}
	if err := os.RemoveAll(workDir); err != nil {
		o.log.Warn().Err(err).Str("dir", workDir).Msg("failed to remove work dir")
	}
}

func sortRuns(runs []Run) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.Before(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}
