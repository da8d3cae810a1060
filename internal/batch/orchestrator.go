package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/clip-engine/internal/events"
	"github.com/snarg/clip-engine/internal/extract"
	"github.com/snarg/clip-engine/internal/metrics"
	"github.com/snarg/clip-engine/internal/pipeline"
	"github.com/snarg/clip-engine/internal/source"
	"github.com/snarg/clip-engine/internal/storage"
)

// Exporter packages a finished job's clips.
type Exporter interface {
	Export(ctx context.Context, req storage.ExportRequest) (*storage.Manifest, error)
}

// PublishFunc receives every job and run lifecycle event.
type PublishFunc func(events.Data)

// Options configures the orchestrator.
type Options struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	StageTimeout   time.Duration // per external call
	Policy         extract.Policy
	WorkDir        string
	KeepWorkFiles  bool

	Transcripts source.TranscriptProvider
	Audio       source.AudioProvider
	Transcriber source.Transcriber // optional fallback when a video has no captions
	Lister      source.Lister      // optional, needed for playlist and channel URLs
	Exporter    Exporter
	Store       JobStore // optional
	Publish     PublishFunc
	Log         zerolog.Logger
}

// Orchestrator owns the job queue, the workers and all job state. A job's
// state is written only by the worker that dequeued it (or by the
// orchestrator while the job sits in the queue); readers get copies.
type Orchestrator struct {
	opts       Options
	queue      chan string
	log        zerolog.Logger
	ctx        context.Context // stage work; outlives run cancellation
	cancel     context.CancelFunc
	shutdown   context.Context // closed by Stop
	shutdownFn context.CancelFunc
	wg         sync.WaitGroup
	persist    *Batcher[Job]
	defaultMu  sync.Mutex
	sendMu     sync.Mutex // serializes sends on queue and its close

	mu         sync.RWMutex
	jobs       map[string]*entry
	runs       map[string]*runState
	defaultRun string
	stopped    bool

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retries   atomic.Int64
}

type entry struct {
	job       Job
	inQueue   bool
	enteredAt time.Time // start of the current state
}

type runState struct {
	run    Run
	jobIDs []string
	ctx    context.Context
	cancel context.CancelCauseFunc
}

var (
	errRunCancelled = errors.New("run cancelled")
	errShutdown     = errors.New("orchestrator shutting down")
)

// New validates opts and builds an orchestrator. Call Start to launch workers.
func New(opts Options) (*Orchestrator, error) {
	if opts.Transcripts == nil || opts.Audio == nil || opts.Exporter == nil {
		return nil, errors.New("batch: transcript provider, audio provider and exporter are required")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 100
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.RetryMaxDelay < opts.RetryBaseDelay {
		opts.RetryMaxDelay = opts.RetryBaseDelay
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 10 * time.Minute
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "clip-engine")
	}
	if opts.Policy == (extract.Policy{}) {
		opts.Policy = extract.DefaultPolicy
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	shutdown, shutdownFn := context.WithCancel(context.Background())
	o := &Orchestrator{
		opts:       opts,
		queue:      make(chan string, opts.QueueSize),
		log:        opts.Log.With().Str("component", "orchestrator").Logger(),
		ctx:        ctx,
		cancel:     cancel,
		shutdown:   shutdown,
		shutdownFn: shutdownFn,
		jobs:       make(map[string]*entry),
		runs:       make(map[string]*runState),
	}
	if opts.Store != nil {
		o.persist = NewBatcher[Job](50, time.Second, o.saveJobs)
	}
	return o, nil
}

// Start launches the worker goroutines.
func (o *Orchestrator) Start() {
	for i := 0; i < o.opts.Workers; i++ {
		o.wg.Add(1)
		go o.worker(i)
	}
	o.log.Info().
		Int("workers", o.opts.Workers).
		Int("queue_size", o.opts.QueueSize).
		Int("max_attempts", o.opts.MaxAttempts).
		Msg("orchestrator started")
}

// Stop stops accepting work, lets in-flight stages finish, and leaves
// unfinished jobs in their current state for Resume.
func (o *Orchestrator) Stop() {
	o.shutdownFn()
	o.sendMu.Lock()
	o.mu.Lock()
	if !o.stopped {
		o.stopped = true
		close(o.queue)
	}
	o.mu.Unlock()
	o.sendMu.Unlock()
	o.wg.Wait()
	o.cancel()
	if o.persist != nil {
		o.persist.Stop()
	}
	o.log.Info().
		Int64("completed", o.completed.Load()).
		Int64("failed", o.failed.Load()).
		Int64("retries", o.retries.Load()).
		Msg("orchestrator stopped")
}

// Stats returns current queue statistics.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Pending:   len(o.queue),
		Active:    int(o.active.Load()),
		Completed: o.completed.Load(),
		Failed:    o.failed.Load(),
		Retries:   o.retries.Load(),
	}
}

// QueueDepth and ActiveJobs feed the metrics collector.
func (o *Orchestrator) QueueDepth() int { return len(o.queue) }
func (o *Orchestrator) ActiveJobs() int { return int(o.active.Load()) }

// Workers returns the number of worker goroutines.
func (o *Orchestrator) Workers() int { return o.opts.Workers }

// ── Runs ──────────────────────────────────────────────────────────────

// NewRun creates an empty active run.
func (o *Orchestrator) NewRun(ctx context.Context, name string) (Run, error) {
	now := time.Now().UTC()
	r := Run{ID: uuid.NewString(), Name: name, Status: RunActive, CreatedAt: now, UpdatedAt: now}
	o.mu.Lock()
	o.runs[r.ID] = o.openRun(r, nil)
	o.mu.Unlock()

	if err := o.saveRun(ctx, r); err != nil {
		return r, err
	}
	o.publishRun(r, "created")
	o.log.Info().Str("run_id", r.ID).Str("name", name).Msg("run created")
	return r, nil
}

func (o *Orchestrator) openRun(r Run, jobIDs []string) *runState {
	rctx, cancel := context.WithCancelCause(context.Background())
	return &runState{run: r, jobIDs: jobIDs, ctx: rctx, cancel: cancel}
}

// resolveRun returns the run for id. For "" it returns the default run,
// starting a new one if the current default was cancelled or halted.
func (o *Orchestrator) resolveRun(ctx context.Context, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	o.defaultMu.Lock()
	defer o.defaultMu.Unlock()

	o.mu.RLock()
	rs, ok := o.runs[o.defaultRun]
	active := ok && rs.run.Status == RunActive
	o.mu.RUnlock()
	if active {
		return rs.run.ID, nil
	}
	r, err := o.NewRun(ctx, "default")
	if err != nil {
		return "", err
	}
	o.mu.Lock()
	o.defaultRun = r.ID
	o.mu.Unlock()
	return r.ID, nil
}

// RunStatus reports a run and its jobs.
func (o *Orchestrator) RunStatus(runID string) (RunReport, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rs, ok := o.runs[runID]
	if !ok {
		return RunReport{}, ErrUnknownRun
	}
	return newReport(rs.run, o.snapshotsLocked(rs.jobIDs)), nil
}

// Runs lists known runs, oldest first.
func (o *Orchestrator) Runs() []Run {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Run, 0, len(o.runs))
	for _, rs := range o.runs {
		out = append(out, rs.run)
	}
	sortRuns(out)
	return out
}

// CancelRun stops a run. Queued jobs fail immediately; jobs owned by a worker
// finish their current stage and then fail with kind "cancelled".
func (o *Orchestrator) CancelRun(ctx context.Context, runID string) error {
	o.mu.Lock()
	rs, ok := o.runs[runID]
	if !ok {
		o.mu.Unlock()
		return ErrUnknownRun
	}
	if rs.run.Status != RunActive {
		o.mu.Unlock()
		return nil
	}
	rs.run.Status = RunCancelled
	rs.run.UpdatedAt = time.Now().UTC()
	rs.cancel(errRunCancelled)
	run := rs.run

	var failed []Job
	cerr := cancelError(rs.ctx)
	for _, id := range rs.jobIDs {
		e := o.jobs[id]
		if e != nil && e.job.State == StateQueued {
			if j, ok := o.failLocked(e, cerr); ok {
				failed = append(failed, j)
			}
		}
	}
	o.mu.Unlock()

	for _, j := range failed {
		o.afterFail(j, cerr)
	}
	metrics.RunsHaltedTotal.WithLabelValues("cancelled").Inc()
	o.publishRun(run, "cancelled")
	o.log.Info().Str("run_id", runID).Int("queued_failed", len(failed)).Msg("run cancelled")
	return o.saveRun(ctx, run)
}

// halt stops a run after a fatal error.
func (o *Orchestrator) halt(rs *runState, cause error) {
	o.mu.Lock()
	if rs.run.Status != RunActive {
		o.mu.Unlock()
		return
	}
	rs.run.Status = RunHalted
	rs.run.HaltReason = cause.Error()
	rs.run.UpdatedAt = time.Now().UTC()
	rs.cancel(fmt.Errorf("run halted: %w", cause))
	run := rs.run

	var failed []Job
	cerr := cancelError(rs.ctx)
	for _, id := range rs.jobIDs {
		if e := o.jobs[id]; e != nil && e.job.State == StateQueued {
			if j, ok := o.failLocked(e, cerr); ok {
				failed = append(failed, j)
			}
		}
	}
	o.mu.Unlock()

	for _, j := range failed {
		o.afterFail(j, cerr)
	}
	metrics.RunsHaltedTotal.WithLabelValues("fatal").Inc()
	o.publishRun(run, "halted")
	o.log.Error().Err(cause).Str("run_id", run.ID).Msg("fatal error, run halted")
	if err := o.saveRun(context.Background(), run); err != nil {
		o.log.Warn().Err(err).Str("run_id", run.ID).Msg("failed to persist halted run")
	}
}

// Resume restarts a run. A run unknown to this process is loaded from the
// JobStore: Done and Failed jobs are kept as-is, every other job is reset to
// Queued. A cancelled or halted run is reopened. Queued jobs that are not in
// the queue are enqueued again.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (RunReport, error) {
	o.mu.RLock()
	_, known := o.runs[runID]
	o.mu.RUnlock()
	if !known {
		if err := o.load(ctx, runID); err != nil {
			return RunReport{}, err
		}
	}

	o.mu.Lock()
	rs := o.runs[runID]
	reopened := false
	if rs.run.Status != RunActive {
		r := rs.run
		r.Status = RunActive
		r.HaltReason = ""
		r.UpdatedAt = time.Now().UTC()
		rs = o.openRun(r, append([]string(nil), rs.jobIDs...))
		o.runs[runID] = rs
		reopened = true
	}
	run := rs.run
	var pending []string
	for _, id := range rs.jobIDs {
		if e := o.jobs[id]; e != nil && e.job.State == StateQueued && !e.inQueue {
			pending = append(pending, id)
		}
	}
	o.mu.Unlock()

	if reopened {
		if err := o.saveRun(ctx, run); err != nil {
			return RunReport{}, err
		}
		o.publishRun(run, "resumed")
	}

	var qerr error
	enqueued := 0
	for _, id := range pending {
		if err := o.enqueue(id); err != nil {
			qerr = err
			break
		}
		enqueued++
	}
	o.log.Info().Str("run_id", runID).Bool("reopened", reopened).Int("enqueued", enqueued).Msg("run resumed")

	rep, err := o.RunStatus(runID)
	if err != nil {
		return rep, err
	}
	return rep, qerr
}

// load registers a persisted run, resetting unfinished jobs to Queued.
func (o *Orchestrator) load(ctx context.Context, runID string) error {
	if o.opts.Store == nil {
		return ErrUnknownRun
	}
	r, err := o.opts.Store.LoadRun(ctx, runID)
	if err != nil {
		return err
	}
	jobs, err := o.opts.Store.LoadJobs(ctx, runID)
	if err != nil {
		return err
	}

	var reset []Job
	o.mu.Lock()
	if _, ok := o.runs[runID]; ok {
		o.mu.Unlock()
		return nil
	}
	ids := make([]string, 0, len(jobs))
	now := time.Now().UTC()
	for _, j := range jobs {
		if !j.State.Terminal() && j.State != StateQueued {
			j.State = StateQueued
			j.Progress = stateProgress[StateQueued]
			j.Version++
			j.UpdatedAt = now
			reset = append(reset, j)
		}
		o.jobs[j.ID] = &entry{job: j, enteredAt: now}
		ids = append(ids, j.ID)
	}
	o.runs[runID] = o.openRun(*r, ids)
	o.mu.Unlock()

	for _, j := range reset {
		o.persistJob(j)
	}
	o.log.Info().Str("run_id", runID).Int("jobs", len(jobs)).Int("reset", len(reset)).Msg("run loaded from store")
	return nil
}

// ── Jobs ──────────────────────────────────────────────────────────────

// Submit queues one video on the default run.
func (o *Orchestrator) Submit(ctx context.Context, d source.Descriptor) (string, error) {
	return o.SubmitTo(ctx, "", d)
}

// SubmitTo queues one video on the given run ("" for the default run).
func (o *Orchestrator) SubmitTo(ctx context.Context, runID string, d source.Descriptor) (string, error) {
	if d.Kind != source.KindVideo || d.VideoID == "" {
		return "", pipeline.Errorf(pipeline.KindMalformedURL, pipeline.Permanent, "%q is not a single video", d.Raw)
	}
	runID, err := o.resolveRun(ctx, runID)
	if err != nil {
		return "", err
	}
	j, err := o.add(runID, d.VideoID, sourceURL(d), "", "")
	if err != nil {
		return "", err
	}
	metrics.JobsSubmittedTotal.WithLabelValues(string(d.Kind)).Inc()
	return j.ID, nil
}

// SubmitURL parses raw and queues one job per video. Playlist and channel
// URLs are expanded through the Lister. On ErrQueueFull the ids queued so far
// are returned with the error.
func (o *Orchestrator) SubmitURL(ctx context.Context, runID, raw string) ([]string, error) {
	d, err := source.ParseURL(raw)
	if err != nil {
		return nil, err
	}
	if d.Kind == source.KindVideo {
		id, err := o.SubmitTo(ctx, runID, d)
		if err != nil {
			return nil, err
		}
		return []string{id}, nil
	}

	if o.opts.Lister == nil {
		return nil, pipeline.Errorf(pipeline.KindMalformedURL, pipeline.Permanent, "%s URLs are not supported without a lister", d.Kind)
	}
	lctx, cancel := context.WithTimeout(ctx, o.opts.StageTimeout)
	entries, err := o.opts.Lister.List(lctx, d)
	cancel()
	if err != nil {
		return nil, err
	}
	runID, err = o.resolveRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		j, err := o.add(runID, e.ID, source.WatchURL(e.ID), e.Title, "")
		if err != nil {
			return ids, err
		}
		ids = append(ids, j.ID)
	}
	metrics.JobsSubmittedTotal.WithLabelValues(string(d.Kind)).Add(float64(len(ids)))
	o.log.Info().Str("run_id", runID).Str("kind", string(d.Kind)).Int("jobs", len(ids)).Msg("list expanded")
	return ids, nil
}

// Requeue creates a new Queued job for a Failed one in the same run. The
// failed job is left untouched. A job known only to the JobStore has its run
// loaded first, so requeueing works across restarts.
func (o *Orchestrator) Requeue(ctx context.Context, jobID string) (string, error) {
	o.mu.RLock()
	e, ok := o.jobs[jobID]
	var old Job
	if ok {
		old = e.job
	}
	o.mu.RUnlock()
	if !ok {
		var err error
		if old, err = o.loadJob(ctx, jobID); err != nil {
			return "", err
		}
	}
	if old.State != StateFailed {
		return "", ErrNotFailed
	}
	j, err := o.add(old.RunID, old.VideoID, old.SourceURL, old.Title, old.ID)
	if err != nil {
		return "", err
	}
	o.log.Info().Str("job_id", j.ID).Str("requeued_from", old.ID).Msg("job requeued")
	return j.ID, nil
}

// loadJob brings a persisted job's run back into memory. An active run
// also gets its leftover queued jobs enqueued, as Resume would.
func (o *Orchestrator) loadJob(ctx context.Context, jobID string) (Job, error) {
	if o.opts.Store == nil {
		return Job{}, ErrUnknownJob
	}
	stored, err := o.opts.Store.LoadJob(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if err := o.load(ctx, stored.RunID); err != nil {
		return Job{}, err
	}

	o.mu.RLock()
	rs := o.runs[stored.RunID]
	active := rs.run.Status == RunActive
	var pending []string
	for _, id := range rs.jobIDs {
		if e := o.jobs[id]; e != nil && e.job.State == StateQueued && !e.inQueue {
			pending = append(pending, id)
		}
	}
	e, ok := o.jobs[jobID]
	var j Job
	if ok {
		j = e.job
	}
	o.mu.RUnlock()
	if !ok {
		return Job{}, ErrUnknownJob
	}
	if active {
		for _, id := range pending {
			if err := o.enqueue(id); err != nil {
				o.log.Warn().Err(err).Str("run_id", stored.RunID).Msg("leftover job not enqueued")
				break
			}
		}
	}
	return j, nil
}

// Status returns a snapshot of the job.
func (o *Orchestrator) Status(jobID string) (Job, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.jobs[jobID]
	if !ok {
		return Job{}, ErrUnknownJob
	}
	return e.job.clone(), nil
}

// WaitRun blocks until every job of the run is terminal or ctx ends.
func (o *Orchestrator) WaitRun(ctx context.Context, runID string) (RunReport, error) {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		rep, err := o.RunStatus(runID)
		if err != nil || rep.Finished {
			return rep, err
		}
		select {
		case <-ctx.Done():
			return rep, ctx.Err()
		case <-ticker.C:
		}
	}
}

// add registers a job and queues it. Only holders of sendMu send on the
// queue, so the capacity check cannot go stale before the send.
func (o *Orchestrator) add(runID, videoID, url, title, requeuedFrom string) (Job, error) {
	now := time.Now().UTC()
	j := Job{
		ID:           uuid.NewString(),
		RunID:        runID,
		SourceURL:    url,
		VideoID:      videoID,
		Title:        title,
		State:        StateQueued,
		RequeuedFrom: requeuedFrom,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	o.sendMu.Lock()
	defer o.sendMu.Unlock()

	o.mu.Lock()
	rs, ok := o.runs[runID]
	switch {
	case !ok:
		o.mu.Unlock()
		return Job{}, ErrUnknownRun
	case rs.run.Status != RunActive:
		o.mu.Unlock()
		return Job{}, ErrRunClosed
	case o.stopped:
		o.mu.Unlock()
		return Job{}, ErrStopped
	case len(o.queue) >= cap(o.queue):
		o.mu.Unlock()
		return Job{}, ErrQueueFull
	}
	o.jobs[j.ID] = &entry{job: j, inQueue: true, enteredAt: now}
	rs.jobIDs = append(rs.jobIDs, j.ID)
	o.mu.Unlock()

	// The queued event goes out before any worker can see the job.
	o.persistJob(j)
	o.publishJob(j)
	o.queue <- j.ID
	return j, nil
}

func (o *Orchestrator) enqueue(id string) error {
	o.sendMu.Lock()
	defer o.sendMu.Unlock()

	o.mu.Lock()
	e, ok := o.jobs[id]
	switch {
	case o.stopped:
		o.mu.Unlock()
		return ErrStopped
	case !ok:
		o.mu.Unlock()
		return ErrUnknownJob
	case len(o.queue) >= cap(o.queue):
		o.mu.Unlock()
		return ErrQueueFull
	}
	e.inQueue = true
	o.mu.Unlock()
	o.queue <- id
	return nil
}

// ── State updates ─────────────────────────────────────────────────────

// transition moves a job to a new state. It returns false when the move is
// not allowed (the job is terminal or the step is out of order).
func (o *Orchestrator) transition(id string, to State, mutate func(*Job)) (Job, bool) {
	o.mu.Lock()
	e, ok := o.jobs[id]
	if !ok || !canTransition(e.job.State, to) {
		o.mu.Unlock()
		return Job{}, false
	}
	now := time.Now()
	metrics.StageDuration.WithLabelValues(string(e.job.State)).Observe(now.Sub(e.enteredAt).Seconds())
	e.enteredAt = now
	e.job.State = to
	e.job.Progress = stateProgress[to]
	if to == StateDownloading && e.job.StartedAt == nil {
		t := now.UTC()
		e.job.StartedAt = &t
	}
	if to.Terminal() {
		t := now.UTC()
		e.job.FinishedAt = &t
	}
	if mutate != nil {
		mutate(&e.job)
	}
	e.job.Version++
	e.job.UpdatedAt = now.UTC()
	j := e.job.clone()
	o.mu.Unlock()

	o.persistJob(j)
	o.publishJob(j)
	return j, true
}

// update changes fields without a state transition.
func (o *Orchestrator) update(id string, mutate func(*Job)) {
	o.mu.Lock()
	e, ok := o.jobs[id]
	if !ok || e.job.State.Terminal() {
		o.mu.Unlock()
		return
	}
	mutate(&e.job)
	e.job.Version++
	e.job.UpdatedAt = time.Now().UTC()
	j := e.job.clone()
	o.mu.Unlock()
	o.persistJob(j)
}

func (o *Orchestrator) failLocked(e *entry, err error) (Job, bool) {
	if !canTransition(e.job.State, StateFailed) {
		return Job{}, false
	}
	now := time.Now()
	e.enteredAt = now
	e.job.State = StateFailed
	e.job.Error = err.Error()
	e.job.ErrorKind = string(pipeline.KindOf(err))
	e.job.ErrorClass = pipeline.ClassOf(err).String()
	t := now.UTC()
	e.job.FinishedAt = &t
	e.job.Version++
	e.job.UpdatedAt = t
	return e.job.clone(), true
}

func (o *Orchestrator) fail(id string, err error) {
	o.mu.Lock()
	e, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	j, applied := o.failLocked(e, err)
	o.mu.Unlock()
	if applied {
		o.afterFail(j, err)
	}
}

func (o *Orchestrator) afterFail(j Job, err error) {
	o.failed.Add(1)
	metrics.JobsFinishedTotal.WithLabelValues(string(StateFailed), j.ErrorKind).Inc()
	o.persistJob(j)
	o.publishJob(j)
	o.log.Warn().Err(err).
		Str("job_id", j.ID).
		Str("run_id", j.RunID).
		Str("error_kind", j.ErrorKind).
		Str("error_class", j.ErrorClass).
		Int("retry_count", j.RetryCount).
		Int("warnings", j.WarningCount()).
		Msg("job failed")
	o.checkRunFinished(j.RunID)
}

func (o *Orchestrator) checkRunFinished(runID string) {
	rep, err := o.RunStatus(runID)
	if err != nil || !rep.Finished {
		return
	}
	o.publishRun(rep.Run, "finished")
	o.log.Info().
		Str("run_id", runID).
		Int("done", rep.Counts[StateDone]).
		Int("failed", rep.Counts[StateFailed]).
		Msg("run finished")
}

func (o *Orchestrator) snapshotsLocked(ids []string) []Job {
	out := make([]Job, 0, len(ids))
	for _, id := range ids {
		if e, ok := o.jobs[id]; ok {
			out = append(out, e.job.clone())
		}
	}
	return out
}

// ── Persistence and events ────────────────────────────────────────────

func (o *Orchestrator) persistJob(j Job) {
	if o.persist != nil {
		o.persist.Add(j)
	}
}

// saveJobs keeps only the newest snapshot per job in a batch.
func (o *Orchestrator) saveJobs(batch []Job) {
	latest := make(map[string]int, len(batch))
	var jobs []Job
	for _, j := range batch {
		if i, ok := latest[j.ID]; ok {
			if j.Version > jobs[i].Version {
				jobs[i] = j
			}
			continue
		}
		latest[j.ID] = len(jobs)
		jobs = append(jobs, j)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.opts.Store.SaveJobs(ctx, jobs); err != nil {
		o.log.Error().Err(err).Int("jobs", len(jobs)).Msg("failed to persist job snapshots")
	}
}

func (o *Orchestrator) saveRun(ctx context.Context, r Run) error {
	if o.opts.Store == nil {
		return nil
	}
	if err := o.opts.Store.SaveRun(ctx, r); err != nil {
		return fmt.Errorf("persist run %s: %w", r.ID, err)
	}
	return nil
}

// FlushStore writes pending job snapshots now.
func (o *Orchestrator) FlushStore() {
	if o.persist != nil {
		o.persist.Flush()
	}
}

func (o *Orchestrator) publishJob(j Job) {
	if o.opts.Publish == nil {
		return
	}
	o.opts.Publish(events.Data{
		Type:    events.TypeJob,
		SubType: string(j.State),
		RunID:   j.RunID,
		JobID:   j.ID,
		Payload: j,
	})
}

func (o *Orchestrator) publishRun(r Run, what string) {
	if o.opts.Publish == nil {
		return
	}
	o.opts.Publish(events.Data{
		Type:    events.TypeRun,
		SubType: what,
		RunID:   r.ID,
		Payload: r,
	})
}

func sourceURL(d source.Descriptor) string {
	if d.Raw != "" {
		return d.Raw
	}
	return source.WatchURL(d.VideoID)
}

// cancelError is the job error for a cancelled or halted run.
func cancelError(runCtx context.Context) error {
	cause := context.Cause(runCtx)
	if cause == nil {
		cause = errRunCancelled
	}
	return pipeline.Errorf(pipeline.KindCancelled, pipeline.Permanent, "%v", cause)
}
