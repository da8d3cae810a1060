// Package inbox watches a directory for batch manifests and submits them.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/snarg/clip-engine/internal/batch"
)

const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Submitter queues a request.
type Submitter interface {
	SubmitRequest(ctx context.Context, req batch.Request) (batch.Result, error)
}

// Status is the watcher's state for the health endpoint.
type Status struct {
	Status         string `json:"status"`
	Dir            string `json:"dir"`
	FilesProcessed int64  `json:"files_processed"`
	FilesFailed    int64  `json:"files_failed"`
}

// Watcher submits every manifest dropped into a directory. Submitted files
// move to processed/, rejected ones to failed/ next to a .error file. When
// the job queue is full the file stays put and is retried.
type Watcher struct {
	dir      string
	sub      Submitter
	log      zerolog.Logger
	debounce time.Duration
	retry    time.Duration

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// coalesces Create+Write bursts on the same file
	debounceMu     sync.Mutex
	debounceTimers map[string]*pending

	filesProcessed atomic.Int64
	filesFailed    atomic.Int64
	status         atomic.Value // string: starting, backfilling, watching, stopped
}

func New(dir string, sub Submitter, log zerolog.Logger) *Watcher {
	w := &Watcher{
		dir:            dir,
		sub:            sub,
		log:            log.With().Str("component", "inbox").Logger(),
		debounce:       500 * time.Millisecond,
		retry:          30 * time.Second,
		debounceTimers: make(map[string]*pending),
	}
	w.status.Store("starting")
	return w
}

// Start watches the directory and submits manifests already in it.
func (w *Watcher) Start(ctx context.Context) error {
	for _, d := range []string{w.dir, filepath.Join(w.dir, ProcessedDir), filepath.Join(w.dir, FailedDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.log.Info().Str("dir", w.dir).Msg("inbox watcher started")

	w.wg.Add(2)
	go w.watchLoop()
	go w.backfill()
	return nil
}

// Stop closes the watcher and waits for in-flight submissions.
func (w *Watcher) Stop() {
	w.status.Store("stopped")
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.debounceMu.Lock()
	for path, p := range w.debounceTimers {
		if p.t.Stop() {
			w.wg.Done()
		}
		delete(w.debounceTimers, path)
	}
	w.debounceMu.Unlock()
	w.wg.Wait()
	w.log.Info().
		Int64("files_processed", w.filesProcessed.Load()).
		Int64("files_failed", w.filesFailed.Load()).
		Msg("inbox watcher stopped")
}

func (w *Watcher) Status() Status {
	s, _ := w.status.Load().(string)
	return Status{
		Status:         s,
		Dir:            w.dir,
		FilesProcessed: w.filesProcessed.Load(),
		FilesFailed:    w.filesFailed.Load(),
	}
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !Supported(event.Name) {
				continue
			}
			if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
				continue
			}
			w.schedule(event.Name, w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// schedule processes path once no further events arrive for delay, so the
// file is fully written before it is read.
func (w *Watcher) schedule(path string, delay time.Duration) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.ctx.Err() != nil {
		return
	}

	if p, ok := w.debounceTimers[path]; ok && p.t.Stop() {
		p.t.Reset(delay)
		return
	}
	p := &pending{}
	w.wg.Add(1)
	p.t = time.AfterFunc(delay, func() {
		defer w.wg.Done()
		w.debounceMu.Lock()
		if w.debounceTimers[path] == p {
			delete(w.debounceTimers, path)
		}
		w.debounceMu.Unlock()

		w.process(path)
	})
	w.debounceTimers[path] = p
}

type pending struct{ t *time.Timer }

func (w *Watcher) process(path string) {
	if w.ctx.Err() != nil {
		return
	}
	log := w.log.With().Str("file", filepath.Base(path)).Logger()

	req, err := ParseManifest(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("rejecting manifest")
		w.moveFailed(path, err)
		return
	}

	res, err := w.sub.SubmitRequest(w.ctx, req)
	switch {
	case errors.Is(err, batch.ErrQueueFull) && len(res.JobIDs) == 0:
		log.Warn().Dur("retry_in", w.retry).Msg("job queue full, manifest left in inbox")
		w.schedule(path, w.retry)
		return
	case err != nil:
		log.Warn().Err(err).Int("queued", len(res.JobIDs)).Msg("manifest submission failed")
		w.moveFailed(path, err)
		return
	}

	for _, se := range res.Errors {
		log.Warn().Str("source", se.Source).Str("error", se.Error).Msg("source rejected")
	}
	log.Info().Str("run_id", res.RunID).Int("jobs", len(res.JobIDs)).Msg("manifest submitted")
	w.filesProcessed.Add(1)
	w.move(path, ProcessedDir)
}

func (w *Watcher) moveFailed(path string, cause error) {
	w.filesFailed.Add(1)
	dst := w.move(path, FailedDir)
	if dst == "" {
		return
	}
	if err := os.WriteFile(dst+".error", []byte(cause.Error()+"\n"), 0o644); err != nil {
		w.log.Warn().Err(err).Str("file", dst).Msg("failed to write error file")
	}
}

// move renames path into sub, adding a timestamp when the name is taken.
func (w *Watcher) move(path, sub string) string {
	dst := filepath.Join(w.dir, sub, filepath.Base(path))
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(dst)
		dst = fmt.Sprintf("%s.%d%s", strings.TrimSuffix(dst, ext), time.Now().UnixNano(), ext)
	}
	if err := os.Rename(path, dst); err != nil {
		w.log.Warn().Err(err).Str("file", path).Msg("failed to move manifest")
		return ""
	}
	return dst
}

// backfill submits manifests present before the watcher started, oldest
// first.
func (w *Watcher) backfill() {
	defer w.wg.Done()
	w.status.Store("backfilling")

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to list inbox")
	}
	type file struct {
		path string
		mod  time.Time
	}
	var files []file
	for _, e := range entries {
		if e.IsDir() || !Supported(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{filepath.Join(w.dir, e.Name()), info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })

	for _, f := range files {
		if w.ctx.Err() != nil {
			return
		}
		w.schedule(f.path, 0)
	}
	if len(files) > 0 {
		w.log.Info().Int("files", len(files)).Msg("inbox backfill scheduled")
	}
	w.status.CompareAndSwap("backfilling", "watching")
}
