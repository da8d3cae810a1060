package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// AsyncUploader pushes already-saved local exports to S3 without blocking
// job workers.
type AsyncUploader struct {
	s3       *S3Store
	ch       chan upload
	workers  int
	wg       sync.WaitGroup
	log      zerolog.Logger
	mu       sync.RWMutex // guards ch against send-after-close
	stopped  bool

	uploaded atomic.Int64
	failed   atomic.Int64
}

type upload struct {
	key         string
	data        []byte
	contentType string
}

func NewAsyncUploader(s3 *S3Store, bufferSize, workers int, log zerolog.Logger) *AsyncUploader {
	if workers < 1 {
		workers = 1
	}
	return &AsyncUploader{
		s3:      s3,
		ch:      make(chan upload, bufferSize),
		workers: workers,
		log:     log.With().Str("component", "async-uploader").Logger(),
	}
}

// Enqueue never blocks. When the buffer is full the upload is skipped; the
// file is safe on disk and the reconciler will find it.
func (u *AsyncUploader) Enqueue(key string, data []byte, contentType string) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.stopped {
		return
	}
	select {
	case u.ch <- upload{key: key, data: data, contentType: contentType}:
	default:
		u.log.Warn().Str("key", key).Msg("upload queue full, leaving for reconciler")
	}
}

func (u *AsyncUploader) Start() {
	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", u.workers).Int("buffer", cap(u.ch)).Msg("async uploader started")
}

// Stop drains queued uploads and waits for the workers.
func (u *AsyncUploader) Stop() {
	u.mu.Lock()
	if !u.stopped {
		u.stopped = true
		close(u.ch)
	}
	u.mu.Unlock()
	u.wg.Wait()
	u.log.Info().Int64("uploaded", u.uploaded.Load()).Int64("failed", u.failed.Load()).Msg("async uploader stopped")
}

func (u *AsyncUploader) worker() {
	defer u.wg.Done()
	for job := range u.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := u.s3.Save(ctx, job.key, job.data, job.contentType); err != nil {
			u.failed.Add(1)
			u.log.Error().Err(err).Str("key", job.key).Msg("async S3 upload failed")
		} else {
			u.uploaded.Add(1)
		}
		cancel()
	}
}
