package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UploadReconciler scans the export directory for recent files missing from
// S3 and uploads them. It covers dropped async uploads and crashes.
type UploadReconciler struct {
	dir      string
	s3       *S3Store
	interval time.Duration
	window   time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

func NewUploadReconciler(dir string, s3 *S3Store, log zerolog.Logger) *UploadReconciler {
	return &UploadReconciler{
		dir:      dir,
		s3:       s3,
		interval: 5 * time.Minute,
		window:   24 * time.Hour,
		log:      log.With().Str("component", "upload-reconciler").Logger(),
		stop:     make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }

func (r *UploadReconciler) Stop() { r.stopOnce.Do(func() { close(r.stop) }) }

func (r *UploadReconciler) loop() {
	// let startup uploads settle
	select {
	case <-time.After(2 * time.Minute):
	case <-r.stop:
		return
	}

	r.reconcile()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stop:
			return
		}
	}
}

func (r *UploadReconciler) reconcile() {
	var uploaded, failed, checked int
	cutoff := time.Now().Add(-r.window)

	filepath.WalkDir(r.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || isTemp(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().Before(cutoff) {
			return nil
		}
		rel, err := filepath.Rel(r.dir, p)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		checked++

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		exists := r.s3.Exists(ctx, key)
		cancel()
		if exists {
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		if err := r.s3.Save(ctx, key, data, ContentTypeFromExt(filepath.Ext(p))); err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("reconcile upload failed")
			failed++
		} else {
			uploaded++
		}
		cancel()
		return nil
	})

	if uploaded > 0 || failed > 0 {
		r.log.Info().
			Int("uploaded", uploaded).
			Int("failed", failed).
			Int("checked", checked).
			Msg("reconcile complete")
	}
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, ".export-") && strings.HasSuffix(name, ".tmp")
}
