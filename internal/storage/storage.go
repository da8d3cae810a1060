// Package storage persists exported clips: WAV files plus a JSON manifest per
// job, on local disk, S3, or both.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/clip-engine/internal/config"
)

// Store abstracts export storage backends.
type Store interface {
	// Save stores data. key format: {run_id}/{job_id}/{filename}
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// LocalPath returns the local filesystem path if the file exists on disk.
	// Returns "" if not available locally.
	LocalPath(key string) string

	// URL returns a presigned URL, or "" for local-only backends.
	URL(ctx context.Context, key string) (string, error)

	Open(ctx context.Context, key string) (io.ReadCloser, error)

	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}

// New creates a Store based on config. It returns the background services
// (uploader, pruner, reconciler) that the caller must Start and Stop.
// An error is returned if S3 is configured but unreachable.
func New(cfg config.S3Config, outputDir string, log zerolog.Logger) (Store, []BackgroundService, error) {
	if !cfg.Enabled() {
		return NewLocalStore(outputDir), nil, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	if !cfg.LocalCache {
		return s3store, nil, nil
	}

	// Tiered: exports land on disk first and are pushed to S3 in the background.
	local := NewLocalStore(outputDir)
	uploader := NewAsyncUploader(s3store, 256, cfg.UploadWorkers, log)
	services := []BackgroundService{uploader, NewUploadReconciler(outputDir, s3store, log)}
	if cfg.CacheRetention > 0 || cfg.CacheMaxGB > 0 {
		services = append(services, NewCachePruner(outputDir, cfg.CacheRetention, cfg.CacheMaxGB, s3store, log))
	}
	return NewTieredStore(s3store, local, uploader, log), services, nil
}

// Key joins key segments with "/".
func Key(parts ...string) string {
	return path.Join(parts...)
}

// ContentTypeFromExt maps an export file extension to its MIME type.
func ContentTypeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".wav":
		return "audio/wav"
	case ".json":
		return "application/json"
	case ".srt":
		return "application/x-subrip"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
