package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/rs/zerolog"
)

// TieredStore writes to local disk and mirrors to S3 asynchronously. Reads
// try disk first and fall back to S3, caching what they fetch.
type TieredStore struct {
	s3       *S3Store
	local    *LocalStore
	uploader *AsyncUploader
	log      zerolog.Logger
}

func NewTieredStore(s3 *S3Store, local *LocalStore, uploader *AsyncUploader, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		s3:       s3,
		local:    local,
		uploader: uploader,
		log:      log.With().Str("component", "tiered-store").Logger(),
	}
}

// Save fails only if the local write fails. A dropped S3 upload is picked up
// by the reconciler.
func (s *TieredStore) Save(ctx context.Context, key string, data []byte, ct string) error {
	if err := s.local.Save(ctx, key, data, ct); err != nil {
		return err
	}
	s.uploader.Enqueue(key, data, ct)
	return nil
}

func (s *TieredStore) LocalPath(key string) string { return s.local.LocalPath(key) }

func (s *TieredStore) URL(ctx context.Context, key string) (string, error) {
	return s.s3.URL(ctx, key)
}

func (s *TieredStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if r, err := s.local.Open(ctx, key); err == nil {
		return r, nil
	}
	r, err := s.s3.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return nil, err
	}
	if cacheErr := s.local.Save(ctx, key, data, ""); cacheErr != nil {
		s.log.Warn().Err(cacheErr).Str("key", key).Msg("failed to cache S3 object locally")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *TieredStore) Exists(ctx context.Context, key string) bool {
	return s.local.Exists(ctx, key) || s.s3.Exists(ctx, key)
}

func (s *TieredStore) Type() string { return "tiered" }
