package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// tmpPattern names in-flight writes; the reconciler and pruner skip them.
const tmpPattern = ".export-*.tmp"

// LocalStore keeps exports under a directory on local disk.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

// Save writes atomically via a temp file and rename.
func (s *LocalStore) Save(ctx context.Context, key string, data []byte, contentType string) error {
	full := s.path(key)
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, full); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) LocalPath(key string) string {
	full := s.path(key)
	if _, err := os.Stat(full); err == nil {
		return full
	}
	return ""
}

func (s *LocalStore) URL(ctx context.Context, key string) (string, error) { return "", nil }

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return os.Open(s.path(key))
}

func (s *LocalStore) Exists(ctx context.Context, key string) bool {
	_, err := os.Stat(s.path(key))
	return err == nil
}

func (s *LocalStore) Type() string { return "local" }

// Dir returns the export root.
func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key))
}
