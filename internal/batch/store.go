package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// JobStore persists runs and job snapshots so a run can be resumed after a
// restart. SaveJobs must keep the snapshot with the highest Version when it
// sees the same job twice.
type JobStore interface {
	SaveRun(ctx context.Context, r Run) error
	SaveJobs(ctx context.Context, jobs []Job) error
	LoadRun(ctx context.Context, id string) (*Run, error)
	LoadJobs(ctx context.Context, runID string) ([]Job, error)
	LoadJob(ctx context.Context, id string) (*Job, error)
}

// FileStore keeps all runs and jobs in one JSON document. It suits single
// instance deployments without a database.
type FileStore struct {
	path string
	mu   sync.Mutex
	doc  fileDoc
}

type fileDoc struct {
	Runs map[string]Run `json:"runs"`
	Jobs map[string]Job `json:"jobs"`
}

// OpenFileStore loads path if it exists.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, doc: fileDoc{Runs: map[string]Run{}, Jobs: map[string]Job{}}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if s.doc.Runs == nil {
		s.doc.Runs = map[string]Run{}
	}
	if s.doc.Jobs == nil {
		s.doc.Jobs = map[string]Job{}
	}
	return s, nil
}

func (s *FileStore) SaveRun(ctx context.Context, r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Runs[r.ID] = r
	return s.flushLocked()
}

func (s *FileStore) SaveJobs(ctx context.Context, jobs []Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range jobs {
		if cur, ok := s.doc.Jobs[j.ID]; ok && cur.Version > j.Version {
			continue
		}
		s.doc.Jobs[j.ID] = j
	}
	return s.flushLocked()
}

func (s *FileStore) LoadRun(ctx context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.doc.Runs[id]
	if !ok {
		return nil, ErrUnknownRun
	}
	return &r, nil
}

func (s *FileStore) LoadJob(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.doc.Jobs[id]
	if !ok {
		return nil, ErrUnknownJob
	}
	return &j, nil
}

// LoadJobs returns the run's jobs ordered by creation time.
func (s *FileStore) LoadJobs(ctx context.Context, runID string) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.doc.Jobs {
		if j.RunID == runID {
			out = append(out, j)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return os.Rename(tmp, s.path)
}
