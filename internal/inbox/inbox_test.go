package inbox

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/clip-engine/internal/batch"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParseManifest(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "talks.txt")
	writeFile(t, txt, "# conference\nhttps://youtu.be/vid00000001\n\nvid00000002  # keynote\n")
	req, err := ParseManifest(txt)
	if err != nil {
		t.Fatal(err)
	}
	if req.Name != "talks" {
		t.Errorf("name = %q, want file base", req.Name)
	}
	if got := req.URLs(); len(got) != 2 || got[1] != "vid00000002" {
		t.Errorf("urls = %v", got)
	}

	yml := filepath.Join(dir, "series.yaml")
	writeFile(t, yml, "name: Lecture series\nsources:\n  - https://www.youtube.com/playlist?list=PL1234567890\n  - vid00000003\n")
	req, err = ParseManifest(yml)
	if err != nil {
		t.Fatal(err)
	}
	if req.Name != "Lecture series" || len(req.Sources) != 2 {
		t.Errorf("yaml request = %+v", req)
	}

	existing := filepath.Join(dir, "more.yml")
	writeFile(t, existing, "run_id: r-1\nurl: vid00000004\n")
	req, err = ParseManifest(existing)
	if err != nil {
		t.Fatal(err)
	}
	if req.RunID != "r-1" || req.Name != "" {
		t.Errorf("run_id manifest = %+v", req)
	}
}

func TestParseManifestErrors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.txt")
	writeFile(t, empty, "# nothing here\n\n")
	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "sources: [unterminated\n")
	other := filepath.Join(dir, "x.csv")
	writeFile(t, other, "vid00000001")

	for _, p := range []string{empty, bad, other, filepath.Join(dir, "missing.txt")} {
		if _, err := ParseManifest(p); err == nil {
			t.Errorf("ParseManifest(%s) succeeded, want error", filepath.Base(p))
		}
	}
}

func TestSupported(t *testing.T) {
	for name, want := range map[string]bool{"a.txt": true, "a.YAML": true, "a.yml": true, "a.json": false, "a": false} {
		if got := Supported(name); got != want {
			t.Errorf("Supported(%q) = %v, want %v", name, got, want)
		}
	}
}

type fakeSubmitter struct {
	mu   sync.Mutex
	reqs []batch.Request
	err  error
}

func (f *fakeSubmitter) SubmitRequest(ctx context.Context, req batch.Request) (batch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return batch.Result{}, f.err
	}
	return batch.Result{RunID: "r1", JobIDs: []string{"j1"}}, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestWatcherSubmitsNewAndExistingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "early.txt"), "vid00000001\n")

	sub := &fakeSubmitter{}
	w := New(dir, sub, zerolog.Nop())
	w.debounce = 20 * time.Millisecond
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	eventually(t, func() bool { return exists(filepath.Join(dir, ProcessedDir, "early.txt")) }, "backfilled manifest not processed")

	writeFile(t, filepath.Join(dir, "late.yaml"), "name: late\nsources: [vid00000002]\n")
	eventually(t, func() bool { return exists(filepath.Join(dir, ProcessedDir, "late.yaml")) }, "new manifest not processed")

	writeFile(t, filepath.Join(dir, "broken.txt"), "\n")
	eventually(t, func() bool { return exists(filepath.Join(dir, FailedDir, "broken.txt.error")) }, "broken manifest not moved to failed/")

	if n := sub.count(); n != 2 {
		t.Errorf("submitted %d requests, want 2", n)
	}
	st := w.Status()
	if st.FilesProcessed != 2 || st.FilesFailed != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestWatcherLeavesFileWhenQueueFull(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{err: batch.ErrQueueFull}
	w := New(dir, sub, zerolog.Nop())
	w.debounce = 10 * time.Millisecond
	w.retry = 20 * time.Millisecond
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "wait.txt")
	writeFile(t, path, "vid00000001\n")
	eventually(t, func() bool { return sub.count() >= 2 }, "manifest not retried")
	if !exists(path) {
		t.Error("manifest moved while queue was full")
	}

	sub.mu.Lock()
	sub.err = nil
	sub.mu.Unlock()
	eventually(t, func() bool { return exists(filepath.Join(dir, ProcessedDir, "wait.txt")) }, "manifest not processed after queue drained")
}
