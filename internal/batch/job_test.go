package batch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateQueued, StateDownloading, true},
		{StateDownloading, StateParsing, true},
		{StateParsing, StateAligning, true},
		{StateAligning, StateExtracting, true},
		{StateExtracting, StateExporting, true},
		{StateExporting, StateDone, true},
		{StateQueued, StateParsing, false},
		{StateParsing, StateExporting, false},
		{StateAligning, StateParsing, false},
		{StateExtracting, StateDownloading, true}, // retry restarts the job
		{StateQueued, StateFailed, true},
		{StateExporting, StateFailed, true},
		{StateDone, StateFailed, false},
		{StateFailed, StateDownloading, false},
		{StateDone, StateDownloading, false},
	}
	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStateHelpers(t *testing.T) {
	if !StateDone.Terminal() || !StateFailed.Terminal() || StateExporting.Terminal() {
		t.Error("Terminal() wrong")
	}
	if State("bogus").Valid() {
		t.Error("bogus state reported valid")
	}
	if !StateFailed.Valid() || !StateQueued.Valid() {
		t.Error("known state reported invalid")
	}
}

func TestNewReport(t *testing.T) {
	rep := newReport(Run{ID: "r"}, []Job{{State: StateDone}, {State: StateFailed}, {State: StateParsing}})
	if rep.Finished {
		t.Error("Finished = true with a job still parsing")
	}
	if rep.Counts[StateDone] != 1 || rep.Counts[StateFailed] != 1 || rep.Counts[StateParsing] != 1 {
		t.Errorf("Counts = %v", rep.Counts)
	}

	rep = newReport(Run{ID: "r"}, []Job{{State: StateDone}})
	if !rep.Finished {
		t.Error("Finished = false with all jobs terminal")
	}
}

func TestJobCloneIsDeep(t *testing.T) {
	now := time.Now()
	j := Job{StartedAt: &now}
	c := j.clone()
	*c.StartedAt = now.Add(time.Hour)
	if !j.StartedAt.Equal(now) {
		t.Error("clone shares StartedAt")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "state.json")
	ctx := context.Background()

	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	if _, err := s.LoadRun(ctx, "r1"); err != ErrUnknownRun {
		t.Fatalf("LoadRun(missing) err = %v, want ErrUnknownRun", err)
	}

	now := time.Now().UTC()
	if err := s.SaveRun(ctx, Run{ID: "r1", Name: "first", Status: RunActive, CreatedAt: now}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	err = s.SaveJobs(ctx, []Job{
		{ID: "b", RunID: "r1", State: StateQueued, Version: 1, CreatedAt: now.Add(time.Second)},
		{ID: "a", RunID: "r1", State: StateDone, Version: 5, CreatedAt: now},
		{ID: "x", RunID: "r2", State: StateQueued, Version: 1, CreatedAt: now},
	})
	if err != nil {
		t.Fatalf("SaveJobs: %v", err)
	}
	// stale snapshot must not overwrite
	if err := s.SaveJobs(ctx, []Job{{ID: "a", RunID: "r1", State: StateParsing, Version: 3}}); err != nil {
		t.Fatalf("SaveJobs: %v", err)
	}

	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	r, err := reopened.LoadRun(ctx, "r1")
	if err != nil || r.Name != "first" {
		t.Fatalf("LoadRun = %+v, %v", r, err)
	}
	jobs, err := reopened.LoadJobs(ctx, "r1")
	if err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	if jobs[0].ID != "a" || jobs[1].ID != "b" {
		t.Errorf("order = %s,%s, want a,b", jobs[0].ID, jobs[1].ID)
	}
	if jobs[0].State != StateDone {
		t.Errorf("job a state = %s, want done (stale write ignored)", jobs[0].State)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	os.WriteFile(path, []byte("{not json"), 0o644)
	if _, err := OpenFileStore(path); err == nil {
		t.Fatal("expected error for corrupt state file")
	}
}
