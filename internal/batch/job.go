// Package batch schedules clip-extraction jobs across a bounded worker pool,
// retries transient failures, and groups jobs into runs that can be
// cancelled, halted and resumed.
package batch

import (
	"errors"
	"time"
)

var (
	ErrQueueFull  = errors.New("job queue full")
	ErrUnknownJob = errors.New("unknown job")
	ErrUnknownRun = errors.New("unknown run")
	ErrNotFailed  = errors.New("job is not failed")
	ErrRunClosed  = errors.New("run is not accepting jobs")
	ErrStopped    = errors.New("orchestrator stopped")
)

// State is a job's position in its lifecycle.
type State string

const (
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateParsing     State = "parsing"
	StateAligning    State = "aligning"
	StateExtracting  State = "extracting"
	StateExporting   State = "exporting"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

var stateOrder = map[State]int{
	StateQueued:      0,
	StateDownloading: 1,
	StateParsing:     2,
	StateAligning:    3,
	StateExtracting:  4,
	StateExporting:   5,
	StateDone:        6,
}

// progress reported on entering each state.
var stateProgress = map[State]int{
	StateQueued:      0,
	StateDownloading: 5,
	StateParsing:     40,
	StateAligning:    55,
	StateExtracting:  70,
	StateExporting:   85,
	StateDone:        100,
}

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := stateOrder[s]
	return ok || s == StateFailed
}

// canTransition allows forward steps one at a time, Failed from anywhere
// non-terminal, and a restart at Downloading for retries.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed || to == StateDownloading {
		return true
	}
	return stateOrder[to] == stateOrder[from]+1
}

// Job is a point-in-time snapshot. Snapshots handed out by the orchestrator
// are copies; mutating them has no effect.
type Job struct {
	ID               string     `json:"id"`
	RunID            string     `json:"run_id"`
	SourceURL        string     `json:"source_url"`
	VideoID          string     `json:"video_id"`
	Title            string     `json:"title,omitempty"`
	State            State      `json:"state"`
	Progress         int        `json:"progress_percent"`
	Error            string     `json:"error,omitempty"`
	ErrorKind        string     `json:"error_kind,omitempty"`
	ErrorClass       string     `json:"error_class,omitempty"`
	RetryCount       int        `json:"retry_count"`
	Attempts         int        `json:"attempts"`
	ParseWarnings    int        `json:"parse_warnings"`
	AlignWarnings    int        `json:"alignment_warnings"`
	Segments         int        `json:"segments"`
	TranscriptOrigin string     `json:"transcript_origin,omitempty"`
	RequeuedFrom     string     `json:"requeued_from,omitempty"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

// WarningCount is the number of recoverable problems recorded for the job.
func (j Job) WarningCount() int { return j.ParseWarnings + j.AlignWarnings }

func (j Job) clone() Job {
	if j.StartedAt != nil {
		t := *j.StartedAt
		j.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		j.FinishedAt = &t
	}
	return j
}

// RunStatus is a run's lifecycle status.
type RunStatus string

const (
	RunActive    RunStatus = "active"
	RunCancelled RunStatus = "cancelled"
	RunHalted    RunStatus = "halted" // a fatal error stopped the run
)

// Run groups jobs submitted together.
type Run struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Status     RunStatus `json:"status"`
	HaltReason string    `json:"halt_reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RunReport is a run plus the current snapshot of each of its jobs, in
// submission order.
type RunReport struct {
	Run      Run           `json:"run"`
	Jobs     []Job         `json:"jobs"`
	Counts   map[State]int `json:"counts"`
	Finished bool          `json:"finished"`
}

func newReport(r Run, jobs []Job) RunReport {
	rep := RunReport{Run: r, Jobs: jobs, Counts: make(map[State]int), Finished: true}
	for _, j := range jobs {
		rep.Counts[j.State]++
		if !j.State.Terminal() {
			rep.Finished = false
		}
	}
	return rep
}

// Stats reports queue and outcome counters.
type Stats struct {
	Pending   int   `json:"pending"`
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retries   int64 `json:"retries"`
}
