package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/snarg/clip-engine/internal/batch"
)

const jobColumns = `id, run_id, source_url, video_id, title, state, progress,
	error, error_kind, error_class, retry_count, attempts,
	parse_warnings, alignment_warnings, segments, transcript_origin, requeued_from,
	version, created_at, updated_at, started_at, finished_at`

// Stale snapshots lose: a row is only overwritten by an equal or newer version.
const upsertJob = `INSERT INTO jobs (` + jobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
ON CONFLICT (id) DO UPDATE SET
	state = EXCLUDED.state,
	title = EXCLUDED.title,
	progress = EXCLUDED.progress,
	error = EXCLUDED.error,
	error_kind = EXCLUDED.error_kind,
	error_class = EXCLUDED.error_class,
	retry_count = EXCLUDED.retry_count,
	attempts = EXCLUDED.attempts,
	parse_warnings = EXCLUDED.parse_warnings,
	alignment_warnings = EXCLUDED.alignment_warnings,
	segments = EXCLUDED.segments,
	transcript_origin = EXCLUDED.transcript_origin,
	version = EXCLUDED.version,
	updated_at = EXCLUDED.updated_at,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at
WHERE jobs.version <= EXCLUDED.version`

// JobStore implements batch.JobStore on PostgreSQL.
type JobStore struct {
	db *DB
}

func NewJobStore(db *DB) *JobStore { return &JobStore{db: db} }

var _ batch.JobStore = (*JobStore)(nil)

func (s *JobStore) SaveRun(ctx context.Context, r batch.Run) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO runs (id, name, status, halt_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			halt_reason = EXCLUDED.halt_reason,
			updated_at = EXCLUDED.updated_at`,
		r.ID, r.Name, string(r.Status), r.HaltReason, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

// SaveJobs upserts a batch of snapshots in one round trip.
func (s *JobStore) SaveJobs(ctx context.Context, jobs []batch.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, j := range jobs {
		b.Queue(upsertJob,
			j.ID, j.RunID, j.SourceURL, j.VideoID, j.Title, string(j.State), j.Progress,
			j.Error, j.ErrorKind, j.ErrorClass, j.RetryCount, j.Attempts,
			j.ParseWarnings, j.AlignWarnings, j.Segments, j.TranscriptOrigin, j.RequeuedFrom,
			j.Version, j.CreatedAt, j.UpdatedAt, j.StartedAt, j.FinishedAt,
		)
	}
	br := s.db.Pool.SendBatch(ctx, b)
	for range jobs {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("save jobs: %w", err)
		}
	}
	return br.Close()
}

func (s *JobStore) LoadRun(ctx context.Context, id string) (*batch.Run, error) {
	var r batch.Run
	var status string
	err := s.db.Pool.QueryRow(ctx, `
		SELECT id, name, status, halt_reason, created_at, updated_at
		FROM runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.Name, &status, &r.HaltReason, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, batch.ErrUnknownRun
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	r.Status = batch.RunStatus(status)
	return &r, nil
}

func (s *JobStore) LoadJobs(ctx context.Context, runID string) ([]batch.Job, error) {
	return s.ListJobs(ctx, JobFilter{RunID: runID})
}

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	RunID string
	State string
	Limit int
}

// ListJobs returns jobs in submission order.
func (s *JobStore) ListJobs(ctx context.Context, f JobFilter) ([]batch.Job, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.db.Pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE ($1::text IS NULL OR run_id = $1)
		  AND ($2::text IS NULL OR state = $2)
		ORDER BY created_at, id
		LIMIT $3`,
		pqString(f.RunID), pqString(f.State), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []batch.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// LoadJob returns one job by id, or batch.ErrUnknownJob.
func (s *JobStore) LoadJob(ctx context.Context, id string) (*batch.Job, error) {
	j, err := scanJob(s.db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, batch.ErrUnknownJob
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return &j, nil
}

func scanJob(row pgx.Row) (batch.Job, error) {
	var j batch.Job
	var state string
	err := row.Scan(
		&j.ID, &j.RunID, &j.SourceURL, &j.VideoID, &j.Title, &state, &j.Progress,
		&j.Error, &j.ErrorKind, &j.ErrorClass, &j.RetryCount, &j.Attempts,
		&j.ParseWarnings, &j.AlignWarnings, &j.Segments, &j.TranscriptOrigin, &j.RequeuedFrom,
		&j.Version, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.FinishedAt,
	)
	j.State = batch.State(state)
	return j, err
}

// ListRuns returns the most recent runs, newest first.
func (s *JobStore) ListRuns(ctx context.Context, limit int) ([]batch.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, name, status, halt_reason, created_at, updated_at
		FROM runs ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []batch.Run
	for rows.Next() {
		var r batch.Run
		var status string
		if err := rows.Scan(&r.ID, &r.Name, &status, &r.HaltReason, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = batch.RunStatus(status)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// StateCounts counts jobs per state across all runs.
func (s *JobStore) StateCounts(ctx context.Context) (map[batch.State]int, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT state, count(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[batch.State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[batch.State(state)] = n
	}
	return counts, rows.Err()
}
