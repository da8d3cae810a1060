package database

import (
	"context"
	"fmt"
	"strings"
)

// migration is a single idempotent schema change for databases created by
// an older schema.sql.
type migration struct {
	name  string
	sql   string
	check string // returns true if already applied
}

var migrations = []migration{
	{
		name:  "add jobs.transcript_origin",
		sql:   `ALTER TABLE jobs ADD COLUMN IF NOT EXISTS transcript_origin text NOT NULL DEFAULT ''`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'jobs' AND column_name = 'transcript_origin')`,
	},
	{
		name:  "add jobs.requeued_from",
		sql:   `ALTER TABLE jobs ADD COLUMN IF NOT EXISTS requeued_from text NOT NULL DEFAULT ''`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'jobs' AND column_name = 'requeued_from')`,
	},
	{
		name:  "add jobs video index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_jobs_video ON jobs (video_id)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_jobs_video')`,
	},
}

// Migrate applies every migration whose check does not report it applied.
func (db *DB) Migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}
	if len(pending) == 0 {
		return nil
	}

	for i, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{failed: m, pending: pending[i:], err: err}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
	}
	db.log.Info().Int("applied", len(pending)).Msg("schema migrations complete")
	return nil
}

// MigrationError carries the SQL needed to finish the remaining migrations
// by hand, for databases where the service role cannot ALTER.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as a database superuser to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart clip-engine.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
