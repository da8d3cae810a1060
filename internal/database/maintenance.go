package database

import (
	"context"
	"time"
)

// PurgeFinishedRuns deletes runs (and, by cascade, their jobs) that were
// last updated before the retention window and have no job left in a
// non-terminal state.
func (db *DB) PurgeFinishedRuns(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM runs r
		WHERE r.updated_at < now() - make_interval(secs => $1)
		  AND NOT EXISTS (
			SELECT 1 FROM jobs j
			WHERE j.run_id = r.id AND j.state NOT IN ('done', 'failed')
		  )`, retention.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
