package samplestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-history/internal/backfill"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/database"
)

// DefaultRunLimit is the number of runs Recent returns when limit is not
// positive.
const DefaultRunLimit = 20

// RunRecord is one finished synchronisation run.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	ResourceID string    `json:"resource_id"`
	Item       string    `json:"item"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Gaps       int       `json:"gaps"`
	Chunks     int       `json:"chunks"`
	Samples    int       `json:"samples"`
	Error      string    `json:"error,omitempty"`
}

// RunLog persists run outcomes in the history_runs table. It always lives in
// the SQLite database, whichever backend holds the samples.
type RunLog struct {
	db *database.DB
}

// NewRunLog returns a run log over db.
func NewRunLog(db *database.DB) *RunLog {
	return &RunLog{db: db}
}

// Record stores the outcome carried by st. Statuses of runs still in
// progress, or without a run, are ignored; recording the same run twice
// keeps the first row.
func (l *RunLog) Record(ctx context.Context, st backfill.ChannelStatus) error {
	if st.Running || st.RunID == "" || st.LastResult == nil {
		return nil
	}
	res := st.LastResult

	started, finished := res.StartedAt, res.FinishedAt
	if started.IsZero() {
		started = st.LastRun
	}
	if finished.IsZero() {
		finished = started
	}

	var errText sql.NullString
	if st.LastError != "" {
		errText = sql.NullString{String: st.LastError, Valid: true}
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO history_runs
		   (run_id, resource_id, item, started_at, finished_at, gaps, chunks, samples, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id) DO NOTHING`,
		st.RunID, st.ResourceID, st.Item,
		toMillis(started), toMillis(finished),
		len(res.Gaps), res.Chunks, res.Samples, errText)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", st.RunID, err)
	}
	return nil
}

// Recent returns the latest runs of resourceID, newest first.
func (l *RunLog) Recent(ctx context.Context, resourceID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = DefaultRunLimit
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, resource_id, item, started_at, finished_at, gaps, chunks, samples, error
		 FROM history_runs
		 WHERE resource_id = ?
		 ORDER BY started_at DESC, run_id
		 LIMIT ?`,
		resourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs of %s: %w", resourceID, err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		var (
			r                 RunRecord
			started, finished int64
			errText           sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.ResourceID, &r.Item, &started, &finished,
			&r.Gaps, &r.Chunks, &r.Samples, &errText); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt = fromMillis(started)
		r.FinishedAt = fromMillis(finished)
		r.Error = errText.String
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// Prune deletes runs that started before cutoff and returns how many were
// removed.
func (l *RunLog) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM history_runs WHERE started_at < ?", toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	return n, nil
}
