package samplestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nerrad567/gray-logic-history/internal/backfill"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/database"
)

// sqliteBatch is the number of rows upserted per prepared-statement batch.
const sqliteBatch = 1000

// SQLite keeps samples in the history_samples table of the service database.
type SQLite struct {
	db *database.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite returns a store over db. The history_samples migration must have
// been applied.
func NewSQLite(db *database.DB) *SQLite {
	return &SQLite{db: db}
}

// Name returns "sqlite".
func (s *SQLite) Name() string { return "sqlite" }

// HealthCheck verifies the database answers queries.
func (s *SQLite) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

// Close is a no-op; the database is owned by the caller.
func (s *SQLite) Close() error { return nil }

// QuerySamples returns the samples of item inside w, oldest first.
func (s *SQLite) QuerySamples(ctx context.Context, item string, w backfill.TimeWindow) ([]backfill.Sample, error) {
	if w.Empty() {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ts_ms, value FROM history_samples
		 WHERE item = ? AND ts_ms >= ? AND ts_ms < ?
		 ORDER BY ts_ms`,
		item, toMillis(w.Start), toMillis(w.End))
	if err != nil {
		return nil, fmt.Errorf("querying samples of %s: %w", item, err)
	}
	defer rows.Close()

	var samples []backfill.Sample
	for rows.Next() {
		var (
			ms    int64
			value float64
		)
		if err := rows.Scan(&ms, &value); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		samples = append(samples, backfill.Sample{Timestamp: fromMillis(ms), Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating samples: %w", err)
	}
	return samples, nil
}

// StoreSamples upserts samples in one transaction. Either all of them are
// stored or none are.
func (s *SQLite) StoreSamples(ctx context.Context, item string, samples []backfill.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO history_samples (item, ts_ms, value) VALUES (?, ?, ?)
			 ON CONFLICT (item, ts_ms) DO UPDATE SET value = excluded.value`)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer stmt.Close()

		for i, sample := range samples {
			if i > 0 && i%sqliteBatch == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			if _, err := stmt.ExecContext(ctx, item, toMillis(sample.Timestamp), sample.Value); err != nil {
				return fmt.Errorf("upserting sample at %s: %w", sample.Timestamp, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing %d samples of %s: %w", len(samples), item, err)
	}
	return nil
}

// Extrema returns the earliest and latest sample timestamps of item in w.
func (s *SQLite) Extrema(ctx context.Context, item string, w backfill.TimeWindow) (backfill.CoverageBounds, error) {
	if w.Empty() {
		return backfill.CoverageBounds{}, nil
	}

	var lo, hi sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(ts_ms), MAX(ts_ms) FROM history_samples
		 WHERE item = ? AND ts_ms >= ? AND ts_ms < ?`,
		item, toMillis(w.Start), toMillis(w.End)).Scan(&lo, &hi)
	if err != nil {
		return backfill.CoverageBounds{}, fmt.Errorf("querying extrema of %s: %w", item, err)
	}

	var b backfill.CoverageBounds
	if lo.Valid {
		b.Earliest = backfill.Some(fromMillis(lo.Int64))
	}
	if hi.Valid {
		b.Latest = backfill.Some(fromMillis(hi.Int64))
	}
	return b, nil
}
