package samplestore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nerrad567/gray-logic-history/internal/backfill"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/postgres"
)

// postgresBatch is the number of upserts queued per pgx.Batch.
const postgresBatch = 1000

const postgresSchema = `
CREATE TABLE IF NOT EXISTS history_samples (
    item  TEXT             NOT NULL,
    ts    TIMESTAMPTZ      NOT NULL,
    value DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (item, ts)
)`

const postgresUpsert = `
INSERT INTO history_samples (item, ts, value) VALUES ($1, $2, $3)
ON CONFLICT (item, ts) DO UPDATE SET value = EXCLUDED.value`

// Postgres keeps samples in a history_samples table in PostgreSQL.
type Postgres struct {
	db *postgres.DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres returns a store over db. Call EnsureSchema before use.
func NewPostgres(db *postgres.DB) *Postgres {
	return &Postgres{db: db}
}

// Name returns "postgres".
func (s *Postgres) Name() string { return "postgres" }

// EnsureSchema creates the history_samples table if it does not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres: create history_samples: %w", err)
	}
	return nil
}

// HealthCheck pings the server.
func (s *Postgres) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

// Close closes the pool.
func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}

// QuerySamples returns the samples of item inside w, oldest first.
func (s *Postgres) QuerySamples(ctx context.Context, item string, w backfill.TimeWindow) ([]backfill.Sample, error) {
	if w.Empty() {
		return nil, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT ts, value FROM history_samples
		 WHERE item = $1 AND ts >= $2 AND ts < $3
		 ORDER BY ts`,
		item, w.Start.UTC(), w.End.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: query samples of %s: %w", item, err)
	}

	samples, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (backfill.Sample, error) {
		var sample backfill.Sample
		err := row.Scan(&sample.Timestamp, &sample.Value)
		sample.Timestamp = sample.Timestamp.UTC()
		return sample, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan samples of %s: %w", item, err)
	}
	return samples, nil
}

// StoreSamples upserts samples in one transaction.
func (s *Postgres) StoreSamples(ctx context.Context, item string, samples []backfill.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		for start := 0; start < len(samples); start += postgresBatch {
			end := min(start+postgresBatch, len(samples))

			batch := &pgx.Batch{}
			for _, sample := range samples[start:end] {
				batch.Queue(postgresUpsert, item, sample.Timestamp.UTC().Truncate(time.Millisecond), sample.Value)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: store %d samples of %s: %w", len(samples), item, err)
	}
	return nil
}

// Extrema returns the earliest and latest sample timestamps of item in w.
func (s *Postgres) Extrema(ctx context.Context, item string, w backfill.TimeWindow) (backfill.CoverageBounds, error) {
	if w.Empty() {
		return backfill.CoverageBounds{}, nil
	}

	var lo, hi *time.Time
	err := s.db.QueryRow(ctx,
		`SELECT MIN(ts), MAX(ts) FROM history_samples
		 WHERE item = $1 AND ts >= $2 AND ts < $3`,
		item, w.Start.UTC(), w.End.UTC()).Scan(&lo, &hi)
	if err != nil {
		return backfill.CoverageBounds{}, fmt.Errorf("postgres: extrema of %s: %w", item, err)
	}

	var b backfill.CoverageBounds
	if lo != nil {
		b.Earliest = backfill.Some(lo.UTC())
	}
	if hi != nil {
		b.Latest = backfill.Some(hi.UTC())
	}
	return b, nil
}
