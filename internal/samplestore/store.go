package samplestore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/gray-logic-history/internal/backfill"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/postgres"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/tsdb"
)

// Store is a local sample store with its lifecycle and health check.
type Store interface {
	backfill.LocalStore
	backfill.ExtremaReader

	// Name identifies the backend in logs and health output.
	Name() string

	HealthCheck(ctx context.Context) error
	Close() error
}

// Open connects the backend selected by cfg.History.Store.
//
// The SQLite backend reuses db, which must already be migrated, and Close
// leaves it open. Other backends own their connection and Close releases it.
func Open(ctx context.Context, cfg *config.Config, db *database.DB) (Store, error) {
	switch cfg.History.Store {
	case config.StoreSQLite:
		if db == nil {
			return nil, fmt.Errorf("%w: sqlite store needs an open database", backfill.ErrConfiguration)
		}
		return NewSQLite(db), nil

	case config.StoreInfluxDB:
		client, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return nil, err
		}
		return NewInflux(client, cfg.InfluxDB.Measurement), nil

	case config.StoreTSDB:
		client, err := tsdb.Connect(ctx, cfg.TSDB)
		if err != nil {
			return nil, err
		}
		return NewVictoria(client, cfg.TSDB.Metric), nil

	case config.StorePostgres:
		pg, err := postgres.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store := NewPostgres(pg)
		if err := store.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("%w: unknown history store %q", backfill.ErrConfiguration, cfg.History.Store)
	}
}

// toMillis truncates t to the stored precision.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// normalise sorts samples by time and keeps the last value written for each
// millisecond, mirroring upsert semantics.
func normalise(samples []backfill.Sample) []backfill.Sample {
	slices.SortStableFunc(samples, func(a, b backfill.Sample) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	out := samples[:0]
	for _, s := range samples {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(s.Timestamp) {
			out[n-1] = s
			continue
		}
		out = append(out, s)
	}
	return out
}

// boundsOf returns the extrema of samples, which must be sorted.
func boundsOf(samples []backfill.Sample) backfill.CoverageBounds {
	if len(samples) == 0 {
		return backfill.CoverageBounds{}
	}
	return backfill.CoverageBounds{
		Earliest: backfill.Some(samples[0].Timestamp),
		Latest:   backfill.Some(samples[len(samples)-1].Timestamp),
	}
}
