package samplestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-history/internal/backfill"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-history/migrations"
)

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func window(from, to time.Time) backfill.TimeWindow {
	return backfill.NewTimeWindow(from, to)
}

// halfHourly returns n samples every 30 minutes from start with values i+1.
func halfHourly(start time.Time, n int) []backfill.Sample {
	samples := make([]backfill.Sample, n)
	for i := range samples {
		samples[i] = backfill.Sample{
			Timestamp: start.Add(time.Duration(i) * 30 * time.Minute),
			Value:     float64(i + 1),
		}
	}
	return samples
}

// openMigratedDB returns a temporary SQLite database with every migration
// applied.
func openMigratedDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating database: %v", err)
	}
	return db
}
