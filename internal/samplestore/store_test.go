package samplestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-history/internal/backfill"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/config"
)

func TestOpen(t *testing.T) {
	db := openMigratedDB(t)

	t.Run("sqlite", func(t *testing.T) {
		cfg := &config.Config{History: config.HistoryConfig{Store: config.StoreSQLite}}
		store, err := Open(context.Background(), cfg, db)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if store.Name() != "sqlite" {
			t.Errorf("Name() = %q", store.Name())
		}
	})

	t.Run("sqlite without database", func(t *testing.T) {
		cfg := &config.Config{History: config.HistoryConfig{Store: config.StoreSQLite}}
		if _, err := Open(context.Background(), cfg, nil); !errors.Is(err, backfill.ErrConfiguration) {
			t.Fatalf("Open() error = %v, want ErrConfiguration", err)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := &config.Config{History: config.HistoryConfig{Store: "csv"}}
		if _, err := Open(context.Background(), cfg, db); !errors.Is(err, backfill.ErrConfiguration) {
			t.Fatalf("Open() error = %v, want ErrConfiguration", err)
		}
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		cfg := &config.Config{History: config.HistoryConfig{Store: config.StorePostgres}}
		if _, err := Open(context.Background(), cfg, db); err == nil {
			t.Fatal("Open() error = nil for postgres without dsn")
		}
	})
}

func TestNormalise(t *testing.T) {
	in := []backfill.Sample{
		{Timestamp: day0.Add(time.Hour), Value: 3},
		{Timestamp: day0, Value: 1},
		{Timestamp: day0.Add(time.Hour), Value: 4},
	}
	got := normalise(in)
	if len(got) != 2 || got[0].Value != 1 || got[1].Value != 4 {
		t.Errorf("normalise() = %+v", got)
	}
	if b := boundsOf(got); !b.Earliest.Time.Equal(day0) || !b.Latest.Time.Equal(day0.Add(time.Hour)) {
		t.Errorf("boundsOf() = %s", b)
	}
	if b := boundsOf(nil); !b.Empty() {
		t.Errorf("boundsOf(nil) = %s, want empty", b)
	}
}
