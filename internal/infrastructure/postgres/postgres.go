// Package postgres provides the PostgreSQL connection pool used when history
// samples are kept in PostgreSQL instead of the embedded SQLite database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nerrad567/gray-logic-history/internal/infrastructure/config"
)

const pingTimeout = 5 * time.Second

// ErrNoDSN is returned by Connect when no connection string is configured.
var ErrNoDSN = errors.New("postgres: dsn is required")

// DB wraps a pgx connection pool.
type DB struct {
	*pgxpool.Pool
}

// Connect creates a pool for cfg.DSN and verifies it with a ping.
//
// Every session runs with timezone UTC so timestamptz values come back in
// UTC regardless of the server default.
//
// Parameters:
//   - ctx: Context for pool creation and the ping
//   - cfg: PostgreSQL configuration from config.yaml
//
// Returns:
//   - *DB: Connected pool
//   - error: ErrNoDSN, or a parse/connect failure
func Connect(ctx context.Context, cfg config.PostgresConfig) (*DB, error) {
	if cfg.DSN == "" {
		return nil, ErrNoDSN
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns) // #nosec G115 -- validated positive, small
	}
	poolCfg.ConnConfig.RuntimeParams["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	db := &DB{Pool: pool}
	if err := db.HealthCheck(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

// HealthCheck pings the server.
func (db *DB) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close closes every connection in the pool. It is safe on a nil DB.
func (db *DB) Close() {
	if db == nil || db.Pool == nil {
		return
	}
	db.Pool.Close()
}

// InTx runs fn in a transaction, committing when fn returns nil.
func (db *DB) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, db.Pool, fn)
}
