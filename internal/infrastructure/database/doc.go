// Package database provides SQLite connectivity for the history service.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Applying schema migrations from an fs.FS (see the migrations package)
//   - Transaction and health-check helpers
//
// The sqlite sample store keeps its history_samples table here.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are NULLABLE or have defaults, and each
// .up.sql file has a matching .down.sql.
package database
