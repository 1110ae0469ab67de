// Package samplestore implements backfill.LocalStore over the stores the
// history service can keep samples in: the embedded SQLite database,
// InfluxDB v2, VictoriaMetrics and PostgreSQL.
//
// Every adapter also implements backfill.ExtremaReader so coverage checks do
// not load a whole window of samples. Timestamps are kept at millisecond
// precision and returned in UTC.
//
// # Usage
//
//	store, err := samplestore.Open(ctx, cfg, sqliteDB)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	exec := backfill.NewExecutor(meterClient, store)
package samplestore
