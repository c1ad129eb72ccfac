// Package database provides SQLite connectivity for swetrack-sync.
//
// The database holds two append-mostly tables: the sync cycle log and the
// per-device history of published records. It is an operational record
// only; the coordinator never reads it back to build a snapshot.
//
// This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Schema migrations read from any fs.FS (normally the embedded
//     migrations package)
//   - Health checks and lifecycle
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Source()); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql.
package database
