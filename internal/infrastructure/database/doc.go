// Package database provides SQLite connectivity for the instrument station.
//
// The station keeps a single table of persistent state, the change journal
// (see internal/history). This package opens the database with WAL mode and
// a busy timeout, and applies the embedded schema migrations.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive only. Each has an .up.sql file and, where a
// rollback is meaningful, a matching .down.sql file.
package database
