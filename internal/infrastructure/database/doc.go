// Package database provides SQLite storage for radiolink.
//
// The gateway uses it for the peer sighting audit table only; the radio peer
// registry itself is never loaded from disk.
//
// Open configures WAL mode, the busy timeout and a single connection (SQLite
// has one writer). MemoryPath opens a private in-memory database for tests.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded by the top-level migrations package and are
// additive: new columns must be nullable or carry a default, and every
// .up.sql has a matching .down.sql.
package database
