// Package database provides SQLite connectivity for the sample store.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations (additive-only)
//   - Read-only handles for exporters and the HTTP history endpoint
//   - Connection lifecycle
//
// Performance Characteristics:
//   - WAL mode with synchronous=NORMAL lets a reader run alongside the logger
//   - Busy timeout absorbs short lock waits before SQLITE_BUSY is returned
//   - Writable handles BEGIN IMMEDIATE, so lock contention is reported at the
//     start of a transaction rather than halfway through a batch
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive-only so files written by the original logger, and by
// older builds, open unchanged:
//   - Tables and indexes use IF NOT EXISTS
//   - New columns must be NULLABLE or have DEFAULT values
//   - Never DROP or RENAME columns
package database
