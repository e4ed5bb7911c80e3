// Package database opens the bridge's SQLite database and applies its
// schema migrations.
//
// The database holds the IPMI device registry and per-device state
// history. Connections use mattn/go-sqlite3 with foreign keys on, a busy
// timeout and (optionally) WAL mode. Migrations are embedded into the
// binary by the top-level migrations package:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. Queries elsewhere always use placeholders.
package database
