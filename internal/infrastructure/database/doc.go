// Package database provides the SQLite store used by the event journal and
// the disarm credential table.
//
// This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Forward and backward schema migrations read from an fs.FS
//   - A transaction helper
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is chmod 0600
//   - PINs are stored as Argon2id hashes, never in clear
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive; new columns are NULLABLE or have a DEFAULT.
package database
