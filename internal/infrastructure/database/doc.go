// Package database provides SQLite connectivity for the HiveLink device directory.
//
// This package manages:
//   - Connection setup with WAL mode and foreign key enforcement
//   - Forward/backward schema migrations loaded from an fs.FS
//   - Transaction helpers used by cascade deletes
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
