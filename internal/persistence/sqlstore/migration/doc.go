// Package migration applies versioned SQL schema changes to the attendance
// datastore.
//
// Migration files are read from an fs.FS (normally the files embedded in the
// sqlstore package) and follow the naming convention
// {version}_{description}.sql, for example "001_initial_schema.sql". Each file
// runs inside its own transaction and is recorded in the schema_migrations
// table so it is never applied twice.
//
// Example usage:
//
//	manager := migration.NewManager(migration.NewScanner(files, "migrations/sqlite"), migration.NewExecutor(db), logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
