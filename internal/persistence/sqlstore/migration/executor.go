package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLExecutor applies migrations through sqlx, rebinding placeholders for the driver in use.
type SQLExecutor struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewExecutor returns an Executor backed by db.
func NewExecutor(db *sqlx.DB) *SQLExecutor {
	return &SQLExecutor{db: db, now: time.Now}
}

// InitializeVersionTable creates the schema_migrations table if it doesn't exist.
func (e *SQLExecutor) InitializeVersionTable(ctx context.Context) error {
	const query = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			execution_time_ms BIGINT NOT NULL DEFAULT 0
		)`
	if _, err := e.db.ExecContext(ctx, query); err != nil {
		return &DatabaseError{Query: query, Operation: "create schema_migrations table", Err: err}
	}
	return nil
}

// ExecuteMigration runs every statement of the migration inside one transaction.
func (e *SQLExecutor) ExecuteMigration(ctx context.Context, migration Migration) (err error) {
	statements := splitStatements(migration.SQL)
	if len(statements) == 0 {
		return newMigrationError(migration, "parse SQL", fmt.Errorf("%w: no SQL statements found", ErrInvalidMigrationFile))
	}

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return &DatabaseError{Version: migration.Version, Operation: "begin transaction", Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return &DatabaseError{Version: migration.Version, Query: stmt, Operation: fmt.Sprintf("execute statement %d", i+1), Err: err}
		}
	}

	if err = tx.Commit(); err != nil {
		return &DatabaseError{Version: migration.Version, Operation: "commit transaction", Err: err}
	}
	return nil
}

// RecordMigration stores a successful migration in schema_migrations.
func (e *SQLExecutor) RecordMigration(ctx context.Context, migration Migration, executionTime time.Duration) error {
	query := e.db.Rebind(`INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms) VALUES (?, ?, ?, ?)`)
	appliedAt := e.now().UTC().Format(timeLayout)
	if _, err := e.db.ExecContext(ctx, query, migration.Version, appliedAt, migration.Checksum, executionTime.Milliseconds()); err != nil {
		return &DatabaseError{Version: migration.Version, Query: query, Operation: "record migration", Err: err}
	}
	return nil
}

type appliedRow struct {
	Version         string `db:"version"`
	AppliedAt       string `db:"applied_at"`
	Checksum        string `db:"checksum"`
	ExecutionTimeMS int64  `db:"execution_time_ms"`
}

// GetAppliedVersions returns the applied migrations ordered by version.
func (e *SQLExecutor) GetAppliedVersions(ctx context.Context) ([]AppliedMigration, error) {
	const query = `SELECT version, applied_at, checksum, execution_time_ms FROM schema_migrations ORDER BY version ASC`

	var rows []appliedRow
	if err := e.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, &DatabaseError{Query: query, Operation: "get applied versions", Err: err}
	}

	applied := make([]AppliedMigration, 0, len(rows))
	for _, row := range rows {
		appliedAt, err := time.Parse(timeLayout, row.AppliedAt)
		if err != nil {
			return nil, &DatabaseError{Version: row.Version, Operation: "parse applied_at", Err: err}
		}
		applied = append(applied, AppliedMigration{
			Version:       row.Version,
			AppliedAt:     appliedAt,
			ExecutionTime: time.Duration(row.ExecutionTimeMS) * time.Millisecond,
			Checksum:      row.Checksum,
		})
	}
	return applied, nil
}
