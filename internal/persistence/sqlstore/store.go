// Package sqlstore implements persistence.Store on top of database/sql via
// sqlx, for SQLite (modernc.org/sqlite) and PostgreSQL (lib/pq or pgx).
package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" driver
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/example/classroom-attendance/internal/persistence"
	"github.com/example/classroom-attendance/internal/persistence/sqlstore/migration"
)

//go:embed migrations
var migrationFiles embed.FS

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Store is a persistence.Store backed by a SQL database.
type Store struct {
	db      *sqlx.DB
	dialect dialect
	retry   RetryConfig
	logger  *slog.Logger
}

// Open connects to the database described by opts and applies connection settings.
func Open(ctx context.Context, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store options: %w", err)
	}

	d, err := dialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}

	if d.name == dialectSQLite {
		if err := ensureDatabaseDir(opts.DSN); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", opts.Driver, err)
	}

	if d.name == dialectSQLite {
		// One connection serialises writers and keeps per-connection PRAGMAs in force.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxIdleConns)
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s database: %v", persistence.ErrUnavailable, opts.Driver, err)
	}

	if d.name == dialectSQLite {
		if err := applyPragmas(ctx, db, opts.SQLite); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, dialect: d, retry: opts.Retry, logger: logger.With("component", "sqlstore", "driver", opts.Driver)}, nil
}

func ensureDatabaseDir(dsn string) error {
	path := sqlitePath(dsn)
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create database directory for %s: %w", path, err)
	}
	return nil
}

func applyPragmas(ctx context.Context, db *sqlx.DB, cfg SQLiteOptions) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	if cfg.JournalMode != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = "+cfg.JournalMode)
	}
	if cfg.Synchronous != "" {
		pragmas = append(pragmas, "PRAGMA synchronous = "+cfg.Synchronous)
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return nil
}

// Migrate applies the embedded migrations for the store's dialect.
func (s *Store) Migrate(ctx context.Context) error {
	scanner := migration.NewScanner(migrationFiles, "migrations/"+string(s.dialect.name))
	manager := migration.NewManager(scanner, migration.NewExecutor(s.db), s.logger)
	return manager.RunMigrations(ctx)
}

// WithTx runs fn inside a transaction. Transient lock and serialisation
// failures are retried with backoff; every other error rolls back and is
// returned to the caller.
func (s *Store) WithTx(ctx context.Context, fn func(q persistence.Queries) error) error {
	return withRetry(ctx, s.retry, func() error {
		return s.runTx(ctx, fn)
	})
}

func (s *Store) runTx(ctx context.Context, fn func(q persistence.Queries) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.WarnContext(ctx, "rollback failed", "error", rbErr)
			}
		}
	}()

	if err = fn(&queries{ext: tx, dialect: s.dialect}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// View runs fn against the connection pool without opening a transaction.
func (s *Store) View(ctx context.Context, fn func(q persistence.Queries) error) error {
	return fn(&queries{ext: s.db, dialect: s.dialect})
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", persistence.ErrUnavailable, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Backup writes a consistent snapshot of a SQLite database into dir and
// returns the snapshot path. Other dialects return persistence.ErrBackupUnsupported.
func (s *Store) Backup(ctx context.Context, dir string) (string, error) {
	if s.dialect.name != dialectSQLite {
		return "", persistence.ErrBackupUnsupported
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("attendance-%s.db", time.Now().UTC().Format("20060102T150405.000000000")))
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return "", classify(fmt.Errorf("vacuum into %s: %w", path, err))
	}
	return path, nil
}

var _ persistence.Store = (*Store)(nil)
