package sqlstore

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type dialectName string

const (
	dialectSQLite   dialectName = "sqlite"
	dialectPostgres dialectName = "postgres"
)

// dialect captures the SQL differences between the supported backends.
type dialect struct {
	name dialectName
	// lockSuffix is appended to SELECTs that must hold a row lock.
	lockSuffix string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite":
		return dialect{name: dialectSQLite}, nil
	case "postgres", "pgx":
		return dialect{name: dialectPostgres, lockSuffix: " FOR UPDATE"}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported store driver %q", driver)
	}
}

// SQLiteOptions holds the PRAGMAs applied to every SQLite connection.
type SQLiteOptions struct {
	// BusyTimeout sets how long to wait for database locks.
	BusyTimeout time.Duration
	// JournalMode sets the journal mode (WAL, DELETE, TRUNCATE, ...).
	JournalMode string
	// Synchronous sets the synchronous mode (FULL, NORMAL, OFF).
	Synchronous string
}

// Options configures Open.
type Options struct {
	// Driver is one of "sqlite", "postgres" or "pgx".
	Driver string
	DSN    string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	SQLite SQLiteOptions
	Retry  RetryConfig
	Logger *slog.Logger
}

// DefaultSQLiteOptions returns WAL mode with a five second busy timeout.
func DefaultSQLiteOptions() SQLiteOptions {
	return SQLiteOptions{
		BusyTimeout: 5 * time.Second,
		JournalMode: "WAL",
		Synchronous: "NORMAL",
	}
}

func (o Options) withDefaults() Options {
	if o.SQLite == (SQLiteOptions{}) {
		o.SQLite = DefaultSQLiteOptions()
	}
	if o.Retry == (RetryConfig{}) {
		o.Retry = DefaultRetryConfig()
	}
	if o.MaxOpenConns == 0 {
		o.MaxOpenConns = 10
	}
	if o.MaxIdleConns == 0 {
		o.MaxIdleConns = 5
	}
	if o.ConnMaxLifetime == 0 {
		o.ConnMaxLifetime = time.Hour
	}
	return o
}

// Validate reports option combinations Open cannot honour.
func (o Options) Validate() error {
	var errs []error
	if o.Driver == "" {
		errs = append(errs, errors.New("driver is required"))
	}
	if strings.TrimSpace(o.DSN) == "" {
		errs = append(errs, errors.New("DSN is required"))
	}
	if o.SQLite.BusyTimeout < 0 {
		errs = append(errs, errors.New("busy timeout cannot be negative"))
	}
	switch strings.ToUpper(o.SQLite.JournalMode) {
	case "", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF":
	default:
		errs = append(errs, fmt.Errorf("invalid journal mode %q", o.SQLite.JournalMode))
	}
	switch strings.ToUpper(o.SQLite.Synchronous) {
	case "", "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		errs = append(errs, fmt.Errorf("invalid synchronous mode %q", o.SQLite.Synchronous))
	}
	if o.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	return errors.Join(errs...)
}

// sqlitePath extracts the file path from a SQLite DSN, or "" for in-memory databases.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	return path
}
