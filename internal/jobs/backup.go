// Package jobs runs scheduled maintenance work such as datastore backups.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/classroom-attendance/internal/application"
	"github.com/example/classroom-attendance/internal/persistence"
)

// Snapshotter writes a point-in-time copy of the datastore into dir.
type Snapshotter interface {
	Backup(ctx context.Context, dir string) (string, error)
}

// BackupRecorder persists the outcome of a backup attempt.
type BackupRecorder interface {
	RecordBackup(ctx context.Context, record application.BackupRecord)
}

// BackupOptions configures a BackupJob.
type BackupOptions struct {
	Dir string
	// Kind is stored as the backup type, usually the store driver name.
	Kind    string
	Timeout time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
}

// BackupJob snapshots the store and records every attempt.
type BackupJob struct {
	store  Snapshotter
	audit  BackupRecorder
	opts   BackupOptions
	logger *slog.Logger
}

// NewBackupJob constructs a BackupJob. Timeout defaults to ten minutes.
func NewBackupJob(store Snapshotter, audit BackupRecorder, opts BackupOptions) *BackupJob {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BackupJob{
		store:  store,
		audit:  audit,
		opts:   opts,
		logger: logger.With("job", "backup"),
	}
}

// Run performs one backup and returns what was recorded. Stores that cannot
// snapshot are recorded as skipped.
func (j *BackupJob) Run(ctx context.Context) application.BackupRecord {
	record := application.BackupRecord{Type: j.opts.Kind}
	if j.store == nil {
		record.Status = application.BackupSkipped
		j.record(ctx, record)
		return record
	}

	runCtx, cancel := context.WithTimeout(ctx, j.opts.Timeout)
	defer cancel()

	start := j.opts.Now()
	path, err := j.store.Backup(runCtx, j.opts.Dir)
	record.Duration = j.opts.Now().Sub(start)

	switch {
	case errors.Is(err, persistence.ErrBackupUnsupported):
		record.Status = application.BackupSkipped
		j.logger.InfoContext(ctx, "backup skipped", "type", record.Type)
	case err != nil:
		record.Status = application.BackupFailed
		j.logger.ErrorContext(ctx, "backup failed", "type", record.Type, "error", err)
	default:
		record.Status = application.BackupSuccess
		record.Path = path
		j.logger.InfoContext(ctx, "backup completed", "type", record.Type, "path", path, "duration_ms", record.Duration.Milliseconds())
	}
	j.record(ctx, record)
	return record
}

func (j *BackupJob) record(ctx context.Context, record application.BackupRecord) {
	if j.audit != nil {
		j.audit.RecordBackup(ctx, record)
	}
}

// Register adds the job to c under a standard five field cron expression.
// Each run derives its context from ctx.
func (j *BackupJob) Register(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() { j.Run(ctx) })
	if err != nil {
		return 0, fmt.Errorf("schedule backup %q: %w", spec, err)
	}
	return id, nil
}

// NewScheduler returns a cron runner that skips overlapping runs, recovers
// from panics and logs through logger.
func NewScheduler(loc *time.Location, logger *slog.Logger) *cron.Cron {
	if loc == nil {
		loc = time.UTC
	}
	adapter := cronLogger{logger: logger}
	if adapter.logger == nil {
		adapter.logger = slog.Default()
	}
	return cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
