package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/classroom-attendance/internal/persistence"
)

const defaultAuditTimeout = 3 * time.Second

// AuditService appends SystemLog and BackupLog entries. Writes are best
// effort: they never return errors and never join the caller's transaction.
type AuditService struct {
	store       persistence.Store
	idGenerator func() string
	now         func() time.Time
	metrics     Metrics
	timeout     time.Duration
	logger      *slog.Logger
}

// NewAuditService constructs an audit service with the provided dependencies.
func NewAuditService(store persistence.Store, idGenerator func() string, now func() time.Time, metrics Metrics) *AuditService {
	return NewAuditServiceWithLogger(store, idGenerator, now, metrics, nil)
}

// NewAuditServiceWithLogger constructs an audit service with a specified logger.
func NewAuditServiceWithLogger(store persistence.Store, idGenerator func() string, now func() time.Time, metrics Metrics, logger *slog.Logger) *AuditService {
	return &AuditService{
		store:       store,
		idGenerator: defaultIDs(idGenerator),
		now:         defaultNow(now),
		metrics:     metricsOrNoop(metrics),
		timeout:     defaultAuditTimeout,
		logger:      defaultLogger(logger),
	}
}

func (s *AuditService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AuditService", operation, attrs...)
}

// detached returns a context that survives the caller's cancellation but is
// still bounded by the audit timeout.
func (s *AuditService) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

// Log appends a SystemLog entry. Failures are logged and counted, never returned.
func (s *AuditService) Log(ctx context.Context, level LogLevel, message string, meta LogMeta) {
	if s == nil || s.store == nil {
		return
	}
	logger := s.loggerWith(ctx, "Log", "level", string(level))

	encoded, err := EncodeLogMeta(meta)
	if err != nil {
		logger.WarnContext(ctx, "dropping unencodable log meta", "error", err)
		encoded = nil
	}

	entry := persistence.SystemLog{
		ID:        s.idGenerator(),
		Level:     level,
		Message:   message,
		Meta:      encoded,
		CreatedAt: s.now().UTC(),
	}

	writeCtx, cancel := s.detached(ctx)
	defer cancel()
	if err := s.store.WithTx(writeCtx, func(q persistence.Queries) error {
		return q.AppendSystemLog(writeCtx, entry)
	}); err != nil {
		s.metrics.AuditWriteFailed("system_log")
		logger.ErrorContext(ctx, "failed to append system log", "error", err, "message", message)
	}
}

// RecordBackup appends a BackupLog entry. Failures are logged and counted, never returned.
func (s *AuditService) RecordBackup(ctx context.Context, record BackupRecord) {
	if s == nil {
		return
	}
	s.metrics.BackupRecorded(string(record.Status))
	if s.store == nil {
		return
	}
	logger := s.loggerWith(ctx, "RecordBackup", "status", string(record.Status), "type", record.Type)

	entry := persistence.BackupLog{
		ID:        s.idGenerator(),
		Status:    record.Status,
		Type:      record.Type,
		CreatedAt: s.now().UTC(),
	}
	if record.Path != "" {
		path := record.Path
		entry.Path = &path
	}
	if record.Duration > 0 {
		ms := record.Duration.Milliseconds()
		entry.DurationMS = &ms
	}

	writeCtx, cancel := s.detached(ctx)
	defer cancel()
	if err := s.store.WithTx(writeCtx, func(q persistence.Queries) error {
		return q.AppendBackupLog(writeCtx, entry)
	}); err != nil {
		s.metrics.AuditWriteFailed("backup_log")
		logger.ErrorContext(ctx, "failed to append backup log", "error", err)
	}
}

// ListSystemLogs returns entries newest first.
func (s *AuditService) ListSystemLogs(ctx context.Context, principal Principal, filter SystemLogFilter) (logs []SystemLog, err error) {
	if s == nil {
		err = fmt.Errorf("AuditService is nil")
		return
	}
	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	logger := s.loggerWith(ctx, "ListSystemLogs", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to list system logs", err)
			return
		}
		logger.With("result_count", len(logs)).DebugContext(ctx, "system logs listed")
	}()

	err = runView(ctx, s.store, "list system logs", func(q persistence.Queries) error {
		var viewErr error
		logs, viewErr = q.ListSystemLogs(ctx, filter)
		return viewErr
	})
	return
}

// ListBackupLogs returns up to limit entries, newest first.
func (s *AuditService) ListBackupLogs(ctx context.Context, principal Principal, limit int) (logs []BackupLog, err error) {
	if s == nil {
		err = fmt.Errorf("AuditService is nil")
		return
	}
	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	logger := s.loggerWith(ctx, "ListBackupLogs", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to list backup logs", err)
		}
	}()

	err = runView(ctx, s.store, "list backup logs", func(q persistence.Queries) error {
		var viewErr error
		logs, viewErr = q.ListBackupLogs(ctx, limit)
		return viewErr
	})
	return
}
