package application

import (
	"context"
	"log/slog"
	"time"
)

// FaceMatcher resolves a captured embedding to the enrolled student it belongs to.
type FaceMatcher interface {
	MatchFace(ctx context.Context, embedding []byte) (studentID string, ok bool, err error)
}

// EmbeddingValidator performs the shape and quality check on an embedding before enrollment.
type EmbeddingValidator interface {
	ValidateEmbedding(embedding []byte) error
}

// RecentMarks remembers (student, session) pairs that already have attendance
// so repeated camera frames can be absorbed without a datastore round trip.
// Implementations are advisory: the datastore stays authoritative. Forget
// must be called once the attendance row behind a mark is deleted.
type RecentMarks interface {
	Seen(ctx context.Context, studentID, sessionID string) (bool, error)
	Mark(ctx context.Context, studentID, sessionID string) error
	Forget(ctx context.Context, studentID, sessionID string) error
}

// Metrics receives domain counters. Labels are plain strings so exporters
// need not import this package.
type Metrics interface {
	AttendanceRecorded(outcome, source string)
	AttendanceRejected(reason string)
	SignIn(result string)
	AuditWriteFailed(kind string)
	BackupRecorded(status string)
}

type noopMetrics struct{}

func (noopMetrics) AttendanceRecorded(string, string) {}
func (noopMetrics) AttendanceRejected(string)         {}
func (noopMetrics) SignIn(string)                     {}
func (noopMetrics) AuditWriteFailed(string)           {}
func (noopMetrics) BackupRecorded(string)             {}

func metricsOrNoop(m Metrics) Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

type noopMarks struct{}

func (noopMarks) Seen(context.Context, string, string) (bool, error) { return false, nil }
func (noopMarks) Mark(context.Context, string, string) error         { return nil }
func (noopMarks) Forget(context.Context, string, string) error       { return nil }

func marksOrNoop(m RecentMarks) RecentMarks {
	if m == nil {
		return noopMarks{}
	}
	return m
}

// forgetMarks drops the recent marks of deleted attendance rows. Failures
// are logged; a stale mark expires with its TTL.
func forgetMarks(ctx context.Context, marks RecentMarks, logger *slog.Logger, rows []Attendance) {
	for _, row := range rows {
		if err := marks.Forget(ctx, row.StudentID, row.SessionID); err != nil {
			logger.WarnContext(ctx, "failed to forget recent mark", "student_id", row.StudentID, "session_id", row.SessionID, "error", err)
		}
	}
}

func defaultIDs(idGenerator func() string) func() string {
	if idGenerator == nil {
		return func() string { return "" }
	}
	return idGenerator
}

func defaultNow(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
