package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/classroom-attendance/internal/persistence"
)

const (
	defaultAttendanceGrace = 10 * time.Minute
	defaultLateAfter       = 5 * time.Minute
)

// AttendanceOptions configures the attendance recorder.
type AttendanceOptions struct {
	// Grace extends the session window on both sides. The
	// attendance.grace_period setting overrides it at runtime. Zero selects
	// the ten minute default.
	Grace time.Duration
	// LateAfter is how long after the session start an automated signal
	// without a status still counts as PRESENT.
	LateAfter time.Duration
	Marks     RecentMarks
	Matcher   FaceMatcher
	Metrics   Metrics
}

func (o AttendanceOptions) withDefaults() AttendanceOptions {
	if o.Grace < 0 {
		o.Grace = 0
	}
	if o.Grace == 0 {
		o.Grace = defaultAttendanceGrace
	}
	if o.LateAfter <= 0 {
		o.LateAfter = defaultLateAfter
	}
	if o.Marks == nil {
		o.Marks = noopMarks{}
	}
	o.Metrics = metricsOrNoop(o.Metrics)
	return o
}

// AttendanceService records at most one attendance row per student and
// session. Automated signals are first-writer-wins, manual corrections are
// last-writer-wins, and a manual correction is never overwritten by an
// automated signal.
type AttendanceService struct {
	store       persistence.Store
	audit       *AuditService
	idGenerator func() string
	now         func() time.Time
	policies    Policies
	opts        AttendanceOptions
	logger      *slog.Logger
}

// NewAttendanceService constructs an attendance service with the provided dependencies.
func NewAttendanceService(store persistence.Store, audit *AuditService, idGenerator func() string, now func() time.Time, policies Policies, opts AttendanceOptions) *AttendanceService {
	return NewAttendanceServiceWithLogger(store, audit, idGenerator, now, policies, opts, nil)
}

// NewAttendanceServiceWithLogger constructs an attendance service with a specified logger.
func NewAttendanceServiceWithLogger(store persistence.Store, audit *AuditService, idGenerator func() string, now func() time.Time, policies Policies, opts AttendanceOptions, logger *slog.Logger) *AttendanceService {
	return &AttendanceService{
		store:       store,
		audit:       audit,
		idGenerator: defaultIDs(idGenerator),
		now:         defaultNow(now),
		policies:    policies.withDefaults(),
		opts:        opts.withDefaults(),
		logger:      defaultLogger(logger),
	}
}

func (s *AttendanceService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AttendanceService", operation, attrs...)
}

// RecordAttendance applies one attendance signal for a student and session.
//
// The unique (student, session) key decides races: the insert that lands
// first creates the row and every other writer observes the conflict. A
// conflicting FACE_MATCH signal is ignored; a conflicting MANUAL signal
// overwrites status, timestamp and source and is written to the system log.
func (s *AttendanceService) RecordAttendance(ctx context.Context, params RecordAttendanceParams) (outcome AttendanceOutcome, err error) {
	if s == nil {
		err = fmt.Errorf("AttendanceService is nil")
		return
	}
	params.StudentID = strings.TrimSpace(params.StudentID)
	params.SessionID = strings.TrimSpace(params.SessionID)

	logger := s.loggerWith(ctx, "RecordAttendance",
		"student_id", params.StudentID,
		"session_id", params.SessionID,
		"source", string(params.Source),
	)
	defer func() {
		if err != nil {
			s.opts.Metrics.AttendanceRejected(ErrorKind(err))
			logFailure(ctx, logger, "attendance rejected", err)
			return
		}
		s.opts.Metrics.AttendanceRecorded(string(outcome), string(params.Source))
		logger.InfoContext(ctx, "attendance recorded", "outcome", string(outcome))
	}()

	vErr := validateStruct(params)
	if params.Source == SourceManual && params.Status == "" {
		vErr.add("status", "status is required for manual corrections")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	if params.Source == SourceFaceMatch {
		seen, markErr := s.opts.Marks.Seen(ctx, params.StudentID, params.SessionID)
		if markErr != nil {
			logger.WarnContext(ctx, "recent mark lookup failed, falling back to datastore", "error", markErr)
		}
		if seen {
			outcome = OutcomeDuplicateIgnored
			return
		}
	}

	observedAt := params.ObservedAt.UTC()
	now := s.now().UTC()
	var correction *CorrectionMeta

	err = runTx(ctx, s.store, "record attendance", func(q persistence.Queries) error {
		outcome, correction = "", nil
		session, getErr := q.GetSession(ctx, params.SessionID)
		if getErr != nil {
			return missing("session", params.SessionID, getErr)
		}
		grace := s.graceWindow(ctx, q, logger)
		if observedAt.Before(session.StartTime.Add(-grace)) || observedAt.After(session.EndTime.Add(grace)) {
			return policy(ErrOutOfWindow, "session", session.ID, fmt.Sprintf("observed at %s, window %s to %s with %s grace",
				observedAt.Format(time.RFC3339), session.StartTime.Format(time.RFC3339), session.EndTime.Format(time.RFC3339), grace))
		}
		if rosterErr := s.checkRoster(ctx, q, session, params.StudentID); rosterErr != nil {
			return rosterErr
		}

		status := params.Status
		if status == "" {
			status = StatusPresent
			if observedAt.After(session.StartTime.Add(s.opts.LateAfter)) {
				status = StatusLate
			}
		}

		inserted, insertErr := q.InsertAttendance(ctx, Attendance{
			ID:        s.idGenerator(),
			StudentID: params.StudentID,
			SessionID: params.SessionID,
			Status:    status,
			Source:    params.Source,
			Timestamp: observedAt,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if insertErr != nil {
			return insertErr
		}
		if inserted {
			outcome = OutcomeCreated
			return nil
		}

		existing, lockErr := q.LockAttendance(ctx, params.StudentID, params.SessionID)
		if lockErr != nil {
			return lockErr
		}
		if params.Source == SourceFaceMatch {
			outcome = OutcomeDuplicateIgnored
			return nil
		}

		correction = &CorrectionMeta{
			AttendanceID: existing.ID,
			StudentID:    existing.StudentID,
			SessionID:    existing.SessionID,
			OldStatus:    existing.Status,
			NewStatus:    status,
			OldSource:    existing.Source,
			ActorID:      params.ActorID,
			ObservedAt:   observedAt,
		}
		existing.Status = status
		existing.Source = SourceManual
		existing.Timestamp = observedAt
		existing.UpdatedAt = now
		if updateErr := q.UpdateAttendance(ctx, existing); updateErr != nil {
			return updateErr
		}
		outcome = OutcomeCorrected
		return nil
	})
	if err != nil {
		outcome = ""
		return
	}

	if correction != nil {
		s.audit.Log(ctx, LogLevelInfo, "attendance corrected", *correction)
	}
	if markErr := s.opts.Marks.Mark(ctx, params.StudentID, params.SessionID); markErr != nil {
		logger.WarnContext(ctx, "failed to remember recent mark", "error", markErr)
	}
	return
}

// checkRoster accepts a student on the class roster, or on the session
// roster alone when drop-ins are allowed.
func (s *AttendanceService) checkRoster(ctx context.Context, q persistence.Queries, session Session, studentID string) error {
	if _, err := q.GetStudent(ctx, studentID); err != nil {
		return missing("student", studentID, err)
	}
	inClass, err := q.IsClassStudent(ctx, session.ClassID, studentID)
	if err != nil || inClass {
		return err
	}
	inSession, err := q.IsSessionStudent(ctx, session.ID, studentID)
	if err != nil {
		return err
	}
	if inSession && s.policies.AcceptSessionRosterOnly {
		return nil
	}
	detail := "student is on neither the class nor the session roster"
	if inSession {
		detail = "student is only on the session roster"
	}
	return policy(ErrNotEnrolled, "student", studentID, detail)
}

// graceWindow returns the runtime override when one is stored and valid.
func (s *AttendanceService) graceWindow(ctx context.Context, q persistence.Queries, logger *slog.Logger) time.Duration {
	setting, err := q.GetSetting(ctx, SettingAttendanceGrace)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			logger.WarnContext(ctx, "failed to read grace setting, using configured value", "error", err)
		}
		return s.opts.Grace
	}
	grace, err := parseGrace(setting.Value)
	if err != nil {
		logger.WarnContext(ctx, "ignoring invalid grace setting", "error", err)
		return s.opts.Grace
	}
	return grace
}

// RecognizeAndRecord resolves a captured embedding to a student and records a
// FACE_MATCH signal for the session.
func (s *AttendanceService) RecognizeAndRecord(ctx context.Context, embedding []byte, sessionID string, observedAt time.Time) (result RecognitionResult, err error) {
	if s == nil {
		err = fmt.Errorf("AttendanceService is nil")
		return
	}
	if s.opts.Matcher == nil {
		err = &InfrastructureError{Op: "recognize face", Err: errors.New("face matcher not configured")}
		return
	}
	if len(embedding) == 0 {
		vErr := &ValidationError{Reason: ErrInvalidEmbedding}
		vErr.add("embedding", "embedding is required")
		err = vErr
		return
	}

	studentID, ok, matchErr := s.opts.Matcher.MatchFace(ctx, embedding)
	if matchErr != nil {
		var vErr *ValidationError
		if errors.As(matchErr, &vErr) {
			err = vErr
		} else {
			err = &InfrastructureError{Op: "recognize face", Err: matchErr}
		}
		logFailure(ctx, s.loggerWith(ctx, "RecognizeAndRecord", "session_id", sessionID), "face match failed", err)
		return
	}
	if !ok {
		err = policy(ErrNoFaceMatch, "session", sessionID, "")
		s.opts.Metrics.AttendanceRejected(ErrorKind(err))
		logFailure(ctx, s.loggerWith(ctx, "RecognizeAndRecord", "session_id", sessionID), "face not recognized", err)
		return
	}

	result.StudentID = studentID
	result.Outcome, err = s.RecordAttendance(ctx, RecordAttendanceParams{
		StudentID:  studentID,
		SessionID:  sessionID,
		ObservedAt: observedAt,
		Source:     SourceFaceMatch,
	})
	return
}

// GetAttendance returns the row for a student and session.
func (s *AttendanceService) GetAttendance(ctx context.Context, studentID, sessionID string) (attendance Attendance, err error) {
	if s == nil {
		err = fmt.Errorf("AttendanceService is nil")
		return
	}
	err = runView(ctx, s.store, "get attendance", func(q persistence.Queries) error {
		var viewErr error
		attendance, viewErr = q.GetAttendance(ctx, studentID, sessionID)
		return missing("attendance", studentID+"/"+sessionID, viewErr)
	})
	return
}

// ListSessionAttendance returns the rows of a session ordered by timestamp.
func (s *AttendanceService) ListSessionAttendance(ctx context.Context, sessionID string) (rows []Attendance, err error) {
	if s == nil {
		err = fmt.Errorf("AttendanceService is nil")
		return
	}
	err = runView(ctx, s.store, "list session attendance", func(q persistence.Queries) error {
		if _, getErr := q.GetSession(ctx, sessionID); getErr != nil {
			return missing("session", sessionID, getErr)
		}
		var viewErr error
		rows, viewErr = q.ListAttendanceBySession(ctx, sessionID)
		return viewErr
	})
	return
}

// ListStudentAttendance returns the rows of a student ordered by timestamp.
func (s *AttendanceService) ListStudentAttendance(ctx context.Context, studentID string) (rows []Attendance, err error) {
	if s == nil {
		err = fmt.Errorf("AttendanceService is nil")
		return
	}
	err = runView(ctx, s.store, "list student attendance", func(q persistence.Queries) error {
		if _, getErr := q.GetStudent(ctx, studentID); getErr != nil {
			return missing("student", studentID, getErr)
		}
		var viewErr error
		rows, viewErr = q.ListAttendanceByStudent(ctx, studentID)
		return viewErr
	})
	return
}
