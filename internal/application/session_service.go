package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/classroom-attendance/internal/persistence"
	"github.com/example/classroom-attendance/internal/recurrence"
	"github.com/example/classroom-attendance/internal/scheduler"
)

// maxSeriesOccurrences bounds a series whose rule only has an end date.
const maxSeriesOccurrences = 366

// SessionService manages classes and their time-bounded sessions.
type SessionService struct {
	store       persistence.Store
	audit       *AuditService
	engine      *recurrence.Engine
	idGenerator func() string
	now         func() time.Time
	policies    Policies
	marks       RecentMarks
	logger      *slog.Logger
}

// NewSessionService constructs a session service. A nil engine evaluates
// recurring series in UTC.
func NewSessionService(store persistence.Store, audit *AuditService, engine *recurrence.Engine, idGenerator func() string, now func() time.Time, policies Policies) *SessionService {
	return NewSessionServiceWithLogger(store, audit, engine, idGenerator, now, policies, nil)
}

// NewSessionServiceWithLogger constructs a session service with a specified logger.
func NewSessionServiceWithLogger(store persistence.Store, audit *AuditService, engine *recurrence.Engine, idGenerator func() string, now func() time.Time, policies Policies, logger *slog.Logger) *SessionService {
	if engine == nil {
		engine = recurrence.NewEngine(time.UTC)
	}
	return &SessionService{
		store:       store,
		audit:       audit,
		engine:      engine,
		idGenerator: defaultIDs(idGenerator),
		now:         defaultNow(now),
		policies:    policies.withDefaults(),
		marks:       noopMarks{},
		logger:      defaultLogger(logger),
	}
}

// UseMarks sets the recent-mark cache cleared when a cascade removes
// attendance.
func (s *SessionService) UseMarks(m RecentMarks) *SessionService {
	s.marks = marksOrNoop(m)
	return s
}

func (s *SessionService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "SessionService", operation, attrs...)
}

func normalizeClassInput(input ClassInput) ClassInput {
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	input.Location = strings.TrimSpace(input.Location)
	input.TeacherID = strings.TrimSpace(input.TeacherID)
	return input
}

// CreateClass creates an active class taught by an existing teacher.
func (s *SessionService) CreateClass(ctx context.Context, principal Principal, input ClassInput) (class Class, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	input = normalizeClassInput(input)
	logger := s.loggerWith(ctx, "CreateClass", "principal_id", principal.UserID, "teacher_id", input.TeacherID)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to create class", err)
			return
		}
		logger.InfoContext(ctx, "class created", "class_id", class.ID)
	}()

	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	if vErr := validateStruct(input); vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now().UTC()
	class = Class{
		ID:          s.idGenerator(),
		Name:        input.Name,
		Description: input.Description,
		Capacity:    input.Capacity,
		Location:    input.Location,
		IsActive:    true,
		TeacherID:   input.TeacherID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = runTx(ctx, s.store, "create class", func(q persistence.Queries) error {
		if _, getErr := q.GetTeacher(ctx, input.TeacherID); getErr != nil {
			return missing("teacher", input.TeacherID, getErr)
		}
		return q.CreateClass(ctx, class)
	})
	if err != nil {
		class = Class{}
	}
	return
}

// UpdateClass replaces the editable fields of a class. Capacity may not drop
// below the current roster size.
func (s *SessionService) UpdateClass(ctx context.Context, principal Principal, classID string, input ClassInput) (class Class, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	input = normalizeClassInput(input)
	logger := s.loggerWith(ctx, "UpdateClass", "principal_id", principal.UserID, "class_id", classID)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to update class", err)
			return
		}
		logger.InfoContext(ctx, "class updated")
	}()

	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	if vErr := validateStruct(input); vErr.HasErrors() {
		err = vErr
		return
	}

	err = runTx(ctx, s.store, "update class", func(q persistence.Queries) error {
		current, lockErr := q.LockClass(ctx, classID)
		if lockErr != nil {
			return missing("class", classID, lockErr)
		}
		if input.TeacherID != current.TeacherID {
			if _, getErr := q.GetTeacher(ctx, input.TeacherID); getErr != nil {
				return missing("teacher", input.TeacherID, getErr)
			}
		}
		enrolled, countErr := q.CountClassStudents(ctx, classID)
		if countErr != nil {
			return countErr
		}
		if input.Capacity < enrolled {
			vErr := &ValidationError{}
			vErr.add("capacity", fmt.Sprintf("capacity must be at least the %d enrolled students", enrolled))
			return vErr
		}
		current.Name = input.Name
		current.Description = input.Description
		current.Capacity = input.Capacity
		current.Location = input.Location
		current.TeacherID = input.TeacherID
		current.UpdatedAt = s.now().UTC()
		class = current
		return q.UpdateClass(ctx, current)
	})
	return
}

// SetClassActive opens or closes a class. Inactive classes accept no new
// sessions or roster members.
func (s *SessionService) SetClassActive(ctx context.Context, principal Principal, classID string, active bool) (err error) {
	if s == nil {
		return fmt.Errorf("SessionService is nil")
	}
	logger := s.loggerWith(ctx, "SetClassActive", "principal_id", principal.UserID, "class_id", classID, "active", active)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to change class state", err)
			return
		}
		logger.InfoContext(ctx, "class state changed")
	}()

	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	err = runTx(ctx, s.store, "set class active", func(q persistence.Queries) error {
		class, lockErr := q.LockClass(ctx, classID)
		if lockErr != nil {
			return missing("class", classID, lockErr)
		}
		if class.IsActive == active {
			return nil
		}
		class.IsActive = active
		class.UpdatedAt = s.now().UTC()
		return q.UpdateClass(ctx, class)
	})
	return
}

// GetClass returns a class by ID.
func (s *SessionService) GetClass(ctx context.Context, classID string) (class Class, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	err = runView(ctx, s.store, "get class", func(q persistence.Queries) error {
		var viewErr error
		class, viewErr = q.GetClass(ctx, classID)
		return missing("class", classID, viewErr)
	})
	return
}

// ListClasses returns the classes of a teacher, or every class when
// teacherID is empty.
func (s *SessionService) ListClasses(ctx context.Context, teacherID string) (classes []Class, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	err = runView(ctx, s.store, "list classes", func(q persistence.Queries) error {
		var viewErr error
		classes, viewErr = q.ListClasses(ctx, teacherID)
		return viewErr
	})
	return
}

// CreateSession schedules one occurrence of a class. Overlap with an existing
// session of the same class is rejected, or reported through the returned
// warnings when the overlap policy is warn.
func (s *SessionService) CreateSession(ctx context.Context, params CreateSessionParams) (session Session, warnings []OverlapWarning, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	params.Name = strings.TrimSpace(params.Name)
	logger := s.loggerWith(ctx, "CreateSession", "class_id", params.ClassID)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to create session", err)
			return
		}
		logger.InfoContext(ctx, "session created", "session_id", session.ID, "overlap_count", len(warnings))
	}()

	vErr := validateStruct(params)
	if !params.StartTime.IsZero() && !params.EndTime.IsZero() && !params.EndTime.After(params.StartTime) {
		vErr.add("end_time", "end_time must be after start_time")
		vErr.Reason = ErrInvalidWindow
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now().UTC()
	candidate := Session{
		ID:        s.idGenerator(),
		Name:      params.Name,
		StartTime: params.StartTime.UTC(),
		EndTime:   params.EndTime.UTC(),
		ClassID:   params.ClassID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = runTx(ctx, s.store, "create session", func(q persistence.Queries) error {
		existing, loadErr := s.activeClassSessions(ctx, q, params.ClassID)
		if loadErr != nil {
			return loadErr
		}
		found, checkErr := s.checkOverlaps(existing, []Session{candidate})
		if checkErr != nil {
			return checkErr
		}
		warnings = found
		return q.CreateSession(ctx, candidate)
	})
	if err != nil {
		warnings = nil
		return
	}
	session = candidate
	s.logOverlaps(ctx, params.ClassID, warnings)
	return
}

// CreateSessionSeries expands a daily or weekly rule from the template window
// and creates every occurrence in one transaction. Occurrence names carry a
// 1-based "#n" suffix.
func (s *SessionService) CreateSessionSeries(ctx context.Context, params CreateSessionSeriesParams) (sessions []Session, warnings []OverlapWarning, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	params.Name = strings.TrimSpace(params.Name)
	params.Frequency = strings.ToLower(strings.TrimSpace(params.Frequency))
	logger := s.loggerWith(ctx, "CreateSessionSeries", "class_id", params.ClassID, "frequency", params.Frequency)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to create session series", err)
			return
		}
		logger.InfoContext(ctx, "session series created", "session_count", len(sessions), "overlap_count", len(warnings))
	}()

	vErr := validateStruct(params)
	if !params.FirstStart.IsZero() && !params.FirstEnd.IsZero() && !params.FirstEnd.After(params.FirstStart) {
		vErr.add("first_end", "first_end must be after first_start")
		vErr.Reason = ErrInvalidWindow
	}
	if params.Until == nil && params.Count == 0 {
		vErr.add("until", "until or count is required")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	occurrences, genErr := s.expandSeries(params)
	if genErr != nil {
		vErr.add("frequency", genErr.Error())
		err = vErr
		return
	}
	if len(occurrences) == 0 {
		vErr.add("until", "the rule produces no sessions")
		err = vErr
		return
	}

	now := s.now().UTC()
	batch := make([]Session, 0, len(occurrences))
	for _, occ := range occurrences {
		batch = append(batch, Session{
			ID:        s.idGenerator(),
			Name:      fmt.Sprintf("%s #%d", params.Name, occ.Index+1),
			StartTime: occ.Start.UTC(),
			EndTime:   occ.End.UTC(),
			ClassID:   params.ClassID,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	err = runTx(ctx, s.store, "create session series", func(q persistence.Queries) error {
		existing, loadErr := s.activeClassSessions(ctx, q, params.ClassID)
		if loadErr != nil {
			return loadErr
		}
		found, checkErr := s.checkOverlaps(existing, batch)
		if checkErr != nil {
			return checkErr
		}
		warnings = found
		for _, session := range batch {
			if createErr := q.CreateSession(ctx, session); createErr != nil {
				return createErr
			}
		}
		return nil
	})
	if err != nil {
		warnings = nil
		return
	}
	sessions = batch
	s.logOverlaps(ctx, params.ClassID, warnings)
	return
}

func (s *SessionService) expandSeries(params CreateSessionSeriesParams) ([]recurrence.Occurrence, error) {
	freq, err := recurrence.ParseFrequency(params.Frequency)
	if err != nil {
		return nil, err
	}
	loc := s.engine.Location()
	weekdays := params.Weekdays
	if freq == recurrence.FrequencyWeekly && len(weekdays) == 0 {
		weekdays = []time.Weekday{params.FirstStart.In(loc).Weekday()}
	}

	limit := params.Count
	if limit == 0 || limit > maxSeriesOccurrences {
		limit = maxSeriesOccurrences
	}
	return s.engine.GenerateOccurrences(recurrence.Rule{
		Frequency: freq,
		Weekdays:  weekdays,
		StartsOn:  params.FirstStart,
		EndsOn:    params.Until,
	}, params.FirstStart, params.FirstEnd, recurrence.GenerateOptions{Limit: limit})
}

// activeClassSessions verifies the class can take new sessions and returns
// the ones it already has.
func (s *SessionService) activeClassSessions(ctx context.Context, q persistence.Queries, classID string) ([]Session, error) {
	class, err := q.LockClass(ctx, classID)
	if err != nil {
		return nil, missing("class", classID, err)
	}
	if !class.IsActive {
		return nil, policy(ErrClassInactive, "class", classID, "")
	}
	return q.ListSessions(ctx, classID)
}

// checkOverlaps applies the overlap policy to a batch of new sessions against
// the existing ones and against each other.
func (s *SessionService) checkOverlaps(existing, batch []Session) ([]OverlapWarning, error) {
	windows := make([]scheduler.Window, 0, len(existing))
	for _, session := range existing {
		windows = append(windows, sessionWindow(session))
	}
	candidates := make([]scheduler.Window, 0, len(batch))
	for _, session := range batch {
		candidates = append(candidates, sessionWindow(session))
	}

	var warnings []OverlapWarning
	collect := func(sessionID string, overlaps []scheduler.Overlap) {
		for _, o := range overlaps {
			warnings = append(warnings, OverlapWarning{
				SessionID:     sessionID,
				WithSessionID: o.WithID,
				WithName:      o.WithName,
				Start:         o.Start,
				End:           o.End,
				Overlap:       o.Duration,
			})
		}
	}
	for _, candidate := range candidates {
		collect(candidate.ID, scheduler.DetectOverlaps(windows, candidate))
	}
	internal := scheduler.DetectInternalOverlaps(candidates)
	for _, candidate := range candidates {
		collect(candidate.ID, internal[candidate.ID])
	}

	if len(warnings) > 0 && s.policies.OverlapPolicy == OverlapReject {
		first := warnings[0]
		return nil, policy(ErrOverlappingSession, "session", first.WithSessionID,
			fmt.Sprintf("overlaps %q from %s to %s", first.WithName, first.Start.Format(time.RFC3339), first.End.Format(time.RFC3339)))
	}
	return warnings, nil
}

func sessionWindow(session Session) scheduler.Window {
	return scheduler.Window{ID: session.ID, Name: session.Name, Start: session.StartTime, End: session.EndTime}
}

func (s *SessionService) logOverlaps(ctx context.Context, classID string, warnings []OverlapWarning) {
	if len(warnings) == 0 {
		return
	}
	bySession := make(map[string][]string)
	var order []string
	for _, w := range warnings {
		if _, ok := bySession[w.SessionID]; !ok {
			order = append(order, w.SessionID)
		}
		bySession[w.SessionID] = append(bySession[w.SessionID], w.WithSessionID)
	}
	for _, sessionID := range order {
		s.audit.Log(ctx, LogLevelWarn, "session created with overlaps", SessionMeta{
			SessionID:   sessionID,
			ClassID:     classID,
			OverlapsIDs: bySession[sessionID],
		})
	}
}

// GetSession returns a session by ID.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (session Session, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	err = runView(ctx, s.store, "get session", func(q persistence.Queries) error {
		var viewErr error
		session, viewErr = q.GetSession(ctx, sessionID)
		return missing("session", sessionID, viewErr)
	})
	return
}

// ListSessions returns the sessions of a class ordered by start time.
func (s *SessionService) ListSessions(ctx context.Context, classID string) (sessions []Session, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	err = runView(ctx, s.store, "list sessions", func(q persistence.Queries) error {
		if _, getErr := q.GetClass(ctx, classID); getErr != nil {
			return missing("class", classID, getErr)
		}
		var viewErr error
		sessions, viewErr = q.ListSessions(ctx, classID)
		return viewErr
	})
	return
}

// DeleteSession removes a session and its drop-in roster. Recorded attendance
// blocks the deletion unless the delete policy is cascade.
func (s *SessionService) DeleteSession(ctx context.Context, principal Principal, sessionID string) (err error) {
	if s == nil {
		return fmt.Errorf("SessionService is nil")
	}
	cascade := s.policies.DeletePolicy == DeleteCascade
	logger := s.loggerWith(ctx, "DeleteSession", "principal_id", principal.UserID, "session_id", sessionID, "cascade", cascade)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to delete session", err)
			return
		}
		logger.InfoContext(ctx, "session deleted")
	}()

	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	var cleared []Attendance
	err = runTx(ctx, s.store, "delete session", func(q persistence.Queries) error {
		cleared = nil
		if _, getErr := q.GetSession(ctx, sessionID); getErr != nil {
			return missing("session", sessionID, getErr)
		}
		if cascade {
			rows, listErr := q.ListAttendanceBySession(ctx, sessionID)
			if listErr != nil {
				return listErr
			}
			cleared = rows
			if delErr := q.DeleteAttendanceForSession(ctx, sessionID); delErr != nil {
				return delErr
			}
		}
		delErr := q.DeleteSession(ctx, sessionID)
		if errors.Is(delErr, persistence.ErrForeignKeyViolation) {
			return policy(ErrDeletionRestricted, "session", sessionID, "session has recorded attendance")
		}
		return delErr
	})
	if err == nil {
		forgetMarks(ctx, s.marks, logger, cleared)
		s.audit.Log(ctx, LogLevelInfo, "session deleted", RosterMeta{Action: "delete_session", SessionID: sessionID, UserID: principal.UserID, Cascade: cascade})
	}
	return
}
