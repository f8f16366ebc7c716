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

// RosterService manages student and teacher profiles and their membership in
// class and session rosters.
type RosterService struct {
	store       persistence.Store
	audit       *AuditService
	idGenerator func() string
	now         func() time.Time
	policies    Policies
	marks       RecentMarks
	logger      *slog.Logger
}

// NewRosterService constructs a roster service with the provided dependencies.
func NewRosterService(store persistence.Store, audit *AuditService, idGenerator func() string, now func() time.Time, policies Policies) *RosterService {
	return NewRosterServiceWithLogger(store, audit, idGenerator, now, policies, nil)
}

// NewRosterServiceWithLogger constructs a roster service with a specified logger.
func NewRosterServiceWithLogger(store persistence.Store, audit *AuditService, idGenerator func() string, now func() time.Time, policies Policies, logger *slog.Logger) *RosterService {
	return &RosterService{
		store:       store,
		audit:       audit,
		idGenerator: defaultIDs(idGenerator),
		now:         defaultNow(now),
		policies:    policies.withDefaults(),
		marks:       noopMarks{},
		logger:      defaultLogger(logger),
	}
}

// UseMarks sets the recent-mark cache cleared when a cascade removes
// attendance.
func (s *RosterService) UseMarks(m RecentMarks) *RosterService {
	s.marks = marksOrNoop(m)
	return s
}

func (s *RosterService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "RosterService", operation, attrs...)
}

// EnrollStudentInClass adds a student to a class roster. Re-adding a member
// is a no-op, even once the class is inactive. The roster size is counted under the class lock, so capacity
// holds under concurrent enrollments.
func (s *RosterService) EnrollStudentInClass(ctx context.Context, studentID, classID string) (err error) {
	if s == nil {
		return fmt.Errorf("RosterService is nil")
	}
	logger := s.loggerWith(ctx, "EnrollStudentInClass", "student_id", studentID, "class_id", classID)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to enroll student in class", err)
			return
		}
		logger.InfoContext(ctx, "student enrolled in class")
	}()

	err = runTx(ctx, s.store, "enroll student in class", func(q persistence.Queries) error {
		class, lockErr := q.LockClass(ctx, classID)
		if lockErr != nil {
			return missing("class", classID, lockErr)
		}
		if _, getErr := q.GetStudent(ctx, studentID); getErr != nil {
			return missing("student", studentID, getErr)
		}
		member, checkErr := q.IsClassStudent(ctx, classID, studentID)
		if checkErr != nil || member {
			return checkErr
		}
		if !class.IsActive {
			return policy(ErrClassInactive, "class", classID, "")
		}
		count, countErr := q.CountClassStudents(ctx, classID)
		if countErr != nil {
			return countErr
		}
		if count >= class.Capacity {
			return policy(ErrCapacityExceeded, "class", classID, fmt.Sprintf("%d of %d seats taken", count, class.Capacity))
		}
		_, addErr := q.AddClassStudent(ctx, classID, studentID)
		return addErr
	})
	return
}

// AddStudentToSession adds a drop-in student to a single session. The
// session roster is capped by the capacity of its class.
func (s *RosterService) AddStudentToSession(ctx context.Context, studentID, sessionID string) (err error) {
	if s == nil {
		return fmt.Errorf("RosterService is nil")
	}
	logger := s.loggerWith(ctx, "AddStudentToSession", "student_id", studentID, "session_id", sessionID)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to add student to session", err)
			return
		}
		logger.InfoContext(ctx, "student added to session")
	}()

	err = runTx(ctx, s.store, "add student to session", func(q persistence.Queries) error {
		session, getErr := q.GetSession(ctx, sessionID)
		if getErr != nil {
			return missing("session", sessionID, getErr)
		}
		class, lockErr := q.LockClass(ctx, session.ClassID)
		if lockErr != nil {
			return missing("class", session.ClassID, lockErr)
		}
		if _, getErr := q.GetStudent(ctx, studentID); getErr != nil {
			return missing("student", studentID, getErr)
		}
		member, checkErr := q.IsSessionStudent(ctx, sessionID, studentID)
		if checkErr != nil || member {
			return checkErr
		}
		if !class.IsActive {
			return policy(ErrClassInactive, "class", class.ID, "")
		}
		count, countErr := q.CountSessionStudents(ctx, sessionID)
		if countErr != nil {
			return countErr
		}
		if count >= class.Capacity {
			return policy(ErrCapacityExceeded, "session", sessionID, fmt.Sprintf("%d of %d seats taken", count, class.Capacity))
		}
		_, addErr := q.AddSessionStudent(ctx, sessionID, studentID)
		return addErr
	})
	return
}

// RemoveStudentFromClass drops a student from a class roster. Attendance
// already recorded is kept.
func (s *RosterService) RemoveStudentFromClass(ctx context.Context, studentID, classID string) (err error) {
	if s == nil {
		return fmt.Errorf("RosterService is nil")
	}
	err = runTx(ctx, s.store, "remove student from class", func(q persistence.Queries) error {
		removeErr := q.RemoveClassStudent(ctx, classID, studentID)
		if errors.Is(removeErr, persistence.ErrNotFound) {
			return notFound("class roster entry", classID+"/"+studentID)
		}
		return removeErr
	})
	if err != nil {
		logFailure(ctx, s.loggerWith(ctx, "RemoveStudentFromClass", "student_id", studentID, "class_id", classID), "failed to remove student from class", err)
	}
	return
}

// RemoveStudentFromSession drops a drop-in student from a session roster.
func (s *RosterService) RemoveStudentFromSession(ctx context.Context, studentID, sessionID string) (err error) {
	if s == nil {
		return fmt.Errorf("RosterService is nil")
	}
	err = runTx(ctx, s.store, "remove student from session", func(q persistence.Queries) error {
		removeErr := q.RemoveSessionStudent(ctx, sessionID, studentID)
		if errors.Is(removeErr, persistence.ErrNotFound) {
			return notFound("session roster entry", sessionID+"/"+studentID)
		}
		return removeErr
	})
	if err != nil {
		logFailure(ctx, s.loggerWith(ctx, "RemoveStudentFromSession", "student_id", studentID, "session_id", sessionID), "failed to remove student from session", err)
	}
	return
}

// ListClassRoster returns the students of a class ordered by name.
func (s *RosterService) ListClassRoster(ctx context.Context, classID string) (students []Student, err error) {
	if s == nil {
		err = fmt.Errorf("RosterService is nil")
		return
	}
	err = runView(ctx, s.store, "list class roster", func(q persistence.Queries) error {
		if _, getErr := q.GetClass(ctx, classID); getErr != nil {
			return missing("class", classID, getErr)
		}
		var listErr error
		students, listErr = q.ListClassStudents(ctx, classID)
		return listErr
	})
	return
}

// ListSessionRoster returns the drop-in students of a session ordered by name.
func (s *RosterService) ListSessionRoster(ctx context.Context, sessionID string) (students []Student, err error) {
	if s == nil {
		err = fmt.Errorf("RosterService is nil")
		return
	}
	err = runView(ctx, s.store, "list session roster", func(q persistence.Queries) error {
		if _, getErr := q.GetSession(ctx, sessionID); getErr != nil {
			return missing("session", sessionID, getErr)
		}
		var listErr error
		students, listErr = q.ListSessionStudents(ctx, sessionID)
		return listErr
	})
	return
}

// CreateStudentProfile attaches a student profile to an existing user.
func (s *RosterService) CreateStudentProfile(ctx context.Context, params CreateStudentProfileParams) (student Student, err error) {
	if s == nil {
		err = fmt.Errorf("RosterService is nil")
		return
	}
	params.Name = strings.TrimSpace(params.Name)
	logger := s.loggerWith(ctx, "CreateStudentProfile", "user_id", params.UserID)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to create student profile", err)
			return
		}
		logger.InfoContext(ctx, "student profile created", "student_id", student.ID)
	}()

	if vErr := validateStruct(params); vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now().UTC()
	student = Student{ID: s.idGenerator(), UserID: params.UserID, Name: params.Name, CreatedAt: now, UpdatedAt: now}
	err = runTx(ctx, s.store, "create student profile", func(q persistence.Queries) error {
		if checkErr := s.checkProfileSlot(ctx, q, params.UserID, RoleStudent); checkErr != nil {
			return checkErr
		}
		return q.CreateStudent(ctx, student)
	})
	return
}

// CreateTeacherProfile attaches a teacher profile to an existing user.
func (s *RosterService) CreateTeacherProfile(ctx context.Context, params CreateTeacherProfileParams) (teacher Teacher, err error) {
	if s == nil {
		err = fmt.Errorf("RosterService is nil")
		return
	}
	params.Name = strings.TrimSpace(params.Name)
	logger := s.loggerWith(ctx, "CreateTeacherProfile", "user_id", params.UserID)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to create teacher profile", err)
			return
		}
		logger.InfoContext(ctx, "teacher profile created", "teacher_id", teacher.ID)
	}()

	if vErr := validateStruct(params); vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now().UTC()
	teacher = Teacher{ID: s.idGenerator(), UserID: params.UserID, Name: params.Name, Department: params.Department, CreatedAt: now, UpdatedAt: now}
	err = runTx(ctx, s.store, "create teacher profile", func(q persistence.Queries) error {
		if checkErr := s.checkProfileSlot(ctx, q, params.UserID, RoleTeacher); checkErr != nil {
			return checkErr
		}
		return q.CreateTeacher(ctx, teacher)
	})
	return
}

// checkProfileSlot verifies the user exists, has no profile of the requested
// kind and, unless dual roles are allowed, no profile of the other kind.
func (s *RosterService) checkProfileSlot(ctx context.Context, q persistence.Queries, userID string, kind Role) error {
	if _, err := q.GetUser(ctx, userID); err != nil {
		return missing("user", userID, err)
	}

	_, studentErr := q.GetStudentByUserID(ctx, userID)
	if studentErr != nil && !errors.Is(studentErr, persistence.ErrNotFound) {
		return studentErr
	}
	_, teacherErr := q.GetTeacherByUserID(ctx, userID)
	if teacherErr != nil && !errors.Is(teacherErr, persistence.ErrNotFound) {
		return teacherErr
	}
	hasStudent, hasTeacher := studentErr == nil, teacherErr == nil

	if (kind == RoleStudent && hasStudent) || (kind == RoleTeacher && hasTeacher) {
		return fmt.Errorf("%w: user %s already has a %s profile", ErrAlreadyExists, userID, strings.ToLower(string(kind)))
	}
	if s.policies.AllowDualRole {
		return nil
	}
	if (kind == RoleStudent && hasTeacher) || (kind == RoleTeacher && hasStudent) {
		return policy(ErrDualRoleNotAllowed, "user", userID, "")
	}
	return nil
}

// GetStudent returns a student profile.
func (s *RosterService) GetStudent(ctx context.Context, studentID string) (student Student, err error) {
	if s == nil {
		err = fmt.Errorf("RosterService is nil")
		return
	}
	err = runView(ctx, s.store, "get student", func(q persistence.Queries) error {
		var viewErr error
		student, viewErr = q.GetStudent(ctx, studentID)
		return missing("student", studentID, viewErr)
	})
	return
}

// DeleteStudent removes a student profile. Under the restrict policy any
// face data, attendance or roster link blocks the deletion; under cascade
// they are removed in the same transaction.
func (s *RosterService) DeleteStudent(ctx context.Context, principal Principal, studentID string) (err error) {
	if s == nil {
		return fmt.Errorf("RosterService is nil")
	}
	cascade := s.policies.DeletePolicy == DeleteCascade
	logger := s.loggerWith(ctx, "DeleteStudent", "principal_id", principal.UserID, "student_id", studentID, "cascade", cascade)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to delete student", err)
			return
		}
		logger.InfoContext(ctx, "student deleted")
	}()

	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	var cleared []Attendance
	err = runTx(ctx, s.store, "delete student", func(q persistence.Queries) error {
		var delErr error
		cleared, delErr = deleteStudent(ctx, q, studentID, cascade)
		return delErr
	})
	if err == nil {
		forgetMarks(ctx, s.marks, logger, cleared)
		s.audit.Log(ctx, LogLevelInfo, "student deleted", RosterMeta{Action: "delete_student", StudentID: studentID, UserID: principal.UserID, Cascade: cascade})
	}
	return
}

// deleteStudent removes a student and returns the attendance rows a cascade
// deleted with it.
func deleteStudent(ctx context.Context, q persistence.Queries, studentID string, cascade bool) ([]Attendance, error) {
	if _, err := q.GetStudent(ctx, studentID); err != nil {
		return nil, missing("student", studentID, err)
	}
	var cleared []Attendance
	if cascade {
		if err := q.DeleteFaceData(ctx, studentID); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return nil, err
		}
		rows, err := q.ListAttendanceByStudent(ctx, studentID)
		if err != nil {
			return nil, err
		}
		cleared = rows
		steps := []func(context.Context, string) error{
			q.DeleteFaceImagesForStudent,
			q.DeleteAttendanceForStudent,
			q.RemoveStudentFromAllClasses,
			q.RemoveStudentFromAllSessions,
		}
		for _, step := range steps {
			if err := step(ctx, studentID); err != nil {
				return nil, err
			}
		}
	}
	err := q.DeleteStudent(ctx, studentID)
	if errors.Is(err, persistence.ErrForeignKeyViolation) {
		return nil, policy(ErrDeletionRestricted, "student", studentID, "student has face data, attendance or roster links")
	}
	if err != nil {
		return nil, err
	}
	return cleared, nil
}

// DeleteUser removes a user and, under the cascade policy, its profiles. A
// teacher who still owns classes blocks the deletion under either policy.
// The whitelist entry is retained.
func (s *RosterService) DeleteUser(ctx context.Context, principal Principal, userID string) (err error) {
	if s == nil {
		return fmt.Errorf("RosterService is nil")
	}
	cascade := s.policies.DeletePolicy == DeleteCascade
	logger := s.loggerWith(ctx, "DeleteUser", "principal_id", principal.UserID, "user_id", userID, "cascade", cascade)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to delete user", err)
			return
		}
		logger.InfoContext(ctx, "user deleted")
	}()

	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	var cleared []Attendance
	err = runTx(ctx, s.store, "delete user", func(q persistence.Queries) error {
		cleared = nil
		if _, getErr := q.GetUser(ctx, userID); getErr != nil {
			return missing("user", userID, getErr)
		}
		if cascade {
			rows, cascadeErr := cascadeProfiles(ctx, q, userID)
			if cascadeErr != nil {
				return cascadeErr
			}
			cleared = rows
		}
		deleteErr := q.DeleteUser(ctx, userID)
		if errors.Is(deleteErr, persistence.ErrForeignKeyViolation) {
			return policy(ErrDeletionRestricted, "user", userID, "user still owns a student or teacher profile")
		}
		return deleteErr
	})
	if err == nil {
		forgetMarks(ctx, s.marks, logger, cleared)
		s.audit.Log(ctx, LogLevelInfo, "user deleted", RosterMeta{Action: "delete_user", UserID: userID, Cascade: cascade})
	}
	return
}

func cascadeProfiles(ctx context.Context, q persistence.Queries, userID string) ([]Attendance, error) {
	teacher, err := q.GetTeacherByUserID(ctx, userID)
	switch {
	case err == nil:
		owned, countErr := q.CountClassesForTeacher(ctx, teacher.ID)
		if countErr != nil {
			return nil, countErr
		}
		if owned > 0 {
			return nil, policy(ErrDeletionRestricted, "teacher", teacher.ID, fmt.Sprintf("teacher owns %d classes", owned))
		}
		if deleteErr := q.DeleteTeacher(ctx, teacher.ID); deleteErr != nil {
			return nil, deleteErr
		}
	case !errors.Is(err, persistence.ErrNotFound):
		return nil, err
	}

	student, err := q.GetStudentByUserID(ctx, userID)
	switch {
	case err == nil:
		return deleteStudent(ctx, q, student.ID, true)
	case !errors.Is(err, persistence.ErrNotFound):
		return nil, err
	}
	return nil, nil
}
