package persistence

import (
	"context"
	"time"
)

// WhitelistRepository stores administrator-curated whitelist entries keyed by email.
type WhitelistRepository interface {
	CreateWhitelistEntry(ctx context.Context, entry WhitelistEntry) error
	UpdateWhitelistEntry(ctx context.Context, entry WhitelistEntry) error
	GetWhitelistEntry(ctx context.Context, email string) (WhitelistEntry, error)
	ListWhitelistEntries(ctx context.Context) ([]WhitelistEntry, error)
	DeleteWhitelistEntry(ctx context.Context, email string) error
}

// UserRepository stores accounts linked to external identities.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	DeleteUser(ctx context.Context, id string) error
}

// ProfileRepository stores student and teacher profiles.
type ProfileRepository interface {
	CreateStudent(ctx context.Context, student Student) error
	GetStudent(ctx context.Context, id string) (Student, error)
	GetStudentByUserID(ctx context.Context, userID string) (Student, error)
	DeleteStudent(ctx context.Context, id string) error
	CreateTeacher(ctx context.Context, teacher Teacher) error
	GetTeacher(ctx context.Context, id string) (Teacher, error)
	GetTeacherByUserID(ctx context.Context, userID string) (Teacher, error)
	DeleteTeacher(ctx context.Context, id string) error
}

// ClassRepository stores classes and their rosters.
type ClassRepository interface {
	CreateClass(ctx context.Context, class Class) error
	UpdateClass(ctx context.Context, class Class) error
	GetClass(ctx context.Context, id string) (Class, error)
	// LockClass reads a class and holds a write lock on it until the
	// transaction ends, where the backend supports row locks.
	LockClass(ctx context.Context, id string) (Class, error)
	ListClasses(ctx context.Context, teacherID string) ([]Class, error)
	CountClassesForTeacher(ctx context.Context, teacherID string) (int, error)
	// AddClassStudent links a student to a class. It reports false when the
	// link already existed.
	AddClassStudent(ctx context.Context, classID, studentID string) (bool, error)
	RemoveClassStudent(ctx context.Context, classID, studentID string) error
	IsClassStudent(ctx context.Context, classID, studentID string) (bool, error)
	CountClassStudents(ctx context.Context, classID string) (int, error)
	ListClassStudents(ctx context.Context, classID string) ([]Student, error)
	RemoveStudentFromAllClasses(ctx context.Context, studentID string) error
}

// SessionRepository stores class sessions and their drop-in rosters.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, classID string) ([]Session, error)
	DeleteSession(ctx context.Context, id string) error
	AddSessionStudent(ctx context.Context, sessionID, studentID string) (bool, error)
	RemoveSessionStudent(ctx context.Context, sessionID, studentID string) error
	IsSessionStudent(ctx context.Context, sessionID, studentID string) (bool, error)
	CountSessionStudents(ctx context.Context, sessionID string) (int, error)
	ListSessionStudents(ctx context.Context, sessionID string) ([]Student, error)
	RemoveStudentFromAllSessions(ctx context.Context, studentID string) error
}

// EnrollmentRepository stores face enrollment data.
type EnrollmentRepository interface {
	// UpsertFaceData replaces the single face record of a student.
	UpsertFaceData(ctx context.Context, data FaceData) error
	GetFaceData(ctx context.Context, studentID string) (FaceData, error)
	ListFaceData(ctx context.Context) ([]FaceData, error)
	DeleteFaceData(ctx context.Context, studentID string) error
	CreateFaceImage(ctx context.Context, image FaceImage) error
	ListFaceImages(ctx context.Context, studentID string) ([]FaceImage, error)
	DeleteFaceImage(ctx context.Context, id string) error
	DeleteFaceImagesForStudent(ctx context.Context, studentID string) error
}

// AttendanceRepository stores attendance rows, one per student and session.
type AttendanceRepository interface {
	// InsertAttendance inserts a row unless one already exists for the
	// (student, session) pair. It reports whether the row was inserted.
	InsertAttendance(ctx context.Context, attendance Attendance) (bool, error)
	// LockAttendance reads the row for a pair and holds a write lock on it
	// until the transaction ends, where the backend supports row locks.
	LockAttendance(ctx context.Context, studentID, sessionID string) (Attendance, error)
	GetAttendance(ctx context.Context, studentID, sessionID string) (Attendance, error)
	UpdateAttendance(ctx context.Context, attendance Attendance) error
	ListAttendanceBySession(ctx context.Context, sessionID string) ([]Attendance, error)
	ListAttendanceByStudent(ctx context.Context, studentID string) ([]Attendance, error)
	CountAttendanceBySession(ctx context.Context, sessionID string) (int, error)
	DeleteAttendanceForStudent(ctx context.Context, studentID string) error
	DeleteAttendanceForSession(ctx context.Context, sessionID string) error
}

// SystemLogFilter narrows system log queries.
type SystemLogFilter struct {
	Level  LogLevel
	Since  *time.Time
	Before *time.Time
	Limit  int
}

// AuditRepository appends system and backup log entries.
type AuditRepository interface {
	AppendSystemLog(ctx context.Context, entry SystemLog) error
	ListSystemLogs(ctx context.Context, filter SystemLogFilter) ([]SystemLog, error)
	AppendBackupLog(ctx context.Context, entry BackupLog) error
	ListBackupLogs(ctx context.Context, limit int) ([]BackupLog, error)
}

// SettingRepository stores process-wide settings.
type SettingRepository interface {
	UpsertSetting(ctx context.Context, setting SystemSetting) error
	GetSetting(ctx context.Context, key string) (SystemSetting, error)
	ListSettings(ctx context.Context) ([]SystemSetting, error)
	DeleteSetting(ctx context.Context, key string) error
}

// Queries groups every repository available inside a unit of work.
type Queries interface {
	WhitelistRepository
	UserRepository
	ProfileRepository
	ClassRepository
	SessionRepository
	EnrollmentRepository
	AttendanceRepository
	AuditRepository
	SettingRepository
}

// Store is a transactional datastore.
//
// WithTx runs fn inside a transaction that commits when fn returns nil and
// rolls back otherwise, including when fn panics or ctx is cancelled. View
// runs read-only work without a transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(q Queries) error) error
	View(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
	Close() error
}
