package persistence

import (
	"encoding/json"
	"time"
)

// Role identifies the kind of account a user holds.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleTeacher Role = "TEACHER"
	RoleStudent Role = "STUDENT"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// AttendanceStatus is the recorded presence of a student in a session.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "PRESENT"
	StatusLate    AttendanceStatus = "LATE"
	StatusAbsent  AttendanceStatus = "ABSENT"
	StatusExcused AttendanceStatus = "EXCUSED"
)

// Valid reports whether the status is one of the known values.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent, StatusExcused:
		return true
	}
	return false
}

// AttendanceSource identifies who asserted an attendance record.
type AttendanceSource string

const (
	SourceFaceMatch AttendanceSource = "FACE_MATCH"
	SourceManual    AttendanceSource = "MANUAL"
)

// Valid reports whether the source is one of the known values.
func (s AttendanceSource) Valid() bool {
	return s == SourceFaceMatch || s == SourceManual
}

// LogLevel is the severity stored alongside a SystemLog entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// BackupStatus is the result of a backup attempt.
type BackupStatus string

const (
	BackupSuccess BackupStatus = "SUCCESS"
	BackupFailed  BackupStatus = "FAILED"
	BackupSkipped BackupStatus = "SKIPPED"
)

// Invitation tracks the IdP invitation sent for a whitelist entry.
type Invitation struct {
	Sent                 bool
	SentAt               *time.Time
	ProviderInvitationID *string
}

// AccountLink tracks whether a user account has been created for a whitelist entry.
type AccountLink struct {
	Created   bool
	CreatedAt *time.Time
}

// WhitelistEntry is an administrator-curated permission to create an account.
type WhitelistEntry struct {
	Email      string
	Role       Role
	Name       string
	Department *string
	IsActive   bool
	ExpiresAt  *time.Time
	Invitation Invitation
	Account    AccountLink
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// User is an account linked to an external identity.
type User struct {
	ID         string
	ExternalID string
	Email      string
	Role       Role
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Student is the learner profile owned by a user.
type Student struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Teacher is the instructor profile owned by a user.
type Teacher struct {
	ID         string
	UserID     string
	Name       string
	Department *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FaceData is the single biometric reference held for a student.
type FaceData struct {
	ID        string
	StudentID string
	Embedding []byte
	Checksum  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FaceImage is a raw reference capture retained for re-enrollment and audit.
type FaceImage struct {
	ID        string
	StudentID string
	ImageRef  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Class is a course taught by a teacher with a bounded roster.
type Class struct {
	ID          string
	Name        string
	Description string
	Capacity    int
	Location    string
	IsActive    bool
	TeacherID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session is a single time-bounded occurrence of a class.
type Session struct {
	ID        string
	Name      string
	StartTime time.Time
	EndTime   time.Time
	ClassID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Attendance is the one row recorded per student and session.
type Attendance struct {
	ID        string
	StudentID string
	SessionID string
	Status    AttendanceStatus
	Source    AttendanceSource
	Timestamp time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SystemLog is an append-only audit entry.
type SystemLog struct {
	ID        string
	Level     LogLevel
	Message   string
	Meta      json.RawMessage
	CreatedAt time.Time
}

// BackupLog is an append-only record of a backup attempt.
type BackupLog struct {
	ID         string
	Status     BackupStatus
	Type       string
	Path       *string
	DurationMS *int64
	CreatedAt  time.Time
}

// SystemSetting is a process-wide configuration value.
type SystemSetting struct {
	Key       string
	Value     json.RawMessage
	UpdatedAt time.Time
}
