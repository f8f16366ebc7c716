package application

import (
	"time"

	"github.com/example/classroom-attendance/internal/persistence"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// Entities are shared with the persistence layer unchanged.
type (
	Role             = persistence.Role
	AttendanceStatus = persistence.AttendanceStatus
	AttendanceSource = persistence.AttendanceSource
	LogLevel         = persistence.LogLevel
	BackupStatus     = persistence.BackupStatus

	WhitelistEntry = persistence.WhitelistEntry
	User           = persistence.User
	Student        = persistence.Student
	Teacher        = persistence.Teacher
	FaceData       = persistence.FaceData
	FaceImage      = persistence.FaceImage
	Class          = persistence.Class
	Session        = persistence.Session
	Attendance     = persistence.Attendance
	SystemLog      = persistence.SystemLog
	BackupLog      = persistence.BackupLog
	SystemSetting  = persistence.SystemSetting
)

const (
	RoleAdmin   = persistence.RoleAdmin
	RoleTeacher = persistence.RoleTeacher
	RoleStudent = persistence.RoleStudent

	StatusPresent = persistence.StatusPresent
	StatusLate    = persistence.StatusLate
	StatusAbsent  = persistence.StatusAbsent
	StatusExcused = persistence.StatusExcused

	SourceFaceMatch = persistence.SourceFaceMatch
	SourceManual    = persistence.SourceManual

	LogLevelDebug = persistence.LogLevelDebug
	LogLevelInfo  = persistence.LogLevelInfo
	LogLevelWarn  = persistence.LogLevelWarn
	LogLevelError = persistence.LogLevelError

	BackupSuccess = persistence.BackupSuccess
	BackupFailed  = persistence.BackupFailed
	BackupSkipped = persistence.BackupSkipped
)

// DeletePolicy decides what happens to dependants when a user or student is deleted.
type DeletePolicy string

const (
	// DeleteRestrict rejects deletion while dependants exist.
	DeleteRestrict DeletePolicy = "restrict"
	// DeleteCascade removes face data, images, attendance and roster links with the student.
	DeleteCascade DeletePolicy = "cascade"
)

// OverlapPolicy decides whether overlapping sessions of one class are rejected or warned about.
type OverlapPolicy string

const (
	OverlapReject OverlapPolicy = "reject"
	OverlapWarn   OverlapPolicy = "warn"
)

// Policies are the product decisions the engine leaves configurable.
type Policies struct {
	// AllowDualRole lets one user hold both a student and a teacher profile.
	AllowDualRole bool
	DeletePolicy  DeletePolicy
	// AcceptSessionRosterOnly accepts attendance from drop-in students who are
	// on the session roster but not the class roster.
	AcceptSessionRosterOnly bool
	OverlapPolicy           OverlapPolicy
	// AutoProvisionProfiles creates the student or teacher profile on first sign-in.
	AutoProvisionProfiles bool
	SignInMaxAttempts     int
}

// DefaultPolicies returns the conservative defaults.
func DefaultPolicies() Policies {
	return Policies{
		AllowDualRole:           false,
		DeletePolicy:            DeleteRestrict,
		AcceptSessionRosterOnly: true,
		OverlapPolicy:           OverlapReject,
		AutoProvisionProfiles:   true,
		SignInMaxAttempts:       3,
	}
}

func (p Policies) withDefaults() Policies {
	if p.DeletePolicy == "" {
		p.DeletePolicy = DeleteRestrict
	}
	if p.OverlapPolicy == "" {
		p.OverlapPolicy = OverlapReject
	}
	if p.SignInMaxAttempts <= 0 {
		p.SignInMaxAttempts = 3
	}
	return p
}

// SignInParams carries an identity asserted by the external identity provider.
type SignInParams struct {
	ExternalID string `validate:"required,max=255"`
	Email      string `validate:"required,email,max=320"`
}

// SignInResult is the user bound to the external identity.
type SignInResult struct {
	User User
	// Created is true when this call created the user.
	Created bool
	Student *Student
	Teacher *Teacher
}

// WhitelistInput captures administrator provided whitelist fields.
type WhitelistInput struct {
	Email      string     `validate:"required,email,max=320"`
	Role       Role       `validate:"required,oneof=ADMIN TEACHER STUDENT"`
	Name       string     `validate:"required,max=200"`
	Department *string    `validate:"omitempty,max=200"`
	IsActive   bool
	ExpiresAt  *time.Time
}

// WhitelistParams wraps a whitelist mutation.
type WhitelistParams struct {
	Principal Principal
	Input     WhitelistInput
}

// CreateStudentProfileParams wraps the data required to create a student profile.
type CreateStudentProfileParams struct {
	UserID string `validate:"required"`
	Name   string `validate:"required,max=200"`
}

// CreateTeacherProfileParams wraps the data required to create a teacher profile.
type CreateTeacherProfileParams struct {
	UserID     string  `validate:"required"`
	Name       string  `validate:"required,max=200"`
	Department *string `validate:"omitempty,max=200"`
}

// EnrollFaceParams carries a face enrollment request.
type EnrollFaceParams struct {
	StudentID string `validate:"required"`
	Embedding []byte `validate:"required,min=1"`
	// SourceImages are references to the captures the embedding was computed from.
	SourceImages []string `validate:"dive,required,max=1024"`
}

// EnrollFaceResult reports the stored enrollment.
type EnrollFaceResult struct {
	FaceData FaceData
	// Images holds the images added by this call.
	Images []FaceImage
	// Replaced is true when a different embedding was superseded.
	Replaced bool
}

// ClassInput captures caller provided class fields.
type ClassInput struct {
	Name        string `validate:"required,max=200"`
	Description string `validate:"max=2000"`
	Capacity    int    `validate:"gt=0"`
	Location    string `validate:"max=200"`
	TeacherID   string `validate:"required"`
}

// CreateSessionParams wraps the data required to create a session.
type CreateSessionParams struct {
	ClassID   string    `validate:"required"`
	Name      string    `validate:"required,max=200"`
	StartTime time.Time `validate:"required"`
	EndTime   time.Time `validate:"required"`
}

// CreateSessionSeriesParams expands a recurrence rule into sessions of a class.
type CreateSessionSeriesParams struct {
	ClassID string `validate:"required"`
	// Name is suffixed with the occurrence number, e.g. "Biology #3".
	Name string `validate:"required,max=180"`
	// FirstStart and FirstEnd are the template window, in any zone.
	FirstStart time.Time      `validate:"required"`
	FirstEnd   time.Time      `validate:"required"`
	Frequency  string         `validate:"required,oneof=daily weekly"`
	Weekdays   []time.Weekday `validate:"dive,min=0,max=6"`
	Until      *time.Time
	Count      int `validate:"min=0,max=366"`
}

// OverlapWarning describes an existing session a new one collides with.
type OverlapWarning struct {
	SessionID     string
	WithSessionID string
	WithName      string
	Start         time.Time
	End           time.Time
	Overlap       time.Duration
}

// AttendanceOutcome is the result of recording an attendance signal.
type AttendanceOutcome string

const (
	// OutcomeCreated means the call inserted the row for the pair.
	OutcomeCreated AttendanceOutcome = "CREATED"
	// OutcomeCorrected means a manual call updated an existing row.
	OutcomeCorrected AttendanceOutcome = "CORRECTED"
	// OutcomeDuplicateIgnored means an automated call found an existing row and changed nothing.
	OutcomeDuplicateIgnored AttendanceOutcome = "DUPLICATE_IGNORED"
)

// RecordAttendanceParams carries one attendance signal.
type RecordAttendanceParams struct {
	StudentID string `validate:"required"`
	SessionID string `validate:"required"`
	// Status may be empty for FACE_MATCH signals; it is then derived from ObservedAt.
	Status     AttendanceStatus `validate:"omitempty,oneof=PRESENT LATE ABSENT EXCUSED"`
	ObservedAt time.Time        `validate:"required"`
	Source     AttendanceSource `validate:"required,oneof=FACE_MATCH MANUAL"`
	// ActorID identifies the user behind a manual correction.
	ActorID string
}

// RecognitionResult reports the matched student and the recording outcome.
type RecognitionResult struct {
	StudentID string
	Outcome   AttendanceOutcome
}

// BackupRecord describes one backup attempt.
type BackupRecord struct {
	Status   BackupStatus
	Type     string
	Path     string
	Duration time.Duration
}

// SystemLogFilter narrows ListSystemLogs.
type SystemLogFilter = persistence.SystemLogFilter
