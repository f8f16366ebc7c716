package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/classroom-attendance/internal/persistence"
)

// timeLayout is fixed width so that TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt64(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}

func rawJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// dbTime scans timestamps stored as TEXT, or native time values from drivers that parse them.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (t *dbTime) parse(s string) error {
	parsed, err := time.Parse(timeLayout, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	t.Time, t.Valid = parsed.UTC(), true
	return nil
}

func (t dbTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

type whitelistRow struct {
	Email                string         `db:"email"`
	Role                 string         `db:"role"`
	Name                 string         `db:"name"`
	Department           sql.NullString `db:"department"`
	IsActive             bool           `db:"is_active"`
	ExpiresAt            dbTime         `db:"expires_at"`
	InvitationSent       bool           `db:"invitation_sent"`
	InvitationSentAt     dbTime         `db:"invitation_sent_at"`
	ProviderInvitationID sql.NullString `db:"provider_invitation_id"`
	AccountCreated       bool           `db:"account_created"`
	AccountCreatedAt     dbTime         `db:"account_created_at"`
	CreatedAt            dbTime         `db:"created_at"`
	UpdatedAt            dbTime         `db:"updated_at"`
}

func (r whitelistRow) model() persistence.WhitelistEntry {
	return persistence.WhitelistEntry{
		Email:      r.Email,
		Role:       persistence.Role(r.Role),
		Name:       r.Name,
		Department: stringPtr(r.Department),
		IsActive:   r.IsActive,
		ExpiresAt:  r.ExpiresAt.ptr(),
		Invitation: persistence.Invitation{
			Sent:                 r.InvitationSent,
			SentAt:               r.InvitationSentAt.ptr(),
			ProviderInvitationID: stringPtr(r.ProviderInvitationID),
		},
		Account: persistence.AccountLink{
			Created:   r.AccountCreated,
			CreatedAt: r.AccountCreatedAt.ptr(),
		},
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
}

type userRow struct {
	ID         string `db:"id"`
	ExternalID string `db:"external_id"`
	Email      string `db:"email"`
	Role       string `db:"role"`
	CreatedAt  dbTime `db:"created_at"`
	UpdatedAt  dbTime `db:"updated_at"`
}

func (r userRow) model() persistence.User {
	return persistence.User{
		ID:         r.ID,
		ExternalID: r.ExternalID,
		Email:      r.Email,
		Role:       persistence.Role(r.Role),
		CreatedAt:  r.CreatedAt.Time,
		UpdatedAt:  r.UpdatedAt.Time,
	}
}

type studentRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	Name      string `db:"name"`
	CreatedAt dbTime `db:"created_at"`
	UpdatedAt dbTime `db:"updated_at"`
}

func (r studentRow) model() persistence.Student {
	return persistence.Student{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
}

type teacherRow struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	Name       string         `db:"name"`
	Department sql.NullString `db:"department"`
	CreatedAt  dbTime         `db:"created_at"`
	UpdatedAt  dbTime         `db:"updated_at"`
}

func (r teacherRow) model() persistence.Teacher {
	return persistence.Teacher{
		ID:         r.ID,
		UserID:     r.UserID,
		Name:       r.Name,
		Department: stringPtr(r.Department),
		CreatedAt:  r.CreatedAt.Time,
		UpdatedAt:  r.UpdatedAt.Time,
	}
}

type faceDataRow struct {
	ID        string `db:"id"`
	StudentID string `db:"student_id"`
	Embedding []byte `db:"embedding"`
	Checksum  string `db:"checksum"`
	CreatedAt dbTime `db:"created_at"`
	UpdatedAt dbTime `db:"updated_at"`
}

func (r faceDataRow) model() persistence.FaceData {
	return persistence.FaceData{
		ID:        r.ID,
		StudentID: r.StudentID,
		Embedding: r.Embedding,
		Checksum:  r.Checksum,
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
}

type faceImageRow struct {
	ID        string `db:"id"`
	StudentID string `db:"student_id"`
	ImageRef  string `db:"image_ref"`
	CreatedAt dbTime `db:"created_at"`
	UpdatedAt dbTime `db:"updated_at"`
}

func (r faceImageRow) model() persistence.FaceImage {
	return persistence.FaceImage{
		ID:        r.ID,
		StudentID: r.StudentID,
		ImageRef:  r.ImageRef,
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
}

type classRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Capacity    int    `db:"capacity"`
	Location    string `db:"location"`
	IsActive    bool   `db:"is_active"`
	TeacherID   string `db:"teacher_id"`
	CreatedAt   dbTime `db:"created_at"`
	UpdatedAt   dbTime `db:"updated_at"`
}

func (r classRow) model() persistence.Class {
	return persistence.Class{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Capacity:    r.Capacity,
		Location:    r.Location,
		IsActive:    r.IsActive,
		TeacherID:   r.TeacherID,
		CreatedAt:   r.CreatedAt.Time,
		UpdatedAt:   r.UpdatedAt.Time,
	}
}

type sessionRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	StartTime dbTime `db:"start_time"`
	EndTime   dbTime `db:"end_time"`
	ClassID   string `db:"class_id"`
	CreatedAt dbTime `db:"created_at"`
	UpdatedAt dbTime `db:"updated_at"`
}

func (r sessionRow) model() persistence.Session {
	return persistence.Session{
		ID:        r.ID,
		Name:      r.Name,
		StartTime: r.StartTime.Time,
		EndTime:   r.EndTime.Time,
		ClassID:   r.ClassID,
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
}

type attendanceRow struct {
	ID         string `db:"id"`
	StudentID  string `db:"student_id"`
	SessionID  string `db:"session_id"`
	Status     string `db:"status"`
	Source     string `db:"source"`
	ObservedAt dbTime `db:"observed_at"`
	CreatedAt  dbTime `db:"created_at"`
	UpdatedAt  dbTime `db:"updated_at"`
}

func (r attendanceRow) model() persistence.Attendance {
	return persistence.Attendance{
		ID:        r.ID,
		StudentID: r.StudentID,
		SessionID: r.SessionID,
		Status:    persistence.AttendanceStatus(r.Status),
		Source:    persistence.AttendanceSource(r.Source),
		Timestamp: r.ObservedAt.Time,
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
}

type systemLogRow struct {
	ID        string         `db:"id"`
	Level     string         `db:"level"`
	Message   string         `db:"message"`
	Meta      sql.NullString `db:"meta"`
	CreatedAt dbTime         `db:"created_at"`
}

func (r systemLogRow) model() persistence.SystemLog {
	entry := persistence.SystemLog{
		ID:        r.ID,
		Level:     persistence.LogLevel(r.Level),
		Message:   r.Message,
		CreatedAt: r.CreatedAt.Time,
	}
	if r.Meta.Valid {
		entry.Meta = json.RawMessage(r.Meta.String)
	}
	return entry
}

type backupLogRow struct {
	ID         string         `db:"id"`
	Status     string         `db:"status"`
	BackupType string         `db:"backup_type"`
	Path       sql.NullString `db:"path"`
	DurationMS sql.NullInt64  `db:"duration_ms"`
	CreatedAt  dbTime         `db:"created_at"`
}

func (r backupLogRow) model() persistence.BackupLog {
	entry := persistence.BackupLog{
		ID:        r.ID,
		Status:    persistence.BackupStatus(r.Status),
		Type:      r.BackupType,
		Path:      stringPtr(r.Path),
		CreatedAt: r.CreatedAt.Time,
	}
	if r.DurationMS.Valid {
		v := r.DurationMS.Int64
		entry.DurationMS = &v
	}
	return entry
}

type settingRow struct {
	Key       string `db:"key"`
	Value     string `db:"value"`
	UpdatedAt dbTime `db:"updated_at"`
}

func (r settingRow) model() persistence.SystemSetting {
	return persistence.SystemSetting{
		Key:       r.Key,
		Value:     json.RawMessage(r.Value),
		UpdatedAt: r.UpdatedAt.Time,
	}
}
