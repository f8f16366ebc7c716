package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/classroom-attendance/internal/persistence"
)

var (
	userCounter    uint64
	profileCounter uint64
	classCounter   uint64
	sessionCounter uint64
)

// referenceTime is a Monday morning, so weekly series land on predictable days.
var referenceTime = time.Date(2024, time.September, 2, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Accounts -----------------------------

// UserOption configures a generated user.
type UserOption func(*persistence.User)

// NewUser returns a deterministic student account with optional overrides.
func NewUser(opts ...UserOption) persistence.User {
	idx := atomic.AddUint64(&userCounter, 1)
	id := fmt.Sprintf("user-%03d", idx)
	user := persistence.User{
		ID:         id,
		ExternalID: "idp|" + id,
		Email:      id + "@school.example",
		Role:       persistence.RoleStudent,
		CreatedAt:  referenceTime,
		UpdatedAt:  referenceTime,
	}
	for _, opt := range opts {
		opt(&user)
	}
	return user
}

// WithUserID overrides the generated user ID.
func WithUserID(id string) UserOption {
	return func(u *persistence.User) { u.ID = id }
}

// WithUserEmail overrides the generated email address.
func WithUserEmail(email string) UserOption {
	return func(u *persistence.User) { u.Email = email }
}

// WithUserRole overrides the default student role.
func WithUserRole(role persistence.Role) UserOption {
	return func(u *persistence.User) { u.Role = role }
}

// NewStudent returns a student profile owned by userID.
func NewStudent(userID string) persistence.Student {
	idx := atomic.AddUint64(&profileCounter, 1)
	return persistence.Student{
		ID:        fmt.Sprintf("student-%03d", idx),
		UserID:    userID,
		Name:      fmt.Sprintf("Student %03d", idx),
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
}

// NewTeacher returns a teacher profile owned by userID.
func NewTeacher(userID string) persistence.Teacher {
	idx := atomic.AddUint64(&profileCounter, 1)
	return persistence.Teacher{
		ID:        fmt.Sprintf("teacher-%03d", idx),
		UserID:    userID,
		Name:      fmt.Sprintf("Teacher %03d", idx),
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
}

// WhitelistOption configures a generated whitelist entry.
type WhitelistOption func(*persistence.WhitelistEntry)

// NewWhitelistEntry returns an active entry for email.
func NewWhitelistEntry(email string, role persistence.Role, opts ...WhitelistOption) persistence.WhitelistEntry {
	entry := persistence.WhitelistEntry{
		Email:     email,
		Role:      role,
		Name:      "Invitee " + email,
		IsActive:  true,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&entry)
	}
	return entry
}

// WithWhitelistInactive marks the entry as deactivated.
func WithWhitelistInactive() WhitelistOption {
	return func(e *persistence.WhitelistEntry) { e.IsActive = false }
}

// WithWhitelistExpiry sets the instant after which the entry no longer admits sign-ins.
func WithWhitelistExpiry(at time.Time) WhitelistOption {
	return func(e *persistence.WhitelistEntry) { e.ExpiresAt = &at }
}

// ----------------------------- Classes and sessions -----------------------------

// ClassOption configures a generated class.
type ClassOption func(*persistence.Class)

// NewClass returns an active class with capacity 30 taught by teacherID.
func NewClass(teacherID string, opts ...ClassOption) persistence.Class {
	idx := atomic.AddUint64(&classCounter, 1)
	class := persistence.Class{
		ID:        fmt.Sprintf("class-%03d", idx),
		Name:      fmt.Sprintf("Class %03d", idx),
		Capacity:  30,
		Location:  fmt.Sprintf("Room %d", 100+idx),
		IsActive:  true,
		TeacherID: teacherID,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&class)
	}
	return class
}

// WithCapacity overrides the class capacity.
func WithCapacity(capacity int) ClassOption {
	return func(c *persistence.Class) { c.Capacity = capacity }
}

// WithClassInactive closes the class.
func WithClassInactive() ClassOption {
	return func(c *persistence.Class) { c.IsActive = false }
}

// SessionOption configures a generated session.
type SessionOption func(*persistence.Session)

// NewSession returns a one hour session of classID starting at ReferenceTime.
func NewSession(classID string, opts ...SessionOption) persistence.Session {
	idx := atomic.AddUint64(&sessionCounter, 1)
	session := persistence.Session{
		ID:        fmt.Sprintf("session-%03d", idx),
		Name:      fmt.Sprintf("Session %03d", idx),
		StartTime: referenceTime,
		EndTime:   referenceTime.Add(time.Hour),
		ClassID:   classID,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&session)
	}
	return session
}

// WithSessionWindow overrides the session start and end.
func WithSessionWindow(start, end time.Time) SessionOption {
	return func(s *persistence.Session) {
		s.StartTime = start
		s.EndTime = end
	}
}

// ----------------------------- Seeding -----------------------------

// Classroom is a seeded class with one session and its enrolled students.
type Classroom struct {
	Teacher  persistence.Teacher
	Class    persistence.Class
	Session  persistence.Session
	Students []persistence.Student
}

// Seed runs fn in one transaction and fails the test on error.
func Seed(tb testing.TB, store persistence.Store, fn func(ctx context.Context, q persistence.Queries) error) {
	tb.Helper()
	ctx := context.Background()
	if err := store.WithTx(ctx, func(q persistence.Queries) error { return fn(ctx, q) }); err != nil {
		tb.Fatalf("seed failed: %v", err)
	}
}

// SeedClassroom creates a teacher, a class of the given capacity with one
// session, and enrolled students on the class roster.
func SeedClassroom(tb testing.TB, store persistence.Store, capacity, enrolled int) Classroom {
	tb.Helper()

	teacherUser := NewUser(WithUserRole(persistence.RoleTeacher))
	room := Classroom{Teacher: NewTeacher(teacherUser.ID)}
	room.Class = NewClass(room.Teacher.ID, WithCapacity(capacity))
	room.Session = NewSession(room.Class.ID)

	Seed(tb, store, func(ctx context.Context, q persistence.Queries) error {
		if err := q.CreateUser(ctx, teacherUser); err != nil {
			return err
		}
		if err := q.CreateTeacher(ctx, room.Teacher); err != nil {
			return err
		}
		if err := q.CreateClass(ctx, room.Class); err != nil {
			return err
		}
		if err := q.CreateSession(ctx, room.Session); err != nil {
			return err
		}
		for i := 0; i < enrolled; i++ {
			user := NewUser()
			student := NewStudent(user.ID)
			if err := q.CreateUser(ctx, user); err != nil {
				return err
			}
			if err := q.CreateStudent(ctx, student); err != nil {
				return err
			}
			if _, err := q.AddClassStudent(ctx, room.Class.ID, student.ID); err != nil {
				return err
			}
			room.Students = append(room.Students, student)
		}
		return nil
	})
	return room
}
