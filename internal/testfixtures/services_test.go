package testfixtures

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/classroom-attendance/internal/application"
	"github.com/example/classroom-attendance/internal/persistence"
)

func TestServiceFactoryUsesDeterministicCollaborators(t *testing.T) {
	factory := NewServiceFactory(WithIDGenerator(NewIDGenerator("fx")))
	services := factory.Build(NewMemoryStore(), ServiceDeps{})
	ctx := context.Background()
	admin := application.Principal{UserID: "admin", IsAdmin: true}

	entry, err := services.Identity.AddWhitelistEntry(ctx, application.WhitelistParams{
		Principal: admin,
		Input: application.WhitelistInput{
			Email:    "Teacher@School.Example",
			Role:     application.RoleTeacher,
			Name:     "Grace Hopper",
			IsActive: true,
		},
	})
	if err != nil {
		t.Fatalf("AddWhitelistEntry returned error: %v", err)
	}
	if !entry.CreatedAt.Equal(ReferenceTime()) {
		t.Fatalf("expected the factory clock, got %v", entry.CreatedAt)
	}

	result, err := services.Identity.OnExternalSignIn(ctx, application.SignInParams{ExternalID: "idp|grace", Email: "teacher@school.example"})
	if err != nil {
		t.Fatalf("OnExternalSignIn returned error: %v", err)
	}
	if !strings.HasPrefix(result.User.ID, "fx-") || result.Teacher == nil {
		t.Fatalf("expected a generated fx- user with a teacher profile, got %+v", result)
	}
}

// TestAttendanceEndToEndOnSQLite drives both headline scenarios through the
// full service graph against a real SQLite file.
func TestAttendanceEndToEndOnSQLite(t *testing.T) {
	harness := NewSQLiteHarness(t)
	clock := NewClock(time.Time{})
	factory := NewServiceFactory(WithClock(clock))
	services := factory.Build(harness.Store, ServiceDeps{})
	ctx := context.Background()

	room := SeedClassroom(t, harness.Store, 2, 1)
	student := room.Students[0]
	observed := room.Session.StartTime.Add(2 * time.Minute)

	const signals = 8
	outcomes := make(chan application.AttendanceOutcome, signals)
	errs := make(chan error, signals)
	var wg sync.WaitGroup
	for i := 0; i < signals; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := services.Attendance.RecordAttendance(ctx, application.RecordAttendanceParams{
				StudentID:  student.ID,
				SessionID:  room.Session.ID,
				Source:     application.SourceFaceMatch,
				ObservedAt: observed,
			})
			if err != nil {
				errs <- err
				return
			}
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)
	close(errs)
	for err := range errs {
		t.Fatalf("RecordAttendance returned error: %v", err)
	}
	created := 0
	for outcome := range outcomes {
		if outcome == application.OutcomeCreated {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one created outcome, got %d", created)
	}

	outcome, err := services.Attendance.RecordAttendance(ctx, application.RecordAttendanceParams{
		StudentID:  student.ID,
		SessionID:  room.Session.ID,
		Source:     application.SourceManual,
		Status:     application.StatusExcused,
		ObservedAt: observed.Add(5 * time.Minute),
	})
	if err != nil || outcome != application.OutcomeCorrected {
		t.Fatalf("expected a correction, got %v, %v", outcome, err)
	}

	rows, err := services.Attendance.ListSessionAttendance(ctx, room.Session.ID)
	if err != nil {
		t.Fatalf("ListSessionAttendance returned error: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != application.StatusExcused || rows[0].Source != application.SourceManual {
		t.Fatalf("unexpected attendance rows %+v", rows)
	}

	late := NewUser()
	outsider := NewStudent(late.ID)
	Seed(t, harness.Store, func(ctx context.Context, q persistence.Queries) error {
		if err := q.CreateUser(ctx, late); err != nil {
			return err
		}
		return q.CreateStudent(ctx, outsider)
	})
	_, err = services.Attendance.RecordAttendance(ctx, application.RecordAttendanceParams{
		StudentID:  outsider.ID,
		SessionID:  room.Session.ID,
		Source:     application.SourceFaceMatch,
		ObservedAt: observed,
	})
	if !errors.Is(err, application.ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled for an off-roster student, got %v", err)
	}
}

func TestSeedClassroomFillsRoster(t *testing.T) {
	store := NewMemoryStore()
	room := SeedClassroom(t, store, 3, 3)
	services := NewServiceFactory().Build(store, ServiceDeps{})

	roster, err := services.Roster.ListClassRoster(context.Background(), room.Class.ID)
	if err != nil {
		t.Fatalf("ListClassRoster returned error: %v", err)
	}
	if len(roster) != 3 {
		t.Fatalf("expected 3 students, got %d", len(roster))
	}

	extra := NewUser()
	student := NewStudent(extra.ID)
	Seed(t, store, func(ctx context.Context, q persistence.Queries) error {
		if err := q.CreateUser(ctx, extra); err != nil {
			return err
		}
		return q.CreateStudent(ctx, student)
	})
	err = services.Roster.EnrollStudentInClass(context.Background(), student.ID, room.Class.ID)
	if !errors.Is(err, application.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}
