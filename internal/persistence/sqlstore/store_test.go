package sqlstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/example/classroom-attendance/internal/persistence"
)

var baseTime = time.Date(2025, 4, 7, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(context.Background(), Options{Driver: "sqlite", DSN: filepath.Join(dir, "attendance.db")})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	return store
}

// seed creates a teacher, a class with the given capacity and a session, returning their ids.
func seed(t *testing.T, store *Store, capacity int) (classID, sessionID string) {
	t.Helper()
	err := store.WithTx(context.Background(), func(q persistence.Queries) error {
		ctx := context.Background()
		if err := q.CreateUser(ctx, persistence.User{ID: "u-teacher", ExternalID: "ext-teacher", Email: "Teacher@Example.com", Role: persistence.RoleTeacher, CreatedAt: baseTime, UpdatedAt: baseTime}); err != nil {
			return err
		}
		if err := q.CreateTeacher(ctx, persistence.Teacher{ID: "t-1", UserID: "u-teacher", Name: "Ms. Tanaka", CreatedAt: baseTime, UpdatedAt: baseTime}); err != nil {
			return err
		}
		if err := q.CreateClass(ctx, persistence.Class{ID: "c-1", Name: "Biology", Capacity: capacity, IsActive: true, TeacherID: "t-1", CreatedAt: baseTime, UpdatedAt: baseTime}); err != nil {
			return err
		}
		return q.CreateSession(ctx, persistence.Session{ID: "s-1", Name: "Lecture 1", StartTime: baseTime, EndTime: baseTime.Add(time.Hour), ClassID: "c-1", CreatedAt: baseTime, UpdatedAt: baseTime})
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return "c-1", "s-1"
}

func addStudent(t *testing.T, store *Store, id, name string) {
	t.Helper()
	err := store.WithTx(context.Background(), func(q persistence.Queries) error {
		ctx := context.Background()
		if err := q.CreateUser(ctx, persistence.User{ID: "u-" + id, ExternalID: "ext-" + id, Email: id + "@example.com", Role: persistence.RoleStudent, CreatedAt: baseTime, UpdatedAt: baseTime}); err != nil {
			return err
		}
		return q.CreateStudent(ctx, persistence.Student{ID: id, UserID: "u-" + id, Name: name, CreatedAt: baseTime, UpdatedAt: baseTime})
	})
	if err != nil {
		t.Fatalf("addStudent(%s) failed: %v", id, err)
	}
}

func TestOpenValidatesOptions(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
	if _, err := Open(context.Background(), Options{Driver: "sqlite"}); err == nil {
		t.Fatal("expected missing DSN error")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate returned error: %v", err)
	}
}

func TestUserRoundTripAndLookups(t *testing.T) {
	store := openTestStore(t)
	seed(t, store, 10)

	err := store.View(context.Background(), func(q persistence.Queries) error {
		ctx := context.Background()
		user, err := q.GetUserByEmail(ctx, "teacher@EXAMPLE.com")
		if err != nil {
			return err
		}
		if user.ID != "u-teacher" || user.Role != persistence.RoleTeacher {
			t.Fatalf("unexpected user: %+v", user)
		}
		if !user.CreatedAt.Equal(baseTime) {
			t.Fatalf("CreatedAt = %v, want %v", user.CreatedAt, baseTime)
		}
		if _, err := q.GetUserByExternalID(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View returned error: %v", err)
	}
}

func TestConstraintClassification(t *testing.T) {
	store := openTestStore(t)
	seed(t, store, 10)
	ctx := context.Background()

	t.Run("duplicate external id", func(t *testing.T) {
		err := store.WithTx(ctx, func(q persistence.Queries) error {
			return q.CreateUser(ctx, persistence.User{ID: "u-2", ExternalID: "ext-teacher", Email: "other@example.com", Role: persistence.RoleStudent, CreatedAt: baseTime, UpdatedAt: baseTime})
		})
		if !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("unknown teacher", func(t *testing.T) {
		err := store.WithTx(ctx, func(q persistence.Queries) error {
			return q.CreateClass(ctx, persistence.Class{ID: "c-2", Name: "Art", Capacity: 5, TeacherID: "nobody", CreatedAt: baseTime, UpdatedAt: baseTime})
		})
		if !errors.Is(err, persistence.ErrForeignKeyViolation) {
			t.Fatalf("expected ErrForeignKeyViolation, got %v", err)
		}
	})

	t.Run("non-positive capacity", func(t *testing.T) {
		err := store.WithTx(ctx, func(q persistence.Queries) error {
			return q.CreateClass(ctx, persistence.Class{ID: "c-3", Name: "Art", Capacity: 0, TeacherID: "t-1", CreatedAt: baseTime, UpdatedAt: baseTime})
		})
		if !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation, got %v", err)
		}
	})

	t.Run("session ends before start", func(t *testing.T) {
		err := store.WithTx(ctx, func(q persistence.Queries) error {
			return q.CreateSession(ctx, persistence.Session{ID: "s-bad", Name: "Bad", StartTime: baseTime, EndTime: baseTime.Add(-time.Minute), ClassID: "c-1", CreatedAt: baseTime, UpdatedAt: baseTime})
		})
		if !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation, got %v", err)
		}
	})
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	seed(t, store, 10)
	ctx := context.Background()
	sentinel := errors.New("abort")

	err := store.WithTx(ctx, func(q persistence.Queries) error {
		if err := q.UpsertSetting(ctx, persistence.SystemSetting{Key: "attendance.grace_period", Value: []byte(`"5m"`), UpdatedAt: baseTime}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	err = store.View(ctx, func(q persistence.Queries) error {
		_, err := q.GetSetting(ctx, "attendance.grace_period")
		return err
	})
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected rolled back setting to be absent, got %v", err)
	}
}

func TestRosterAddIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	classID, sessionID := seed(t, store, 10)
	addStudent(t, store, "st-1", "Aoki")
	ctx := context.Background()

	err := store.WithTx(ctx, func(q persistence.Queries) error {
		added, err := q.AddClassStudent(ctx, classID, "st-1")
		if err != nil || !added {
			t.Fatalf("first AddClassStudent = %v, %v", added, err)
		}
		added, err = q.AddClassStudent(ctx, classID, "st-1")
		if err != nil || added {
			t.Fatalf("second AddClassStudent = %v, %v", added, err)
		}
		added, err = q.AddSessionStudent(ctx, sessionID, "st-1")
		if err != nil || !added {
			t.Fatalf("AddSessionStudent = %v, %v", added, err)
		}
		n, err := q.CountClassStudents(ctx, classID)
		if err != nil || n != 1 {
			t.Fatalf("CountClassStudents = %d, %v", n, err)
		}
		students, err := q.ListSessionStudents(ctx, sessionID)
		if err != nil || len(students) != 1 || students[0].Name != "Aoki" {
			t.Fatalf("ListSessionStudents = %+v, %v", students, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx returned error: %v", err)
	}
}

func TestInsertAttendanceFirstWriterWins(t *testing.T) {
	store := openTestStore(t)
	_, sessionID := seed(t, store, 10)
	addStudent(t, store, "st-1", "Aoki")
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.WithTx(ctx, func(q persistence.Queries) error {
				ok, err := q.InsertAttendance(ctx, persistence.Attendance{
					ID: "a-" + string(rune('a'+i)), StudentID: "st-1", SessionID: sessionID,
					Status: persistence.StatusPresent, Source: persistence.SourceFaceMatch,
					Timestamp: baseTime.Add(time.Duration(i) * time.Second), CreatedAt: baseTime, UpdatedAt: baseTime,
				})
				if err != nil {
					return err
				}
				if ok {
					mu.Lock()
					inserted++
					mu.Unlock()
				}
				return nil
			})
			if err != nil {
				t.Errorf("InsertAttendance transaction failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if inserted != 1 {
		t.Fatalf("inserted = %d, want exactly 1", inserted)
	}
	err := store.View(ctx, func(q persistence.Queries) error {
		n, err := q.CountAttendanceBySession(ctx, sessionID)
		if err != nil || n != 1 {
			t.Fatalf("CountAttendanceBySession = %d, %v", n, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View returned error: %v", err)
	}
}

func TestAttendanceUpdateAndDeleteSessionRestriction(t *testing.T) {
	store := openTestStore(t)
	_, sessionID := seed(t, store, 10)
	addStudent(t, store, "st-1", "Aoki")
	ctx := context.Background()

	err := store.WithTx(ctx, func(q persistence.Queries) error {
		if _, err := q.InsertAttendance(ctx, persistence.Attendance{ID: "a-1", StudentID: "st-1", SessionID: sessionID, Status: persistence.StatusPresent, Source: persistence.SourceFaceMatch, Timestamp: baseTime, CreatedAt: baseTime, UpdatedAt: baseTime}); err != nil {
			return err
		}
		current, err := q.LockAttendance(ctx, "st-1", sessionID)
		if err != nil {
			return err
		}
		current.Status = persistence.StatusExcused
		current.Source = persistence.SourceManual
		current.Timestamp = baseTime.Add(10 * time.Minute)
		current.UpdatedAt = current.Timestamp
		return q.UpdateAttendance(ctx, current)
	})
	if err != nil {
		t.Fatalf("WithTx returned error: %v", err)
	}

	err = store.View(ctx, func(q persistence.Queries) error {
		got, err := q.GetAttendance(ctx, "st-1", sessionID)
		if err != nil {
			return err
		}
		if got.Status != persistence.StatusExcused || got.Source != persistence.SourceManual {
			t.Fatalf("unexpected attendance after update: %+v", got)
		}
		if !got.Timestamp.Equal(baseTime.Add(10 * time.Minute)) {
			t.Fatalf("Timestamp = %v", got.Timestamp)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View returned error: %v", err)
	}

	err = store.WithTx(ctx, func(q persistence.Queries) error { return q.DeleteSession(ctx, sessionID) })
	if !errors.Is(err, persistence.ErrForeignKeyViolation) {
		t.Fatalf("expected ErrForeignKeyViolation deleting a session with attendance, got %v", err)
	}
}

func TestFaceDataUpsertKeepsIdentity(t *testing.T) {
	store := openTestStore(t)
	addStudent(t, store, "st-1", "Aoki")
	ctx := context.Background()

	write := func(id, checksum string, at time.Time) {
		t.Helper()
		err := store.WithTx(ctx, func(q persistence.Queries) error {
			return q.UpsertFaceData(ctx, persistence.FaceData{ID: id, StudentID: "st-1", Embedding: []byte{1, 2, 3}, Checksum: checksum, CreatedAt: at, UpdatedAt: at})
		})
		if err != nil {
			t.Fatalf("UpsertFaceData failed: %v", err)
		}
	}
	write("fd-1", "first", baseTime)
	write("fd-2", "second", baseTime.Add(time.Hour))

	err := store.View(ctx, func(q persistence.Queries) error {
		data, err := q.GetFaceData(ctx, "st-1")
		if err != nil {
			return err
		}
		if data.ID != "fd-1" || data.Checksum != "second" {
			t.Fatalf("unexpected face data: %+v", data)
		}
		if !data.CreatedAt.Equal(baseTime) || !data.UpdatedAt.Equal(baseTime.Add(time.Hour)) {
			t.Fatalf("unexpected timestamps: created %v updated %v", data.CreatedAt, data.UpdatedAt)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View returned error: %v", err)
	}
}

func TestSystemLogFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(q persistence.Queries) error {
		for i, level := range []persistence.LogLevel{persistence.LogLevelInfo, persistence.LogLevelWarn, persistence.LogLevelInfo} {
			entry := persistence.SystemLog{ID: string(rune('a' + i)), Level: level, Message: "entry", Meta: []byte(`{"kind":"raw"}`), CreatedAt: baseTime.Add(time.Duration(i) * time.Minute)}
			if err := q.AppendSystemLog(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AppendSystemLog failed: %v", err)
	}

	err = store.View(ctx, func(q persistence.Queries) error {
		logs, err := q.ListSystemLogs(ctx, persistence.SystemLogFilter{Level: persistence.LogLevelInfo})
		if err != nil {
			return err
		}
		if len(logs) != 2 || logs[0].ID != "c" || logs[1].ID != "a" {
			t.Fatalf("unexpected INFO logs: %+v", logs)
		}
		if string(logs[0].Meta) != `{"kind":"raw"}` {
			t.Fatalf("Meta = %s", logs[0].Meta)
		}
		since := baseTime.Add(time.Minute)
		logs, err = q.ListSystemLogs(ctx, persistence.SystemLogFilter{Since: &since, Limit: 1})
		if err != nil {
			return err
		}
		if len(logs) != 1 || logs[0].ID != "c" {
			t.Fatalf("unexpected limited logs: %+v", logs)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View returned error: %v", err)
	}
}

func TestBackupWritesSnapshot(t *testing.T) {
	store := openTestStore(t)
	seed(t, store, 10)

	path, err := store.Backup(context.Background(), filepath.Join(t.TempDir(), "backups"))
	if err != nil {
		t.Fatalf("Backup returned error: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat backup: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("backup file is empty")
	}
}

func TestSQLitePath(t *testing.T) {
	tests := map[string]string{
		"data/attendance.db":                  "data/attendance.db",
		"file:data/attendance.db?_pragma=x":   "data/attendance.db",
		":memory:":                            "",
		"file:memdb1?mode=memory&cache=shared": "",
	}
	for dsn, want := range tests {
		if got := sqlitePath(dsn); got != want {
			t.Errorf("sqlitePath(%q) = %q, want %q", dsn, got, want)
		}
	}
}
