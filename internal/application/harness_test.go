package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/classroom-attendance/internal/persistence"
	"github.com/example/classroom-attendance/internal/persistence/memory"
)

var baseTime = time.Date(2024, time.September, 2, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingMetrics struct {
	mu        sync.Mutex
	recorded  map[string]int
	rejected  map[string]int
	signIns   map[string]int
	auditFail map[string]int
	backups   map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		recorded:  map[string]int{},
		rejected:  map[string]int{},
		signIns:   map[string]int{},
		auditFail: map[string]int{},
		backups:   map[string]int{},
	}
}

func (m *countingMetrics) bump(counts map[string]int, key string) {
	m.mu.Lock()
	counts[key]++
	m.mu.Unlock()
}

func (m *countingMetrics) AttendanceRecorded(outcome, source string) {
	m.bump(m.recorded, outcome+"/"+source)
}
func (m *countingMetrics) AttendanceRejected(reason string) { m.bump(m.rejected, reason) }
func (m *countingMetrics) SignIn(result string)             { m.bump(m.signIns, result) }
func (m *countingMetrics) AuditWriteFailed(kind string)     { m.bump(m.auditFail, kind) }
func (m *countingMetrics) BackupRecorded(status string)     { m.bump(m.backups, status) }

func (m *countingMetrics) get(counts map[string]int, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return counts[key]
}

type harness struct {
	store   *memory.Storage
	clock   *testClock
	metrics *countingMetrics
	audit   *AuditService
	counter atomic.Uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   memory.Open(),
		clock:   &testClock{now: baseTime},
		metrics: newCountingMetrics(),
	}
	h.audit = NewAuditService(h.store, h.nextID, h.clock.Now, h.metrics)
	return h
}

func (h *harness) nextID() string {
	return fmt.Sprintf("id-%d", h.counter.Add(1))
}

func (h *harness) seed(t *testing.T, fn func(q persistence.Queries) error) {
	t.Helper()
	if err := h.store.WithTx(context.Background(), fn); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func (h *harness) seedUser(t *testing.T, role Role) User {
	t.Helper()
	id := h.nextID()
	user := User{ID: id, ExternalID: "ext-" + id, Email: id + "@example.edu", Role: role, CreatedAt: baseTime, UpdatedAt: baseTime}
	h.seed(t, func(q persistence.Queries) error { return q.CreateUser(context.Background(), user) })
	return user
}

func (h *harness) seedStudent(t *testing.T, name string) Student {
	t.Helper()
	user := h.seedUser(t, RoleStudent)
	student := Student{ID: h.nextID(), UserID: user.ID, Name: name, CreatedAt: baseTime, UpdatedAt: baseTime}
	h.seed(t, func(q persistence.Queries) error { return q.CreateStudent(context.Background(), student) })
	return student
}

func (h *harness) seedTeacher(t *testing.T) Teacher {
	t.Helper()
	user := h.seedUser(t, RoleTeacher)
	teacher := Teacher{ID: h.nextID(), UserID: user.ID, Name: "Teacher " + user.ID, CreatedAt: baseTime, UpdatedAt: baseTime}
	h.seed(t, func(q persistence.Queries) error { return q.CreateTeacher(context.Background(), teacher) })
	return teacher
}

func (h *harness) seedClass(t *testing.T, capacity int, active bool) Class {
	t.Helper()
	teacher := h.seedTeacher(t)
	class := Class{ID: h.nextID(), Name: "Biology", Capacity: capacity, IsActive: active, TeacherID: teacher.ID, CreatedAt: baseTime, UpdatedAt: baseTime}
	h.seed(t, func(q persistence.Queries) error { return q.CreateClass(context.Background(), class) })
	return class
}

// seedSession creates a 09:00 to 10:00 session on baseTime's day.
func (h *harness) seedSession(t *testing.T, classID string) Session {
	t.Helper()
	session := Session{ID: h.nextID(), Name: "Lecture", StartTime: baseTime, EndTime: baseTime.Add(time.Hour), ClassID: classID, CreatedAt: baseTime, UpdatedAt: baseTime}
	h.seed(t, func(q persistence.Queries) error { return q.CreateSession(context.Background(), session) })
	return session
}

func (h *harness) enrollInClass(t *testing.T, classID, studentID string) {
	t.Helper()
	h.seed(t, func(q persistence.Queries) error {
		_, err := q.AddClassStudent(context.Background(), classID, studentID)
		return err
	})
}

func (h *harness) systemLogs(t *testing.T) []SystemLog {
	t.Helper()
	var logs []SystemLog
	err := h.store.View(context.Background(), func(q persistence.Queries) error {
		var err error
		logs, err = q.ListSystemLogs(context.Background(), persistence.SystemLogFilter{})
		return err
	})
	if err != nil {
		t.Fatalf("list system logs: %v", err)
	}
	return logs
}

func (h *harness) logsOfKind(t *testing.T, kind string) []LogMeta {
	t.Helper()
	var out []LogMeta
	for _, entry := range h.systemLogs(t) {
		meta, err := DecodeLogMeta(entry.Meta)
		if err != nil {
			t.Fatalf("decode meta: %v", err)
		}
		if meta != nil && meta.MetaKind() == kind {
			out = append(out, meta)
		}
	}
	return out
}

var adminPrincipal = Principal{UserID: "admin-1", IsAdmin: true}

var errCommitAborted = errors.New("commit aborted")

// flakyCommitStore aborts the first failures commits and re-runs fn against
// fresh state, the way the SQL store retries a serialization failure.
type flakyCommitStore struct {
	persistence.Store
	failures int
	attempts int
}

func (s *flakyCommitStore) WithTx(ctx context.Context, fn func(q persistence.Queries) error) error {
	for {
		s.attempts++
		err := s.Store.WithTx(ctx, func(q persistence.Queries) error {
			if err := fn(q); err != nil {
				return err
			}
			if s.failures > 0 {
				s.failures--
				return errCommitAborted
			}
			return nil
		})
		if !errors.Is(err, errCommitAborted) {
			return err
		}
	}
}
