// Package memory provides an in-process persistence.Store used by tests and
// single-node development runs. Transactions are serialised by a store-wide
// lock and applied copy-on-commit, so a failed unit of work leaves no trace.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/example/classroom-attendance/internal/persistence"
)

var errReadOnly = errors.New("memory: write attempted in read-only view")

// Storage is an in-memory implementation of persistence.Store.
type Storage struct {
	mu    sync.RWMutex
	state *state
}

type attendanceKey struct {
	studentID string
	sessionID string
}

type state struct {
	whitelist       map[string]persistence.WhitelistEntry
	users           map[string]persistence.User
	students        map[string]persistence.Student
	teachers        map[string]persistence.Teacher
	faceData        map[string]persistence.FaceData
	faceImages      map[string]persistence.FaceImage
	classes         map[string]persistence.Class
	classStudents   map[string]map[string]struct{}
	sessions        map[string]persistence.Session
	sessionStudents map[string]map[string]struct{}
	attendance      map[attendanceKey]persistence.Attendance
	systemLogs      []persistence.SystemLog
	backupLogs      []persistence.BackupLog
	settings        map[string]persistence.SystemSetting
}

// Open returns an empty Storage.
func Open() *Storage {
	return &Storage{state: newState()}
}

func newState() *state {
	return &state{
		whitelist:       make(map[string]persistence.WhitelistEntry),
		users:           make(map[string]persistence.User),
		students:        make(map[string]persistence.Student),
		teachers:        make(map[string]persistence.Teacher),
		faceData:        make(map[string]persistence.FaceData),
		faceImages:      make(map[string]persistence.FaceImage),
		classes:         make(map[string]persistence.Class),
		classStudents:   make(map[string]map[string]struct{}),
		sessions:        make(map[string]persistence.Session),
		sessionStudents: make(map[string]map[string]struct{}),
		attendance:      make(map[attendanceKey]persistence.Attendance),
		settings:        make(map[string]persistence.SystemSetting),
	}
}

func (s *state) clone() *state {
	return &state{
		whitelist:       maps.Clone(s.whitelist),
		users:           maps.Clone(s.users),
		students:        maps.Clone(s.students),
		teachers:        maps.Clone(s.teachers),
		faceData:        maps.Clone(s.faceData),
		faceImages:      maps.Clone(s.faceImages),
		classes:         maps.Clone(s.classes),
		classStudents:   cloneMembership(s.classStudents),
		sessions:        maps.Clone(s.sessions),
		sessionStudents: cloneMembership(s.sessionStudents),
		attendance:      maps.Clone(s.attendance),
		systemLogs:      append([]persistence.SystemLog(nil), s.systemLogs...),
		backupLogs:      append([]persistence.BackupLog(nil), s.backupLogs...),
		settings:        maps.Clone(s.settings),
	}
}

func cloneMembership(src map[string]map[string]struct{}) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(src))
	for key, members := range src {
		out[key] = maps.Clone(members)
	}
	return out
}

// WithTx runs fn against a private copy of the state and publishes the copy
// only when fn succeeds and ctx is still live.
func (s *Storage) WithTx(ctx context.Context, fn func(q persistence.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", persistence.ErrUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(&queries{st: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", persistence.ErrUnavailable, err)
	}
	s.state = working
	return nil
}

// View runs fn against the live state under a shared lock.
func (s *Storage) View(ctx context.Context, fn func(q persistence.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", persistence.ErrUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&queries{st: s.state, readOnly: true})
}

// Ping always succeeds for the in-memory store.
func (s *Storage) Ping(context.Context) error {
	return nil
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// Backup is not supported by the in-memory store.
func (s *Storage) Backup(context.Context, string) (string, error) {
	return "", persistence.ErrBackupUnsupported
}

var _ persistence.Store = (*Storage)(nil)
