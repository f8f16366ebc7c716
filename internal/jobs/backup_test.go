package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/classroom-attendance/internal/application"
	"github.com/example/classroom-attendance/internal/persistence"
	"github.com/example/classroom-attendance/internal/persistence/memory"
	"github.com/example/classroom-attendance/internal/testfixtures"
)

type snapshotStub struct {
	path  string
	err   error
	dirs  []string
	clock *testfixtures.Clock
}

func (s *snapshotStub) Backup(_ context.Context, dir string) (string, error) {
	s.dirs = append(s.dirs, dir)
	if s.clock != nil {
		s.clock.Advance(1500 * time.Millisecond)
	}
	return s.path, s.err
}

type recorderStub struct {
	records []application.BackupRecord
}

func (r *recorderStub) RecordBackup(_ context.Context, record application.BackupRecord) {
	r.records = append(r.records, record)
}

func TestBackupJobRun(t *testing.T) {
	tests := []struct {
		name       string
		stub       *snapshotStub
		wantStatus application.BackupStatus
		wantPath   string
	}{
		{name: "success", stub: &snapshotStub{path: "backups/a.db"}, wantStatus: application.BackupSuccess, wantPath: "backups/a.db"},
		{name: "unsupported", stub: &snapshotStub{err: persistence.ErrBackupUnsupported}, wantStatus: application.BackupSkipped},
		{name: "failure", stub: &snapshotStub{path: "ignored", err: errors.New("disk full")}, wantStatus: application.BackupFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testfixtures.NewClock(testfixtures.ReferenceTime())
			tt.stub.clock = clock
			recorder := &recorderStub{}
			job := NewBackupJob(tt.stub, recorder, BackupOptions{Dir: "backups", Kind: "sqlite", Now: clock.Now})

			got := job.Run(context.Background())
			if got.Status != tt.wantStatus || got.Path != tt.wantPath || got.Type != "sqlite" {
				t.Fatalf("unexpected record %+v", got)
			}
			if got.Duration != 1500*time.Millisecond {
				t.Fatalf("expected measured duration, got %v", got.Duration)
			}
			if len(recorder.records) != 1 || recorder.records[0] != got {
				t.Fatalf("expected the record to be persisted once, got %+v", recorder.records)
			}
			if len(tt.stub.dirs) != 1 || tt.stub.dirs[0] != "backups" {
				t.Fatalf("unexpected backup dirs %v", tt.stub.dirs)
			}
		})
	}
}

func TestBackupJobRecordsSkipForMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := memory.Open()
	services := testfixtures.NewServiceFactory().Build(store, testfixtures.ServiceDeps{})

	job := NewBackupJob(store, services.Audit, BackupOptions{Dir: t.TempDir(), Kind: "memory"})
	if got := job.Run(ctx); got.Status != application.BackupSkipped {
		t.Fatalf("expected SKIPPED, got %+v", got)
	}

	var logs []persistence.BackupLog
	if err := store.View(ctx, func(q persistence.Queries) error {
		var err error
		logs, err = q.ListBackupLogs(ctx, 10)
		return err
	}); err != nil {
		t.Fatalf("list backup logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Status != application.BackupSkipped || logs[0].Type != "memory" {
		t.Fatalf("unexpected backup logs %+v", logs)
	}
}

func TestBackupJobSnapshotsSQLite(t *testing.T) {
	harness := testfixtures.NewSQLiteHarness(t)
	recorder := &recorderStub{}
	job := NewBackupJob(harness.Store, recorder, BackupOptions{Dir: t.TempDir(), Kind: "sqlite"})

	got := job.Run(context.Background())
	if got.Status != application.BackupSuccess || got.Path == "" {
		t.Fatalf("expected a successful snapshot, got %+v", got)
	}
}

func TestBackupJobRegister(t *testing.T) {
	job := NewBackupJob(nil, &recorderStub{}, BackupOptions{})
	c := NewScheduler(time.UTC, nil)

	id, err := job.Register(context.Background(), c, "0 3 * * *")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if !c.Entry(id).Valid() {
		t.Fatalf("expected a registered entry")
	}
	if _, err := job.Register(context.Background(), c, "whenever"); err == nil {
		t.Fatalf("expected an error for an invalid schedule")
	}
}

func TestBackupJobWithoutStoreSkips(t *testing.T) {
	recorder := &recorderStub{}
	job := NewBackupJob(nil, recorder, BackupOptions{Kind: "none"})
	if got := job.Run(context.Background()); got.Status != application.BackupSkipped {
		t.Fatalf("expected SKIPPED, got %+v", got)
	}
	if len(recorder.records) != 1 {
		t.Fatalf("expected one record, got %d", len(recorder.records))
	}
}
