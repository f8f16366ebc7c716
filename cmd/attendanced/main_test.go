package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/classroom-attendance/internal/application"
	"github.com/example/classroom-attendance/internal/config"
	"github.com/example/classroom-attendance/internal/metrics"
	"github.com/example/classroom-attendance/internal/persistence"
)

func testConfig(t *testing.T, driver string) config.Config {
	t.Helper()
	return config.Config{
		StoreDriver:         driver,
		DatabaseDSN:         filepath.Join(t.TempDir(), "attendance.db"),
		OpsAddr:             "127.0.0.1:0",
		LogLevel:            "info",
		RecentMarkTTL:       time.Second,
		GracePeriod:         10 * time.Minute,
		LateAfter:           5 * time.Minute,
		DeletePolicy:        string(application.DeleteRestrict),
		OverlapPolicy:       string(application.OverlapReject),
		SignInMaxAttempts:   3,
		BackupSchedule:      "0 3 * * *",
		BackupDir:           t.TempDir(),
		EmbeddingDimensions: 2,
		MatchThreshold:      0.9,
		ScheduleTimezone:    "UTC",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	for _, driver := range []string{"memory", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			store, err := openStore(ctx, testConfig(t, driver), discardLogger())
			if err != nil {
				t.Fatalf("openStore returned error: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })

			if err := store.Ping(ctx); err != nil {
				t.Fatalf("Ping returned error: %v", err)
			}
			_, err = store.backup.Backup(ctx, t.TempDir())
			if driver == "memory" && !errors.Is(err, persistence.ErrBackupUnsupported) {
				t.Fatalf("expected memory backups to be unsupported, got %v", err)
			}
			if driver == "sqlite" && err != nil {
				t.Fatalf("sqlite backup failed: %v", err)
			}
		})
	}
}

func TestNewRecentMarksDefaultsToMemory(t *testing.T) {
	marks, closer, err := newRecentMarks(context.Background(), testConfig(t, "memory"))
	if err != nil {
		t.Fatalf("newRecentMarks returned error: %v", err)
	}
	defer closer.Close()

	if _, ok := marks.(*application.MemoryMarks); !ok {
		t.Fatalf("expected in-process marks, got %T", marks)
	}
}

func TestNewEngineWiresCollaborators(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "memory")
	store, err := openStore(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("openStore returned error: %v", err)
	}
	marks := application.NewMemoryMarks(time.Minute, 0, nil)
	eng := newEngine(cfg, store, marks, metrics.New(), discardLogger())

	_, err = eng.Attendance.RecognizeAndRecord(ctx, []byte{1, 2, 3}, "missing", time.Now())
	if !errors.Is(err, application.ErrInvalidEmbedding) {
		t.Fatalf("expected the face matcher to reject a malformed embedding, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, discardLogger()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancellation")
	}
}

func TestRunRejectsUnreachableRedis(t *testing.T) {
	cfg := testConfig(t, "memory")
	cfg.RedisAddr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := run(ctx, cfg, discardLogger()); err == nil {
		t.Fatalf("expected an error when redis cannot be reached")
	}
}

func TestExecuteFlushesLogOnFailure(t *testing.T) {
	cfg := testConfig(t, "memory")
	cfg.RedisAddr = "127.0.0.1:1"
	cfg.LogFile = filepath.Join(t.TempDir(), "attendance.log")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if code := execute(ctx, func() (config.Config, error) { return cfg, nil }); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	data, err := os.ReadFile(cfg.LogFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "attendance service stopped with error") {
		t.Fatalf("expected the failure to reach the log file, got %q", data)
	}
}

func TestExecuteRejectsBadConfig(t *testing.T) {
	load := func() (config.Config, error) { return config.Config{}, errors.New("missing DATABASE_DSN") }
	if code := execute(context.Background(), load); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}
