package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/example/classroom-attendance/internal/application"
	"github.com/example/classroom-attendance/internal/config"
	"github.com/example/classroom-attendance/internal/dedupe"
	"github.com/example/classroom-attendance/internal/facematch"
	httptransport "github.com/example/classroom-attendance/internal/http"
	"github.com/example/classroom-attendance/internal/jobs"
	"github.com/example/classroom-attendance/internal/logging"
	"github.com/example/classroom-attendance/internal/metrics"
	"github.com/example/classroom-attendance/internal/persistence"
	"github.com/example/classroom-attendance/internal/persistence/memory"
	"github.com/example/classroom-attendance/internal/persistence/sqlstore"
	"github.com/example/classroom-attendance/internal/recurrence"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, func() (config.Config, error) { return config.Load() })
	stop()
	os.Exit(code)
}

// execute loads the configuration, runs the service and returns the process
// exit code. The log sink is closed before it returns.
func execute(ctx context.Context, load func() (config.Config, error)) int {
	cfg, err := load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	logger, logCloser, err := logging.New(cfg.LoggingOptions())
	if err != nil {
		slog.Error("failed to build logger", "error", err)
		return 1
	}
	defer logCloser.Close()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("attendance service stopped with error", "error", err)
		return 1
	}
	return 0
}

// storeHandle bundles the opened datastore with its backup capability.
type storeHandle struct {
	persistence.Store
	backup jobs.Snapshotter
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storeHandle, error) {
	if cfg.StoreDriver == "memory" {
		store := memory.Open()
		return storeHandle{Store: store, backup: store}, nil
	}

	store, err := sqlstore.Open(ctx, sqlstore.Options{
		Driver: cfg.StoreDriver,
		DSN:    cfg.DatabaseDSN,
		Logger: logger,
	})
	if err != nil {
		return storeHandle{}, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return storeHandle{}, fmt.Errorf("apply migrations: %w", err)
	}
	return storeHandle{Store: store, backup: store}, nil
}

// newRecentMarks returns the shared redis cache when configured and the
// in-process cache otherwise. The closer is never nil.
func newRecentMarks(ctx context.Context, cfg config.Config) (application.RecentMarks, io.Closer, error) {
	if cfg.RedisAddr == "" {
		return application.NewMemoryMarks(cfg.RecentMarkTTL, 0, nil), io.NopCloser(nil), nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return dedupe.NewRedisMarks(client, dedupe.DefaultPrefix, cfg.RecentMarkTTL), client, nil
}

// engine holds the wired domain services.
type engine struct {
	Audit      *application.AuditService
	Identity   *application.IdentityService
	Roster     *application.RosterService
	Enrollment *application.EnrollmentService
	Sessions   *application.SessionService
	Attendance *application.AttendanceService
	Settings   *application.SettingsService
}

func newEngine(cfg config.Config, store persistence.Store, marks application.RecentMarks, recorder application.Metrics, logger *slog.Logger) *engine {
	ids := uuid.NewString
	now := time.Now
	policies := cfg.Policies()

	audit := application.NewAuditServiceWithLogger(store, ids, now, recorder, logger)
	return &engine{
		Audit:      audit,
		Identity:   application.NewIdentityServiceWithLogger(store, audit, ids, now, policies, logger).UseMetrics(recorder),
		Roster:     application.NewRosterServiceWithLogger(store, audit, ids, now, policies, logger).UseMarks(marks),
		Enrollment: application.NewEnrollmentServiceWithLogger(store, audit, facematch.Validator{Dimensions: cfg.EmbeddingDimensions}, ids, now, logger),
		Sessions:   application.NewSessionServiceWithLogger(store, audit, recurrence.NewEngine(cfg.Location()), ids, now, policies, logger).UseMarks(marks),
		Attendance: application.NewAttendanceServiceWithLogger(store, audit, ids, now, policies, application.AttendanceOptions{
			Grace:     cfg.GracePeriod,
			LateAfter: cfg.LateAfter,
			Marks:     marks,
			Matcher:   facematch.NewMatcher(store, cfg.EmbeddingDimensions, cfg.MatchThreshold, logger),
			Metrics:   recorder,
		}, logger),
		Settings: application.NewSettingsServiceWithLogger(store, now, logger),
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close store", "error", cerr)
		}
	}()

	marks, marksCloser, err := newRecentMarks(ctx, cfg)
	if err != nil {
		return err
	}
	defer marksCloser.Close()

	recorder := metrics.New()
	eng := newEngine(cfg, store, marks, recorder, logger)

	scheduler := jobs.NewScheduler(cfg.Location(), logger)
	if cfg.BackupSchedule != "" {
		job := jobs.NewBackupJob(store.backup, eng.Audit, jobs.BackupOptions{
			Dir:    cfg.BackupDir,
			Kind:   cfg.StoreDriver,
			Logger: logger,
		})
		if _, err := job.Register(ctx, scheduler, cfg.BackupSchedule); err != nil {
			return err
		}
	}

	server := httptransport.NewServer(cfg.OpsAddr, httptransport.NewRouter(httptransport.RouterConfig{
		Store:   store,
		Metrics: recorder.Handler(),
		Logger:  logger,
	}))

	eng.Audit.Log(ctx, application.LogLevelInfo, "attendance service started with "+cfg.StoreDriver+" store", nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("ops server listening", "addr", server.Addr, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown ops server", "error", err)
		}
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn("scheduled jobs still running at shutdown")
		}
		return nil
	})

	return g.Wait()
}
