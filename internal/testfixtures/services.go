package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/classroom-attendance/internal/application"
	"github.com/example/classroom-attendance/internal/persistence"
	"github.com/example/classroom-attendance/internal/persistence/memory"
	"github.com/example/classroom-attendance/internal/recurrence"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Policies    application.Policies
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with the default policies.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Policies:    application.DefaultPolicies(),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithPolicies overrides the default policies.
func WithPolicies(policies application.Policies) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Policies = policies
	}
}

// ServiceDeps carries the optional collaborators of the service graph.
type ServiceDeps struct {
	Metrics   application.Metrics
	Matcher   application.FaceMatcher
	Validator application.EmbeddingValidator
	Marks     application.RecentMarks
	Grace     time.Duration
	LateAfter time.Duration
}

// Services is the full application service graph over one store.
type Services struct {
	Audit      *application.AuditService
	Identity   *application.IdentityService
	Roster     *application.RosterService
	Enrollment *application.EnrollmentService
	Sessions   *application.SessionService
	Attendance *application.AttendanceService
	Settings   *application.SettingsService
}

// Build wires every service against store with the factory's clock, IDs and policies.
func (f *ServiceFactory) Build(store persistence.Store, deps ServiceDeps) *Services {
	ids := f.IDGenerator.NextFunc()
	now := f.Clock.NowFunc()

	audit := application.NewAuditServiceWithLogger(store, ids, now, deps.Metrics, f.Logger)
	return &Services{
		Audit:      audit,
		Identity:   application.NewIdentityServiceWithLogger(store, audit, ids, now, f.Policies, f.Logger).UseMetrics(deps.Metrics),
		Roster:     application.NewRosterServiceWithLogger(store, audit, ids, now, f.Policies, f.Logger).UseMarks(deps.Marks),
		Enrollment: application.NewEnrollmentServiceWithLogger(store, audit, deps.Validator, ids, now, f.Logger),
		Sessions:   application.NewSessionServiceWithLogger(store, audit, recurrence.NewEngine(time.UTC), ids, now, f.Policies, f.Logger).UseMarks(deps.Marks),
		Attendance: application.NewAttendanceServiceWithLogger(store, audit, ids, now, f.Policies, application.AttendanceOptions{
			Grace:     deps.Grace,
			LateAfter: deps.LateAfter,
			Marks:     deps.Marks,
			Matcher:   deps.Matcher,
			Metrics:   deps.Metrics,
		}, f.Logger),
		Settings: application.NewSettingsServiceWithLogger(store, now, f.Logger),
	}
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *memory.Storage {
	return memory.Open()
}
