package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/example/classroom-attendance/internal/application"
	"github.com/example/classroom-attendance/internal/logging"
)

// EnvPrefix is prepended to every variable name below.
const EnvPrefix = "ATTENDANCE_"

// Config captures environment driven configuration values for the attendance service.
type Config struct {
	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"file:attendance.db"`
	OpsAddr     string `env:"OPS_ADDR" envDefault:":9090"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	// RedisAddr enables the shared recent-mark cache. Empty keeps it in process.
	RedisAddr     string        `env:"REDIS_ADDR"`
	RecentMarkTTL time.Duration `env:"RECENT_MARK_TTL" envDefault:"30s"`

	GracePeriod time.Duration `env:"GRACE_PERIOD" envDefault:"10m"`
	LateAfter   time.Duration `env:"LATE_AFTER" envDefault:"5m"`

	AllowDualRole           bool   `env:"ALLOW_DUAL_ROLE" envDefault:"false"`
	DeletePolicy            string `env:"DELETE_POLICY" envDefault:"restrict"`
	AcceptSessionRosterOnly bool   `env:"ACCEPT_SESSION_ROSTER_ONLY" envDefault:"true"`
	OverlapPolicy           string `env:"OVERLAP_POLICY" envDefault:"reject"`
	AutoProvisionProfiles   bool   `env:"AUTO_PROVISION_PROFILES" envDefault:"true"`
	SignInMaxAttempts       int    `env:"SIGN_IN_MAX_ATTEMPTS" envDefault:"3"`

	// BackupSchedule is a standard five field cron expression. Empty disables backups.
	BackupSchedule string `env:"BACKUP_SCHEDULE" envDefault:"0 3 * * *"`
	BackupDir      string `env:"BACKUP_DIR" envDefault:"backups"`

	EmbeddingDimensions int     `env:"EMBEDDING_DIMENSIONS" envDefault:"128"`
	MatchThreshold      float64 `env:"MATCH_THRESHOLD" envDefault:"0.8"`

	ScheduleTimezone string `env:"SCHEDULE_TIMEZONE" envDefault:"UTC"`
}

// Load reads optional dotenv files (".env" when none are named), then parses
// the process environment. Variables already set in the environment win over
// dotenv values.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read %s: %w", file, err)
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.DatabaseDSN = strings.TrimSpace(cfg.DatabaseDSN)
	cfg.DeletePolicy = strings.ToLower(strings.TrimSpace(cfg.DeletePolicy))
	cfg.OverlapPolicy = strings.ToLower(strings.TrimSpace(cfg.OverlapPolicy))
	cfg.BackupSchedule = strings.TrimSpace(cfg.BackupSchedule)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	switch c.StoreDriver {
	case "memory":
	case "sqlite", "postgres", "pgx":
		if c.DatabaseDSN == "" {
			missing = append(missing, EnvPrefix+"DATABASE_DSN")
		}
	default:
		invalid = append(invalid, EnvPrefix+"STORE_DRIVER")
	}
	if strings.TrimSpace(c.OpsAddr) == "" {
		missing = append(missing, EnvPrefix+"OPS_ADDR")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		invalid = append(invalid, EnvPrefix+"LOG_LEVEL")
	}
	if c.RecentMarkTTL <= 0 {
		invalid = append(invalid, EnvPrefix+"RECENT_MARK_TTL")
	}
	if c.GracePeriod < 0 {
		invalid = append(invalid, EnvPrefix+"GRACE_PERIOD")
	}
	if c.LateAfter < 0 {
		invalid = append(invalid, EnvPrefix+"LATE_AFTER")
	}
	if c.DeletePolicy != string(application.DeleteRestrict) && c.DeletePolicy != string(application.DeleteCascade) {
		invalid = append(invalid, EnvPrefix+"DELETE_POLICY")
	}
	if c.OverlapPolicy != string(application.OverlapReject) && c.OverlapPolicy != string(application.OverlapWarn) {
		invalid = append(invalid, EnvPrefix+"OVERLAP_POLICY")
	}
	if c.SignInMaxAttempts < 1 {
		invalid = append(invalid, EnvPrefix+"SIGN_IN_MAX_ATTEMPTS")
	}
	if c.BackupSchedule != "" {
		if _, err := cron.ParseStandard(c.BackupSchedule); err != nil {
			invalid = append(invalid, EnvPrefix+"BACKUP_SCHEDULE")
		}
	}
	if c.EmbeddingDimensions < 0 {
		invalid = append(invalid, EnvPrefix+"EMBEDDING_DIMENSIONS")
	}
	if c.MatchThreshold <= 0 || c.MatchThreshold > 1 {
		invalid = append(invalid, EnvPrefix+"MATCH_THRESHOLD")
	}
	if _, err := time.LoadLocation(c.ScheduleTimezone); err != nil {
		invalid = append(invalid, EnvPrefix+"SCHEDULE_TIMEZONE")
	}

	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid environment variable values: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// Policies returns the domain policies selected by the configuration.
func (c Config) Policies() application.Policies {
	return application.Policies{
		AllowDualRole:           c.AllowDualRole,
		DeletePolicy:            application.DeletePolicy(c.DeletePolicy),
		AcceptSessionRosterOnly: c.AcceptSessionRosterOnly,
		OverlapPolicy:           application.OverlapPolicy(c.OverlapPolicy),
		AutoProvisionProfiles:   c.AutoProvisionProfiles,
		SignInMaxAttempts:       c.SignInMaxAttempts,
	}
}

// Location returns the zone recurring series are evaluated in. Load has
// already validated the name.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ScheduleTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoggingOptions maps the log settings onto logging.New.
func (c Config) LoggingOptions() logging.Options {
	return logging.Options{Level: c.LogLevel, File: c.LogFile}
}
