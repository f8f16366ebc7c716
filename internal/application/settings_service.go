package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/classroom-attendance/internal/persistence"
)

// SettingAttendanceGrace overrides the configured attendance grace window.
// Its value is a JSON string accepted by time.ParseDuration, e.g. "10m".
const SettingAttendanceGrace = "attendance.grace_period"

// SettingsService manages process-wide SystemSetting values.
type SettingsService struct {
	store  persistence.Store
	now    func() time.Time
	logger *slog.Logger
}

// NewSettingsService constructs a settings service.
func NewSettingsService(store persistence.Store, now func() time.Time) *SettingsService {
	return NewSettingsServiceWithLogger(store, now, nil)
}

// NewSettingsServiceWithLogger constructs a settings service with a specified logger.
func NewSettingsServiceWithLogger(store persistence.Store, now func() time.Time, logger *slog.Logger) *SettingsService {
	return &SettingsService{
		store:  store,
		now:    defaultNow(now),
		logger: defaultLogger(logger),
	}
}

func (s *SettingsService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "SettingsService", operation, attrs...)
}

// Get returns the setting stored under key.
func (s *SettingsService) Get(ctx context.Context, key string) (setting SystemSetting, err error) {
	if s == nil {
		err = fmt.Errorf("SettingsService is nil")
		return
	}
	key = strings.TrimSpace(key)
	logger := s.loggerWith(ctx, "Get", "key", key)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to get setting", err)
		}
	}()

	err = runView(ctx, s.store, "get setting", func(q persistence.Queries) error {
		var viewErr error
		setting, viewErr = q.GetSetting(ctx, key)
		return missing("setting", key, viewErr)
	})
	return
}

// Decode unmarshals the setting stored under key into dst.
func (s *SettingsService) Decode(ctx context.Context, key string, dst any) error {
	setting, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(setting.Value, dst); err != nil {
		return fmt.Errorf("decode setting %q: %w", key, err)
	}
	return nil
}

// Set stores value under key, replacing whatever was there.
func (s *SettingsService) Set(ctx context.Context, principal Principal, key string, value any) (setting SystemSetting, err error) {
	if s == nil {
		err = fmt.Errorf("SettingsService is nil")
		return
	}
	key = strings.TrimSpace(key)
	logger := s.loggerWith(ctx, "Set", "key", key, "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to set setting", err)
			return
		}
		logger.InfoContext(ctx, "setting stored")
	}()

	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	vErr := &ValidationError{}
	if key == "" {
		vErr.add("key", "key is required")
	}
	raw, encodeErr := encodeSettingValue(value)
	if encodeErr != nil {
		vErr.add("value", encodeErr.Error())
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}
	if key == SettingAttendanceGrace {
		if _, parseErr := parseGrace(raw); parseErr != nil {
			vErr.add("value", parseErr.Error())
			err = vErr
			return
		}
	}

	setting = SystemSetting{Key: key, Value: raw, UpdatedAt: s.now().UTC()}
	err = runTx(ctx, s.store, "set setting", func(q persistence.Queries) error {
		return q.UpsertSetting(ctx, setting)
	})
	return
}

// Delete removes the setting stored under key.
func (s *SettingsService) Delete(ctx context.Context, principal Principal, key string) (err error) {
	if s == nil {
		return fmt.Errorf("SettingsService is nil")
	}
	logger := s.loggerWith(ctx, "Delete", "key", key, "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to delete setting", err)
		}
	}()

	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	err = runTx(ctx, s.store, "delete setting", func(q persistence.Queries) error {
		return missing("setting", key, q.DeleteSetting(ctx, key))
	})
	return
}

// List returns every stored setting ordered by key.
func (s *SettingsService) List(ctx context.Context) (settings []SystemSetting, err error) {
	if s == nil {
		err = fmt.Errorf("SettingsService is nil")
		return
	}
	err = runView(ctx, s.store, "list settings", func(q persistence.Queries) error {
		var viewErr error
		settings, viewErr = q.ListSettings(ctx)
		return viewErr
	})
	if err != nil {
		logFailure(ctx, s.loggerWith(ctx, "List"), "failed to list settings", err)
	}
	return
}

func encodeSettingValue(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case nil:
		return nil, fmt.Errorf("value is required")
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("value must be valid JSON")
		}
		return v, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("value cannot be encoded: %w", err)
	}
	return raw, nil
}

func parseGrace(raw json.RawMessage) (time.Duration, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, fmt.Errorf("grace period must be a duration string")
	}
	grace, err := time.ParseDuration(text)
	if err != nil {
		return 0, fmt.Errorf("grace period: %w", err)
	}
	if grace < 0 {
		return 0, fmt.Errorf("grace period must not be negative")
	}
	return grace, nil
}
