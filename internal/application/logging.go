package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/classroom-attendance/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// logFailure logs err at the level its kind warrants.
func logFailure(ctx context.Context, logger *slog.Logger, msg string, err error) {
	logger.Log(ctx, LogLevelFor(err), msg, "error", err, "error_kind", ErrorKind(err))
}

var policyKinds = []struct {
	rule error
	kind string
}{
	{ErrCapacityExceeded, "capacity_exceeded"},
	{ErrClassInactive, "class_inactive"},
	{ErrOutOfWindow, "out_of_window"},
	{ErrNotEnrolled, "not_enrolled"},
	{ErrNotWhitelisted, "not_whitelisted"},
	{ErrOverlappingSession, "overlapping_session"},
	{ErrDualRoleNotAllowed, "dual_role_not_allowed"},
	{ErrIdentityMismatch, "identity_mismatch"},
	{ErrDeletionRestricted, "deletion_restricted"},
	{ErrAccountLinked, "account_linked"},
	{ErrNoFaceMatch, "no_face_match"},
}

// ErrorKind maps sentinel and typed errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrInvalidWindow):
		return "invalid_window"
	case errors.Is(err, ErrInvalidEmbedding):
		return "invalid_embedding"
	}

	var infra *InfrastructureError
	if errors.As(err, &infra) {
		return "infrastructure"
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}
	var polErr *PolicyError
	if errors.As(err, &polErr) {
		for _, candidate := range policyKinds {
			if errors.Is(polErr, candidate.rule) {
				return candidate.kind
			}
		}
		return "policy"
	}
	if errors.Is(err, ErrNotFound) {
		return "not_found"
	}

	return "unexpected"
}
