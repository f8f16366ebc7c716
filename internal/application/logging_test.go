package application

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/example/classroom-attendance/internal/logging"
)

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}

	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}

func TestServiceLoggerPrefersContextLogger(t *testing.T) {
	t.Parallel()

	var base, scoped bytes.Buffer
	baseLogger := slog.New(slog.NewJSONHandler(&base, nil))
	ctx := logging.ContextWithLogger(context.Background(), slog.New(slog.NewJSONHandler(&scoped, nil)))

	serviceLogger(ctx, baseLogger, "AttendanceService", "RecordAttendance", "session_id", "s-1").Info("hello")
	if base.Len() != 0 {
		t.Fatalf("expected the context logger to be used")
	}

	var entry map[string]any
	if err := json.Unmarshal(scoped.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["service"] != "AttendanceService" || entry["operation"] != "RecordAttendance" || entry["session_id"] != "s-1" {
		t.Fatalf("unexpected attributes %v", entry)
	}
}

func TestLogFailureLevelAndKind(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logFailure(context.Background(), logger, "rejected", policy(ErrOutOfWindow, "session", "s-1", ""))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["level"] != "INFO" || entry["error_kind"] != "out_of_window" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrUnauthorized, "unauthorized"},
		{errors.Join(ErrAlreadyExists), "already_exists"},
		{&ValidationError{Reason: ErrInvalidWindow}, "invalid_window"},
		{&ValidationError{Reason: ErrInvalidEmbedding}, "invalid_embedding"},
		{&ValidationError{FieldErrors: map[string]string{"a": "b"}}, "validation"},
		{&InfrastructureError{Op: "x", Err: errors.New("y")}, "infrastructure"},
		{policy(ErrNotEnrolled, "student", "s", ""), "not_enrolled"},
		{policy(errors.New("custom"), "", "", ""), "policy"},
		{notFound("class", "c"), "not_found"},
		{errors.New("boom"), "unexpected"},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
