package application

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when an administrator creates a record that already exists.
	ErrAlreadyExists = errors.New("application: already exists")

	// ErrInvalidWindow is the reason of a ValidationError for a session whose end does not follow its start.
	ErrInvalidWindow = errors.New("application: session end must be after start")
	// ErrInvalidEmbedding is the reason of a ValidationError for a rejected face embedding.
	ErrInvalidEmbedding = errors.New("application: invalid face embedding")
)

// Policy rules. Each is the Rule of a *PolicyError and matches it through errors.Is.
var (
	ErrCapacityExceeded   = errors.New("class capacity exceeded")
	ErrClassInactive      = errors.New("class is inactive")
	ErrOutOfWindow        = errors.New("observation outside the session window")
	ErrNotEnrolled        = errors.New("student is not on the roster")
	ErrNotWhitelisted     = errors.New("email is not whitelisted")
	ErrOverlappingSession = errors.New("session overlaps an existing session")
	ErrDualRoleNotAllowed = errors.New("user already holds the other profile")
	ErrIdentityMismatch   = errors.New("email is linked to a different identity")
	ErrDeletionRestricted = errors.New("record has dependants")
	ErrAccountLinked      = errors.New("whitelist entry is linked to an account")
	ErrNoFaceMatch        = errors.New("no enrolled face matched the captured embedding")
)

// Entity-scoped not-found sentinels for errors.Is checks.
var (
	ErrSessionNotFound        = &NotFoundError{Entity: "session"}
	ErrStudentNotFound        = &NotFoundError{Entity: "student"}
	ErrTeacherNotFound        = &NotFoundError{Entity: "teacher"}
	ErrClassNotFound          = &NotFoundError{Entity: "class"}
	ErrUserNotFound           = &NotFoundError{Entity: "user"}
	ErrWhitelistEntryNotFound = &NotFoundError{Entity: "whitelist entry"}
	ErrFaceDataNotFound       = &NotFoundError{Entity: "face data"}
	ErrFaceImageNotFound      = &NotFoundError{Entity: "face image"}
	ErrAttendanceNotFound     = &NotFoundError{Entity: "attendance"}
	ErrSettingNotFound        = &NotFoundError{Entity: "setting"}
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
	// Reason optionally names the rule that failed, such as ErrInvalidWindow.
	Reason error
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if v.Reason != nil {
		return "validation failed: " + v.Reason.Error()
	}
	return "validation failed"
}

// Unwrap exposes Reason to errors.Is.
func (v *ValidationError) Unwrap() error {
	if v == nil {
		return nil
	}
	return v.Reason
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && (len(v.FieldErrors) > 0 || v.Reason != nil)
}

// Fields returns the names of the invalid fields in sorted order.
func (v *ValidationError) Fields() []string {
	if v == nil {
		return nil
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
	if v.Reason == nil {
		v.Reason = other.Reason
	}
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// Is matches ErrNotFound and any *NotFoundError for the same entity whose ID is empty or equal.
func (e *NotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	var other *NotFoundError
	if !errors.As(target, &other) {
		return false
	}
	return other.Entity == e.Entity && (other.ID == "" || other.ID == e.ID)
}

func notFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// PolicyError is an expected business rejection. Rule names the violated rule.
type PolicyError struct {
	Rule     error
	Entity   string
	EntityID string
	Detail   string
}

func (e *PolicyError) Error() string {
	var b strings.Builder
	b.WriteString(e.Rule.Error())
	if e.Entity != "" {
		fmt.Fprintf(&b, " (%s %s)", e.Entity, e.EntityID)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// Unwrap exposes the rule sentinel.
func (e *PolicyError) Unwrap() error { return e.Rule }

func policy(rule error, entity, id, detail string) error {
	return &PolicyError{Rule: rule, Entity: entity, EntityID: id, Detail: detail}
}

// InfrastructureError wraps a datastore or collaborator failure that is not a business outcome.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: infrastructure failure: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is an infrastructure failure a caller may retry.
// Validation, policy and not-found outcomes are never retryable.
func IsRetryable(err error) bool {
	var infra *InfrastructureError
	return errors.As(err, &infra)
}

// PublicMessage returns a message safe to show to end users.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		vErr   *ValidationError
		nfErr  *NotFoundError
		polErr *PolicyError
		infErr *InfrastructureError
	)
	switch {
	case errors.As(err, &infErr):
		return "the service is temporarily unavailable, please retry"
	case errors.As(err, &vErr):
		if vErr.Reason != nil {
			return vErr.Reason.Error()
		}
		return "the request contains invalid fields: " + strings.Join(vErr.Fields(), ", ")
	case errors.As(err, &polErr):
		return polErr.Error()
	case errors.As(err, &nfErr):
		return nfErr.Error()
	case errors.Is(err, ErrUnauthorized):
		return "not authorized"
	case errors.Is(err, ErrAlreadyExists):
		return "the record already exists"
	}
	return "internal error"
}

// LogLevelFor returns the slog level an error of this kind is logged at.
func LogLevelFor(err error) slog.Level {
	if err == nil {
		return slog.LevelInfo
	}
	var (
		vErr   *ValidationError
		nfErr  *NotFoundError
		polErr *PolicyError
		infErr *InfrastructureError
	)
	switch {
	case errors.As(err, &infErr):
		return slog.LevelError
	case errors.As(err, &vErr), errors.As(err, &polErr), errors.Is(err, ErrAlreadyExists):
		return slog.LevelInfo
	case errors.As(err, &nfErr), errors.Is(err, ErrUnauthorized):
		return slog.LevelWarn
	}
	return slog.LevelError
}
