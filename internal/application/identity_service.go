package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/classroom-attendance/internal/persistence"
)

const signInBackoff = 20 * time.Millisecond

// IdentityService reconciles externally issued identities with the
// administrator curated whitelist.
type IdentityService struct {
	store       persistence.Store
	audit       *AuditService
	idGenerator func() string
	now         func() time.Time
	policies    Policies
	metrics     Metrics
	backoff     time.Duration
	logger      *slog.Logger
}

// NewIdentityService constructs an identity service with the provided dependencies.
func NewIdentityService(store persistence.Store, audit *AuditService, idGenerator func() string, now func() time.Time, policies Policies) *IdentityService {
	return NewIdentityServiceWithLogger(store, audit, idGenerator, now, policies, nil)
}

// NewIdentityServiceWithLogger constructs an identity service with a specified logger.
func NewIdentityServiceWithLogger(store persistence.Store, audit *AuditService, idGenerator func() string, now func() time.Time, policies Policies, logger *slog.Logger) *IdentityService {
	return &IdentityService{
		store:       store,
		audit:       audit,
		idGenerator: defaultIDs(idGenerator),
		now:         defaultNow(now),
		policies:    policies.withDefaults(),
		metrics:     noopMetrics{},
		backoff:     signInBackoff,
		logger:      defaultLogger(logger),
	}
}

// UseMetrics routes sign-in counters to m.
func (s *IdentityService) UseMetrics(m Metrics) *IdentityService {
	s.metrics = metricsOrNoop(m)
	return s
}

func (s *IdentityService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "IdentityService", operation, attrs...)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// OnExternalSignIn binds an identity asserted by the identity provider to a
// user. The first sign-in for a whitelisted email creates the user; later
// sign-ins return it unchanged.
func (s *IdentityService) OnExternalSignIn(ctx context.Context, params SignInParams) (result SignInResult, err error) {
	if s == nil {
		err = fmt.Errorf("IdentityService is nil")
		return
	}

	params.ExternalID = strings.TrimSpace(params.ExternalID)
	params.Email = normalizeEmail(params.Email)

	logger := s.loggerWith(ctx, "OnExternalSignIn", "external_id", params.ExternalID)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "sign-in rejected", err)
			return
		}
		logger.InfoContext(ctx, "sign-in reconciled", "user_id", result.User.ID, "created", result.Created)
	}()

	if vErr := validateStruct(params); vErr.HasErrors() {
		err = vErr
		return
	}

	for attempt := 1; ; attempt++ {
		result, err = s.reconcile(ctx, params)
		if err == nil || !errors.Is(err, persistence.ErrDuplicate) || attempt >= s.policies.SignInMaxAttempts {
			break
		}
		logger.DebugContext(ctx, "sign-in raced a concurrent writer, retrying", "attempt", attempt)
		if waitErr := sleepContext(ctx, s.backoff*time.Duration(1<<(attempt-1))); waitErr != nil {
			err = waitErr
			break
		}
	}
	err = mapStoreError("sign in", err)

	s.recordSignIn(ctx, params, result, err)
	return
}

func (s *IdentityService) reconcile(ctx context.Context, params SignInParams) (SignInResult, error) {
	var result SignInResult
	err := s.store.WithTx(ctx, func(q persistence.Queries) error {
		entry, err := q.GetWhitelistEntry(ctx, params.Email)
		if errors.Is(err, persistence.ErrNotFound) {
			return policy(ErrNotWhitelisted, "email", params.Email, "no whitelist entry")
		}
		if err != nil {
			return err
		}
		if !entry.IsActive {
			return policy(ErrNotWhitelisted, "email", params.Email, "whitelist entry is inactive")
		}
		now := s.now().UTC()
		if entry.ExpiresAt != nil && !now.Before(*entry.ExpiresAt) {
			return policy(ErrNotWhitelisted, "email", params.Email, "whitelist entry has expired")
		}

		user, err := q.GetUserByExternalID(ctx, params.ExternalID)
		switch {
		case err == nil:
			result.User = user
			return loadProfiles(ctx, q, &result)
		case !errors.Is(err, persistence.ErrNotFound):
			return err
		}

		if other, lookupErr := q.GetUserByEmail(ctx, params.Email); lookupErr == nil {
			return policy(ErrIdentityMismatch, "user", other.ID, "email is bound to another identity")
		} else if !errors.Is(lookupErr, persistence.ErrNotFound) {
			return lookupErr
		}

		user = User{
			ID:         s.idGenerator(),
			ExternalID: params.ExternalID,
			Email:      params.Email,
			Role:       entry.Role,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := q.CreateUser(ctx, user); err != nil {
			return err
		}

		entry.Account = persistence.AccountLink{Created: true, CreatedAt: &now}
		entry.UpdatedAt = now
		if err := q.UpdateWhitelistEntry(ctx, entry); err != nil {
			return err
		}

		result = SignInResult{User: user, Created: true}
		if s.policies.AutoProvisionProfiles {
			return s.provisionProfile(ctx, q, entry, &result, now)
		}
		return nil
	})
	return result, err
}

func (s *IdentityService) provisionProfile(ctx context.Context, q persistence.Queries, entry WhitelistEntry, result *SignInResult, now time.Time) error {
	switch entry.Role {
	case RoleStudent:
		student := Student{ID: s.idGenerator(), UserID: result.User.ID, Name: entry.Name, CreatedAt: now, UpdatedAt: now}
		if err := q.CreateStudent(ctx, student); err != nil {
			return err
		}
		result.Student = &student
	case RoleTeacher:
		teacher := Teacher{ID: s.idGenerator(), UserID: result.User.ID, Name: entry.Name, Department: entry.Department, CreatedAt: now, UpdatedAt: now}
		if err := q.CreateTeacher(ctx, teacher); err != nil {
			return err
		}
		result.Teacher = &teacher
	}
	return nil
}

func loadProfiles(ctx context.Context, q persistence.Queries, result *SignInResult) error {
	student, err := q.GetStudentByUserID(ctx, result.User.ID)
	switch {
	case err == nil:
		result.Student = &student
	case !errors.Is(err, persistence.ErrNotFound):
		return err
	}
	teacher, err := q.GetTeacherByUserID(ctx, result.User.ID)
	switch {
	case err == nil:
		result.Teacher = &teacher
	case !errors.Is(err, persistence.ErrNotFound):
		return err
	}
	return nil
}

func (s *IdentityService) recordSignIn(ctx context.Context, params SignInParams, result SignInResult, err error) {
	meta := SignInMeta{ExternalID: params.ExternalID, Email: params.Email}
	switch {
	case err == nil:
		meta.Outcome = "existing"
		if result.Created {
			meta.Outcome = "created"
		}
		meta.UserID = result.User.ID
		meta.Role = result.User.Role
		s.audit.Log(ctx, LogLevelInfo, "external sign-in accepted", meta)
	case errors.Is(err, ErrNotWhitelisted):
		meta.Outcome = "not_whitelisted"
		s.audit.Log(ctx, LogLevelWarn, "external sign-in rejected: email not whitelisted", meta)
	case errors.Is(err, ErrIdentityMismatch):
		meta.Outcome = "identity_mismatch"
		s.audit.Log(ctx, LogLevelWarn, "external sign-in rejected: identity mismatch", meta)
	default:
		meta.Outcome = ErrorKind(err)
	}
	s.metrics.SignIn(meta.Outcome)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return &InfrastructureError{Op: "sign in", Err: ctx.Err()}
	case <-timer.C:
		return nil
	}
}

// AddWhitelistEntry permits an email to create an account.
func (s *IdentityService) AddWhitelistEntry(ctx context.Context, params WhitelistParams) (entry WhitelistEntry, err error) {
	if s == nil {
		err = fmt.Errorf("IdentityService is nil")
		return
	}
	params.Input = normalizeWhitelistInput(params.Input)
	logger := s.loggerWith(ctx, "AddWhitelistEntry", "principal_id", params.Principal.UserID, "email", params.Input.Email)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to add whitelist entry", err)
			return
		}
		logger.InfoContext(ctx, "whitelist entry added", "role", string(entry.Role))
	}()

	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	if vErr := validateStruct(params.Input); vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now().UTC()
	entry = WhitelistEntry{
		Email:      params.Input.Email,
		Role:       params.Input.Role,
		Name:       params.Input.Name,
		Department: params.Input.Department,
		IsActive:   params.Input.IsActive,
		ExpiresAt:  params.Input.ExpiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = runTx(ctx, s.store, "add whitelist entry", func(q persistence.Queries) error {
		return q.CreateWhitelistEntry(ctx, entry)
	})
	return
}

// UpdateWhitelistEntry replaces the administrator editable fields of an entry.
// Invitation and account state are preserved.
func (s *IdentityService) UpdateWhitelistEntry(ctx context.Context, params WhitelistParams) (entry WhitelistEntry, err error) {
	if s == nil {
		err = fmt.Errorf("IdentityService is nil")
		return
	}
	params.Input = normalizeWhitelistInput(params.Input)
	logger := s.loggerWith(ctx, "UpdateWhitelistEntry", "principal_id", params.Principal.UserID, "email", params.Input.Email)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to update whitelist entry", err)
		}
	}()

	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	if vErr := validateStruct(params.Input); vErr.HasErrors() {
		err = vErr
		return
	}

	err = runTx(ctx, s.store, "update whitelist entry", func(q persistence.Queries) error {
		current, getErr := q.GetWhitelistEntry(ctx, params.Input.Email)
		if getErr != nil {
			return missing("whitelist entry", params.Input.Email, getErr)
		}
		current.Role = params.Input.Role
		current.Name = params.Input.Name
		current.Department = params.Input.Department
		current.IsActive = params.Input.IsActive
		current.ExpiresAt = params.Input.ExpiresAt
		current.UpdatedAt = s.now().UTC()
		entry = current
		return q.UpdateWhitelistEntry(ctx, current)
	})
	return
}

// DeactivateWhitelistEntry stops the email from signing in.
func (s *IdentityService) DeactivateWhitelistEntry(ctx context.Context, principal Principal, email string) error {
	return s.mutateWhitelistEntry(ctx, principal, email, "DeactivateWhitelistEntry", func(entry *WhitelistEntry) error {
		entry.IsActive = false
		return nil
	})
}

// MarkInvitationSent records the invitation issued by the identity provider.
func (s *IdentityService) MarkInvitationSent(ctx context.Context, principal Principal, email, providerInvitationID string) error {
	return s.mutateWhitelistEntry(ctx, principal, email, "MarkInvitationSent", func(entry *WhitelistEntry) error {
		sentAt := s.now().UTC()
		entry.Invitation = persistence.Invitation{Sent: true, SentAt: &sentAt}
		if id := strings.TrimSpace(providerInvitationID); id != "" {
			entry.Invitation.ProviderInvitationID = &id
		}
		return nil
	})
}

func (s *IdentityService) mutateWhitelistEntry(ctx context.Context, principal Principal, email, operation string, mutate func(*WhitelistEntry) error) (err error) {
	if s == nil {
		return fmt.Errorf("IdentityService is nil")
	}
	email = normalizeEmail(email)
	logger := s.loggerWith(ctx, operation, "principal_id", principal.UserID, "email", email)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to update whitelist entry", err)
		}
	}()

	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	err = runTx(ctx, s.store, "update whitelist entry", func(q persistence.Queries) error {
		entry, getErr := q.GetWhitelistEntry(ctx, email)
		if getErr != nil {
			return missing("whitelist entry", email, getErr)
		}
		if mutateErr := mutate(&entry); mutateErr != nil {
			return mutateErr
		}
		entry.UpdatedAt = s.now().UTC()
		return q.UpdateWhitelistEntry(ctx, entry)
	})
	return
}

// DeleteWhitelistEntry removes an entry that has not been linked to an account.
func (s *IdentityService) DeleteWhitelistEntry(ctx context.Context, principal Principal, email string) (err error) {
	if s == nil {
		return fmt.Errorf("IdentityService is nil")
	}
	email = normalizeEmail(email)
	logger := s.loggerWith(ctx, "DeleteWhitelistEntry", "principal_id", principal.UserID, "email", email)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to delete whitelist entry", err)
			return
		}
		logger.InfoContext(ctx, "whitelist entry deleted")
	}()

	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	err = runTx(ctx, s.store, "delete whitelist entry", func(q persistence.Queries) error {
		entry, getErr := q.GetWhitelistEntry(ctx, email)
		if getErr != nil {
			return missing("whitelist entry", email, getErr)
		}
		if entry.Account.Created {
			return policy(ErrAccountLinked, "whitelist entry", email, "linked entries are retained for audit")
		}
		return q.DeleteWhitelistEntry(ctx, email)
	})
	return
}

// GetWhitelistEntry returns the entry for email.
func (s *IdentityService) GetWhitelistEntry(ctx context.Context, principal Principal, email string) (entry WhitelistEntry, err error) {
	if s == nil {
		err = fmt.Errorf("IdentityService is nil")
		return
	}
	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	email = normalizeEmail(email)
	err = runView(ctx, s.store, "get whitelist entry", func(q persistence.Queries) error {
		var viewErr error
		entry, viewErr = q.GetWhitelistEntry(ctx, email)
		return missing("whitelist entry", email, viewErr)
	})
	if err != nil {
		logFailure(ctx, s.loggerWith(ctx, "GetWhitelistEntry", "email", email), "failed to get whitelist entry", err)
	}
	return
}

// ListWhitelistEntries returns every entry ordered by email.
func (s *IdentityService) ListWhitelistEntries(ctx context.Context, principal Principal) (entries []WhitelistEntry, err error) {
	if s == nil {
		err = fmt.Errorf("IdentityService is nil")
		return
	}
	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	err = runView(ctx, s.store, "list whitelist entries", func(q persistence.Queries) error {
		var viewErr error
		entries, viewErr = q.ListWhitelistEntries(ctx)
		return viewErr
	})
	if err != nil {
		logFailure(ctx, s.loggerWith(ctx, "ListWhitelistEntries"), "failed to list whitelist entries", err)
	}
	return
}

func normalizeWhitelistInput(input WhitelistInput) WhitelistInput {
	input.Email = normalizeEmail(input.Email)
	input.Name = strings.TrimSpace(input.Name)
	if input.Department != nil {
		dept := strings.TrimSpace(*input.Department)
		if dept == "" {
			input.Department = nil
		} else {
			input.Department = &dept
		}
	}
	if input.ExpiresAt != nil {
		expires := input.ExpiresAt.UTC()
		input.ExpiresAt = &expires
	}
	return input
}
