package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/classroom-attendance/internal/persistence"
)

func newIdentityService(h *harness, policies Policies) *IdentityService {
	return NewIdentityService(h.store, h.audit, h.nextID, h.clock.Now, policies).UseMetrics(h.metrics)
}

func addEntry(t *testing.T, svc *IdentityService, email string, role Role, active bool) WhitelistEntry {
	t.Helper()
	entry, err := svc.AddWhitelistEntry(context.Background(), WhitelistParams{
		Principal: adminPrincipal,
		Input:     WhitelistInput{Email: email, Role: role, Name: "Alex Doe", IsActive: active},
	})
	if err != nil {
		t.Fatalf("AddWhitelistEntry returned error: %v", err)
	}
	return entry
}

func TestIdentityService_OnExternalSignIn(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a teacher from the whitelist", func(t *testing.T) {
		h := newHarness(t)
		svc := newIdentityService(h, DefaultPolicies())
		addEntry(t, svc, "A@X.edu", RoleTeacher, true)

		result, err := svc.OnExternalSignIn(ctx, SignInParams{ExternalID: "ext-1", Email: "a@x.edu"})
		if err != nil {
			t.Fatalf("OnExternalSignIn returned error: %v", err)
		}
		if !result.Created || result.User.Role != RoleTeacher || result.User.Email != "a@x.edu" {
			t.Fatalf("unexpected result: %+v", result)
		}
		if result.Teacher == nil || result.Teacher.UserID != result.User.ID {
			t.Fatalf("expected provisioned teacher profile, got %+v", result.Teacher)
		}

		entry, err := svc.GetWhitelistEntry(ctx, adminPrincipal, "a@x.edu")
		if err != nil {
			t.Fatalf("GetWhitelistEntry returned error: %v", err)
		}
		if !entry.Account.Created || entry.Account.CreatedAt == nil || !entry.Account.CreatedAt.Equal(baseTime) {
			t.Fatalf("expected account link at %v, got %+v", baseTime, entry.Account)
		}

		logs := h.logsOfKind(t, SignInMeta{}.MetaKind())
		if len(logs) != 1 || logs[0].(SignInMeta).Outcome != "created" {
			t.Fatalf("expected one created sign-in log, got %+v", logs)
		}
		if got := h.metrics.get(h.metrics.signIns, "created"); got != 1 {
			t.Fatalf("expected created sign-in metric, got %d", got)
		}
	})

	t.Run("returns the existing user on repeat sign-in", func(t *testing.T) {
		h := newHarness(t)
		svc := newIdentityService(h, DefaultPolicies())
		addEntry(t, svc, "s@x.edu", RoleStudent, true)

		first, err := svc.OnExternalSignIn(ctx, SignInParams{ExternalID: "ext-2", Email: "s@x.edu"})
		if err != nil {
			t.Fatalf("first sign-in returned error: %v", err)
		}
		second, err := svc.OnExternalSignIn(ctx, SignInParams{ExternalID: "ext-2", Email: "s@x.edu"})
		if err != nil {
			t.Fatalf("second sign-in returned error: %v", err)
		}
		if second.Created || second.User.ID != first.User.ID {
			t.Fatalf("expected the same user, got %+v and %+v", first.User, second.User)
		}
		if second.Student == nil || second.Student.ID != first.Student.ID {
			t.Fatalf("expected existing student profile to be loaded")
		}
	})

	t.Run("inactive entries never create users", func(t *testing.T) {
		h := newHarness(t)
		svc := newIdentityService(h, DefaultPolicies())
		addEntry(t, svc, "off@x.edu", RoleStudent, false)

		for i := 0; i < 3; i++ {
			_, err := svc.OnExternalSignIn(ctx, SignInParams{ExternalID: "ext-3", Email: "off@x.edu"})
			if !errors.Is(err, ErrNotWhitelisted) {
				t.Fatalf("attempt %d: expected ErrNotWhitelisted, got %v", i, err)
			}
		}
		err := h.store.View(ctx, func(q persistence.Queries) error {
			_, err := q.GetUserByEmail(ctx, "off@x.edu")
			return err
		})
		if !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected no user, got %v", err)
		}
		logs := h.logsOfKind(t, SignInMeta{}.MetaKind())
		if len(logs) != 3 || logs[0].(SignInMeta).Outcome != "not_whitelisted" {
			t.Fatalf("expected three rejection logs, got %+v", logs)
		}
	})

	t.Run("unknown and expired emails are rejected", func(t *testing.T) {
		h := newHarness(t)
		svc := newIdentityService(h, DefaultPolicies())
		expires := baseTime.Add(-time.Hour)
		if _, err := svc.AddWhitelistEntry(ctx, WhitelistParams{
			Principal: adminPrincipal,
			Input:     WhitelistInput{Email: "old@x.edu", Role: RoleStudent, Name: "Old", IsActive: true, ExpiresAt: &expires},
		}); err != nil {
			t.Fatalf("AddWhitelistEntry returned error: %v", err)
		}

		for _, email := range []string{"nobody@x.edu", "old@x.edu"} {
			_, err := svc.OnExternalSignIn(ctx, SignInParams{ExternalID: "ext-" + email, Email: email})
			if !errors.Is(err, ErrNotWhitelisted) {
				t.Fatalf("%s: expected ErrNotWhitelisted, got %v", email, err)
			}
		}
	})

	t.Run("email bound to another identity", func(t *testing.T) {
		h := newHarness(t)
		svc := newIdentityService(h, DefaultPolicies())
		addEntry(t, svc, "dup@x.edu", RoleStudent, true)

		if _, err := svc.OnExternalSignIn(ctx, SignInParams{ExternalID: "ext-a", Email: "dup@x.edu"}); err != nil {
			t.Fatalf("first sign-in returned error: %v", err)
		}
		_, err := svc.OnExternalSignIn(ctx, SignInParams{ExternalID: "ext-b", Email: "dup@x.edu"})
		if !errors.Is(err, ErrIdentityMismatch) {
			t.Fatalf("expected ErrIdentityMismatch, got %v", err)
		}
	})

	t.Run("validates input", func(t *testing.T) {
		h := newHarness(t)
		svc := newIdentityService(h, DefaultPolicies())
		_, err := svc.OnExternalSignIn(ctx, SignInParams{ExternalID: " ", Email: "not-an-email"})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		for _, field := range []string{"external_id", "email"} {
			if _, ok := vErr.FieldErrors[field]; !ok {
				t.Fatalf("expected %s field error, got %v", field, vErr.FieldErrors)
			}
		}
	})

	t.Run("profiles are optional", func(t *testing.T) {
		h := newHarness(t)
		policies := DefaultPolicies()
		policies.AutoProvisionProfiles = false
		svc := newIdentityService(h, policies)
		addEntry(t, svc, "bare@x.edu", RoleStudent, true)

		result, err := svc.OnExternalSignIn(ctx, SignInParams{ExternalID: "ext-bare", Email: "bare@x.edu"})
		if err != nil {
			t.Fatalf("OnExternalSignIn returned error: %v", err)
		}
		if result.Student != nil || result.Teacher != nil {
			t.Fatalf("expected no profiles, got %+v", result)
		}
	})

	t.Run("concurrent sign-ins create one user", func(t *testing.T) {
		h := newHarness(t)
		svc := newIdentityService(h, DefaultPolicies())
		addEntry(t, svc, "race@x.edu", RoleStudent, true)

		const callers = 8
		ids := make(chan string, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := svc.OnExternalSignIn(ctx, SignInParams{ExternalID: "ext-race", Email: "race@x.edu"})
				if err != nil {
					t.Errorf("sign-in: %v", err)
					return
				}
				ids <- result.User.ID
			}()
		}
		wg.Wait()
		close(ids)

		seen := map[string]struct{}{}
		for id := range ids {
			seen[id] = struct{}{}
		}
		if len(seen) != 1 {
			t.Fatalf("expected one user ID across callers, got %v", seen)
		}
		if got := h.metrics.get(h.metrics.signIns, "created"); got != 1 {
			t.Fatalf("expected one created sign-in, got %d", got)
		}
	})
}

type racingStore struct {
	persistence.Store
	failures int
	calls    int
}

func (r *racingStore) WithTx(ctx context.Context, fn func(q persistence.Queries) error) error {
	r.calls++
	if r.calls <= r.failures {
		return persistence.ErrDuplicate
	}
	return r.Store.WithTx(ctx, fn)
}

func TestIdentityService_SignInRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("retries a unique conflict", func(t *testing.T) {
		h := newHarness(t)
		addEntry(t, newIdentityService(h, DefaultPolicies()), "retry@x.edu", RoleStudent, true)

		store := &racingStore{Store: h.store, failures: 2}
		svc := NewIdentityService(store, h.audit, h.nextID, h.clock.Now, DefaultPolicies())
		svc.backoff = time.Millisecond

		result, err := svc.OnExternalSignIn(ctx, SignInParams{ExternalID: "ext-r", Email: "retry@x.edu"})
		if err != nil {
			t.Fatalf("expected retry to succeed, got %v", err)
		}
		if !result.Created || store.calls != 3 {
			t.Fatalf("expected creation on the third attempt, got created=%v calls=%d", result.Created, store.calls)
		}
	})

	t.Run("gives up after the attempt budget", func(t *testing.T) {
		h := newHarness(t)
		store := &racingStore{Store: h.store, failures: 10}
		policies := DefaultPolicies()
		policies.SignInMaxAttempts = 2
		svc := NewIdentityService(store, h.audit, h.nextID, h.clock.Now, policies)
		svc.backoff = time.Millisecond

		_, err := svc.OnExternalSignIn(ctx, SignInParams{ExternalID: "ext-r", Email: "retry@x.edu"})
		if !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists after exhausting retries, got %v", err)
		}
		if store.calls != 2 {
			t.Fatalf("expected two attempts, got %d", store.calls)
		}
	})
}

func TestIdentityService_Whitelist(t *testing.T) {
	ctx := context.Background()

	t.Run("requires administrator privileges", func(t *testing.T) {
		h := newHarness(t)
		svc := newIdentityService(h, DefaultPolicies())
		_, err := svc.AddWhitelistEntry(ctx, WhitelistParams{
			Principal: Principal{UserID: "u-1"},
			Input:     WhitelistInput{Email: "a@x.edu", Role: RoleStudent, Name: "A"},
		})
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("rejects duplicates regardless of case", func(t *testing.T) {
		h := newHarness(t)
		svc := newIdentityService(h, DefaultPolicies())
		addEntry(t, svc, "case@x.edu", RoleStudent, true)
		_, err := svc.AddWhitelistEntry(ctx, WhitelistParams{
			Principal: adminPrincipal,
			Input:     WhitelistInput{Email: " CASE@x.edu ", Role: RoleStudent, Name: "A"},
		})
		if !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("validates the role", func(t *testing.T) {
		h := newHarness(t)
		svc := newIdentityService(h, DefaultPolicies())
		_, err := svc.AddWhitelistEntry(ctx, WhitelistParams{
			Principal: adminPrincipal,
			Input:     WhitelistInput{Email: "r@x.edu", Role: "JANITOR", Name: "R"},
		})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if _, ok := vErr.FieldErrors["role"]; !ok {
			t.Fatalf("expected role field error, got %v", vErr.FieldErrors)
		}
	})

	t.Run("update keeps invitation state", func(t *testing.T) {
		h := newHarness(t)
		svc := newIdentityService(h, DefaultPolicies())
		addEntry(t, svc, "inv@x.edu", RoleStudent, true)
		if err := svc.MarkInvitationSent(ctx, adminPrincipal, "inv@x.edu", "inv_123"); err != nil {
			t.Fatalf("MarkInvitationSent returned error: %v", err)
		}

		updated, err := svc.UpdateWhitelistEntry(ctx, WhitelistParams{
			Principal: adminPrincipal,
			Input:     WhitelistInput{Email: "inv@x.edu", Role: RoleTeacher, Name: "Renamed", IsActive: true},
		})
		if err != nil {
			t.Fatalf("UpdateWhitelistEntry returned error: %v", err)
		}
		if updated.Role != RoleTeacher || updated.Name != "Renamed" {
			t.Fatalf("unexpected update: %+v", updated)
		}
		if !updated.Invitation.Sent || updated.Invitation.ProviderInvitationID == nil || *updated.Invitation.ProviderInvitationID != "inv_123" {
			t.Fatalf("expected invitation state to survive, got %+v", updated.Invitation)
		}
	})

	t.Run("deactivation blocks sign-in", func(t *testing.T) {
		h := newHarness(t)
		svc := newIdentityService(h, DefaultPolicies())
		addEntry(t, svc, "gone@x.edu", RoleStudent, true)
		if err := svc.DeactivateWhitelistEntry(ctx, adminPrincipal, "gone@x.edu"); err != nil {
			t.Fatalf("DeactivateWhitelistEntry returned error: %v", err)
		}
		if _, err := svc.OnExternalSignIn(ctx, SignInParams{ExternalID: "ext-g", Email: "gone@x.edu"}); !errors.Is(err, ErrNotWhitelisted) {
			t.Fatalf("expected ErrNotWhitelisted, got %v", err)
		}
	})

	t.Run("linked entries are retained", func(t *testing.T) {
		h := newHarness(t)
		svc := newIdentityService(h, DefaultPolicies())
		addEntry(t, svc, "keep@x.edu", RoleStudent, true)
		addEntry(t, svc, "drop@x.edu", RoleStudent, true)
		if _, err := svc.OnExternalSignIn(ctx, SignInParams{ExternalID: "ext-k", Email: "keep@x.edu"}); err != nil {
			t.Fatalf("OnExternalSignIn returned error: %v", err)
		}

		if err := svc.DeleteWhitelistEntry(ctx, adminPrincipal, "keep@x.edu"); !errors.Is(err, ErrAccountLinked) {
			t.Fatalf("expected ErrAccountLinked, got %v", err)
		}
		if err := svc.DeleteWhitelistEntry(ctx, adminPrincipal, "drop@x.edu"); err != nil {
			t.Fatalf("DeleteWhitelistEntry returned error: %v", err)
		}
		if err := svc.DeleteWhitelistEntry(ctx, adminPrincipal, "drop@x.edu"); !errors.Is(err, ErrWhitelistEntryNotFound) {
			t.Fatalf("expected ErrWhitelistEntryNotFound, got %v", err)
		}

		entries, err := svc.ListWhitelistEntries(ctx, adminPrincipal)
		if err != nil {
			t.Fatalf("ListWhitelistEntries returned error: %v", err)
		}
		if len(entries) != 1 || entries[0].Email != "keep@x.edu" {
			t.Fatalf("unexpected entries: %+v", entries)
		}
	})
}
