package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/core/port"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/security"
)

type resetFixture struct {
	service   *PasswordResetService
	directory *testDirectory
	tokens    *testResetTokenRepo
	settings  *testSettingsRepo
	email     *testEmailSender
	audit     *testAuditRepo
	events    *testEventPublisher
	clock     *movableClock
}

func newResetFixture(t *testing.T, principal *domain.Principal, overrides ...port.ConfigEntry) *resetFixture {
	t.Helper()

	clock := newMovableClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	directory := newTestDirectory(newTestPrincipalRepo(principal.Kind, principal))
	tokens := newTestResetTokenRepo()
	settings := newTestSettingsRepo()
	email := newTestEmailSender()
	auditRepo := newTestAuditRepo()
	events := &testEventPublisher{}

	auditSvc := NewAuditService(auditRepo, nil)
	auditSvc.WithClock(clock.Now)

	policy := NewSecurityConfigService(newTestConfigStore(overrides...), auditSvc, events, nil)
	policy.WithClock(clock.Now)

	lockout := NewLockoutService(settings, policy, auditSvc, events, nil)
	lockout.WithClock(clock.Now)

	service := NewPasswordResetService(newTestAppConfig(), directory, tokens, settings, policy, lockout, email, newTestRateLimitStore(), auditSvc, events, nil)
	service.WithClock(clock.Now)

	return &resetFixture{
		service:   service,
		directory: directory,
		tokens:    tokens,
		settings:  settings,
		email:     email,
		audit:     auditRepo,
		events:    events,
		clock:     clock,
	}
}

func TestForgotAndRedeem(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "OldPassw0rd!")
	fx := newResetFixture(t, principal)

	if err := fx.service.Forgot(context.Background(), ForgotPasswordInput{
		LoginID: "alice",
		Kind:    domain.PrincipalKindCustomer,
		IP:      "203.0.113.10",
	}); err != nil {
		t.Fatalf("Forgot returned error: %v", err)
	}

	to, raw := fx.email.last()
	if to != *principal.Email {
		t.Fatalf("expected delivery to %s, got %s", *principal.Email, to)
	}
	if raw == "" {
		t.Fatal("expected a token to be delivered")
	}
	if fx.tokens.count() != 1 {
		t.Fatalf("expected one stored token, got %d", fx.tokens.count())
	}

	if err := fx.service.Redeem(context.Background(), RedeemInput{
		Token:       raw,
		NewPassword: "NewPassw0rd!2025",
	}); err != nil {
		t.Fatalf("Redeem returned error: %v", err)
	}

	stored, err := fx.directory.repos[domain.PrincipalKindCustomer].GetByID(context.Background(), principal.ID)
	if err != nil {
		t.Fatalf("lookup principal: %v", err)
	}
	match, err := security.VerifyPassword("NewPassw0rd!2025", stored.PasswordHash)
	if err != nil {
		t.Fatalf("verify new password: %v", err)
	}
	if !match {
		t.Fatal("expected credential updated to the new password")
	}
	if fx.events.passwordChange != 1 {
		t.Fatalf("expected one password changed event, got %d", fx.events.passwordChange)
	}

	// Tokens are single use.
	err = fx.service.Redeem(context.Background(), RedeemInput{
		Token:       raw,
		NewPassword: "AnotherPassw0rd!",
	})
	if !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid on reuse, got %v", err)
	}
}

func TestForgotUnknownLoginIsSilent(t *testing.T) {
	fx := newResetFixture(t, newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "OldPassw0rd!"))

	if err := fx.service.Forgot(context.Background(), ForgotPasswordInput{
		LoginID: "nobody",
		Kind:    domain.PrincipalKindCustomer,
	}); err != nil {
		t.Fatalf("expected silent success for unknown login, got %v", err)
	}
	if fx.tokens.count() != 0 {
		t.Fatalf("no token may be stored for an unknown login, got %d", fx.tokens.count())
	}
	if fx.email.sent != 0 {
		t.Fatal("no email may be sent for an unknown login")
	}
}

func TestRedeemExpiredToken(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "OldPassw0rd!")
	fx := newResetFixture(t, principal,
		port.ConfigEntry{Key: "password_reset_expiration_minutes", Value: "60", Type: "int"},
	)

	if err := fx.service.Forgot(context.Background(), ForgotPasswordInput{
		LoginID: "alice",
		Kind:    domain.PrincipalKindCustomer,
	}); err != nil {
		t.Fatalf("Forgot returned error: %v", err)
	}
	_, raw := fx.email.last()

	fx.clock.Advance(61 * time.Minute)

	err := fx.service.Redeem(context.Background(), RedeemInput{
		Token:       raw,
		NewPassword: "NewPassw0rd!2025",
	})
	if !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid for expired token, got %v", err)
	}
}

func TestRedeemRejectsWeakPassword(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "OldPassw0rd!")
	fx := newResetFixture(t, principal)

	if err := fx.service.Forgot(context.Background(), ForgotPasswordInput{
		LoginID: "alice",
		Kind:    domain.PrincipalKindCustomer,
	}); err != nil {
		t.Fatalf("Forgot returned error: %v", err)
	}
	_, raw := fx.email.last()

	err := fx.service.Redeem(context.Background(), RedeemInput{
		Token:       raw,
		NewPassword: "short",
	})
	var vErr *security.PasswordValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected PasswordValidationError, got %v", err)
	}
	if vErr.Code != "min_length" {
		t.Fatalf("expected min_length violation, got %s", vErr.Code)
	}

	// The rejected attempt must not consume the token.
	if err := fx.service.Redeem(context.Background(), RedeemInput{
		Token:       raw,
		NewPassword: "NewPassw0rd!2025",
	}); err != nil {
		t.Fatalf("expected token still redeemable, got %v", err)
	}
}

func TestRedeemEnforcesStrengthFloor(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "OldPassw0rd!")
	fx := newResetFixture(t, principal,
		port.ConfigEntry{Key: "password_min_strength_score", Value: "3", Type: "int"},
	)

	if err := fx.service.Forgot(context.Background(), ForgotPasswordInput{
		LoginID: "alice",
		Kind:    domain.PrincipalKindCustomer,
	}); err != nil {
		t.Fatalf("Forgot returned error: %v", err)
	}
	_, raw := fx.email.last()

	// Satisfies every composition rule but is trivially guessable.
	err := fx.service.Redeem(context.Background(), RedeemInput{
		Token:       raw,
		NewPassword: "Password123",
	})
	var vErr *security.PasswordValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected PasswordValidationError, got %v", err)
	}
	if vErr.Code != "weak_password" {
		t.Fatalf("expected weak_password violation, got %s", vErr.Code)
	}

	if err := fx.service.Redeem(context.Background(), RedeemInput{
		Token:       raw,
		NewPassword: "C0mplex!Passphrase#2025",
	}); err != nil {
		t.Fatalf("expected strong password to redeem, got %v", err)
	}
}

func TestRedeemClearsLockout(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "OldPassw0rd!")
	fx := newResetFixture(t, principal)

	until := fx.clock.Now().Add(30 * time.Minute)
	if err := fx.settings.SetLock(context.Background(), principal.ID, principal.Kind, until); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	if err := fx.service.Forgot(context.Background(), ForgotPasswordInput{
		LoginID: "alice",
		Kind:    domain.PrincipalKindCustomer,
	}); err != nil {
		t.Fatalf("Forgot returned error: %v", err)
	}
	_, raw := fx.email.last()

	if err := fx.service.Redeem(context.Background(), RedeemInput{
		Token:       raw,
		NewPassword: "NewPassw0rd!2025",
	}); err != nil {
		t.Fatalf("Redeem returned error: %v", err)
	}

	settings, err := fx.settings.Get(context.Background(), principal.ID, principal.Kind)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if settings.LockedUntil != nil {
		t.Fatal("expected lock cleared after password reset")
	}
}

func TestForgotDisabledGlobally(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "OldPassw0rd!")
	fx := newResetFixture(t, principal,
		port.ConfigEntry{Key: "forgot_password_enabled", Value: "false", Type: "bool"},
	)

	err := fx.service.Forgot(context.Background(), ForgotPasswordInput{
		LoginID: "alice",
		Kind:    domain.PrincipalKindCustomer,
	})
	if !errors.Is(err, ErrForgotPasswordDisabled) {
		t.Fatalf("expected ErrForgotPasswordDisabled, got %v", err)
	}
}

func TestToggleForgotPasswordPerPrincipal(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "OldPassw0rd!")
	fx := newResetFixture(t, principal)

	if err := fx.service.ToggleForgotPassword(context.Background(), "admin-1", principal.ID, principal.Kind, false); err != nil {
		t.Fatalf("ToggleForgotPassword returned error: %v", err)
	}
	if !fx.audit.hasEventAction(domain.AuditActionForgotPasswordFlag) {
		t.Fatal("expected forgot password flag audit event")
	}

	// The flagged principal gets the same silent success the unknown login
	// gets, but no token is stored and nothing is delivered.
	if err := fx.service.Forgot(context.Background(), ForgotPasswordInput{
		LoginID: "alice",
		Kind:    domain.PrincipalKindCustomer,
	}); err != nil {
		t.Fatalf("expected silent success for flagged principal, got %v", err)
	}
	if fx.tokens.count() != 0 {
		t.Fatalf("expected no stored token for flagged principal, got %d", fx.tokens.count())
	}
	if fx.email.sent != 0 {
		t.Fatalf("expected no delivery for flagged principal, got %d", fx.email.sent)
	}

	if err := fx.service.ToggleForgotPassword(context.Background(), "admin-1", principal.ID, principal.Kind, true); err != nil {
		t.Fatalf("ToggleForgotPassword returned error: %v", err)
	}
	if err := fx.service.Forgot(context.Background(), ForgotPasswordInput{
		LoginID: "alice",
		Kind:    domain.PrincipalKindCustomer,
	}); err != nil {
		t.Fatalf("expected forgot to work after re-enabling, got %v", err)
	}
	if fx.tokens.count() != 1 {
		t.Fatalf("expected one stored token after re-enabling, got %d", fx.tokens.count())
	}
}

func TestAdminResetGeneratesPolicyPassword(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "OldPassw0rd!")
	fx := newResetFixture(t, principal)

	result, err := fx.service.AdminReset(context.Background(), AdminResetInput{
		AdminID:     "admin-1",
		PrincipalID: principal.ID,
		Kind:        domain.PrincipalKindCustomer,
		Generate:    true,
	})
	if err != nil {
		t.Fatalf("AdminReset returned error: %v", err)
	}
	if !result.Generated || result.TemporaryPassword == "" {
		t.Fatal("expected a generated temporary password")
	}
	if err := fx.service.ValidatePassword(context.Background(), result.TemporaryPassword); err != nil {
		t.Fatalf("generated password violates the active policy: %v", err)
	}

	stored, err := fx.directory.repos[domain.PrincipalKindCustomer].GetByID(context.Background(), principal.ID)
	if err != nil {
		t.Fatalf("lookup principal: %v", err)
	}
	match, err := security.VerifyPassword(result.TemporaryPassword, stored.PasswordHash)
	if err != nil {
		t.Fatalf("verify temporary password: %v", err)
	}
	if !match {
		t.Fatal("expected credential updated to the temporary password")
	}
	if !fx.audit.hasEventAction(domain.AuditActionAdminPasswordReset) {
		t.Fatal("expected admin reset audit event")
	}
}

func TestAdminResetInvalidatesOutstandingTokens(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "OldPassw0rd!")
	fx := newResetFixture(t, principal)

	if err := fx.service.Forgot(context.Background(), ForgotPasswordInput{
		LoginID: "alice",
		Kind:    domain.PrincipalKindCustomer,
	}); err != nil {
		t.Fatalf("Forgot returned error: %v", err)
	}
	_, raw := fx.email.last()

	if _, err := fx.service.AdminReset(context.Background(), AdminResetInput{
		AdminID:     "admin-1",
		PrincipalID: principal.ID,
		Kind:        domain.PrincipalKindCustomer,
		NewPassword: "AdminChosen1!pass",
	}); err != nil {
		t.Fatalf("AdminReset returned error: %v", err)
	}

	err := fx.service.Redeem(context.Background(), RedeemInput{
		Token:       raw,
		NewPassword: "NewPassw0rd!2025",
	})
	if !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected outstanding token invalidated, got %v", err)
	}
}

func TestForgotRateLimited(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "OldPassw0rd!")
	fx := newResetFixture(t, principal)

	for i := 0; i < 3; i++ {
		if err := fx.service.Forgot(context.Background(), ForgotPasswordInput{
			LoginID: "alice",
			Kind:    domain.PrincipalKindCustomer,
		}); err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
	}

	err := fx.service.Forgot(context.Background(), ForgotPasswordInput{
		LoginID: "alice",
		Kind:    domain.PrincipalKindCustomer,
	})
	var rateErr *RateLimitExceededError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitExceededError, got %v", err)
	}
}
