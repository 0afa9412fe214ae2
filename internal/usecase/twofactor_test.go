package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/security"
)

func newTwoFactorFixture(t *testing.T, principal *domain.Principal) (*TwoFactorService, *testDirectory, *testAuditRepo, *movableClock) {
	t.Helper()

	clock := newMovableClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	directory := newTestDirectory(newTestPrincipalRepo(principal.Kind, principal))
	auditRepo := newTestAuditRepo()

	auditSvc := NewAuditService(auditRepo, nil)
	auditSvc.WithClock(clock.Now)

	service := NewTwoFactorService(directory, auditSvc, "netsafi", nil)
	service.WithClock(clock.Now)

	return service, directory, auditRepo, clock
}

func TestTwoFactorSetupAndEnable(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindAdmin, "root", "Sup3rSecret!pass")
	service, directory, auditRepo, clock := newTwoFactorFixture(t, principal)

	secret, err := service.Setup(context.Background(), principal.ID, principal.Kind)
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	if len(secret.BackupCodes) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(secret.BackupCodes))
	}
	if !auditRepo.hasEventAction(domain.AuditActionTwoFactorSetup) {
		t.Fatal("expected setup audit event")
	}

	// Pending setup does not turn 2FA on yet.
	stored, err := directory.repos[domain.PrincipalKindAdmin].GetByID(context.Background(), principal.ID)
	if err != nil {
		t.Fatalf("lookup principal: %v", err)
	}
	if stored.TwoFactorEnabled {
		t.Fatal("setup alone must not enable 2FA")
	}
	if stored.TwoFactorSecret == nil || *stored.TwoFactorSecret != secret.Secret {
		t.Fatal("expected pending secret stored")
	}
	if len(stored.BackupCodeHashes) != 10 {
		t.Fatalf("expected 10 backup code hashes stored, got %d", len(stored.BackupCodeHashes))
	}
	for i, code := range secret.BackupCodes {
		if stored.BackupCodeHashes[i] == code {
			t.Fatal("backup codes must be stored hashed, not plaintext")
		}
	}

	// A wrong confirmation token is rejected.
	if err := service.Enable(context.Background(), principal.ID, principal.Kind, "000000"); !errors.Is(err, ErrTwoFactorTokenInvalid) {
		t.Fatalf("expected ErrTwoFactorTokenInvalid, got %v", err)
	}

	code, err := security.GenerateTOTPCode(secret.Secret, clock.Now())
	if err != nil {
		t.Fatalf("generate totp code: %v", err)
	}
	if err := service.Enable(context.Background(), principal.ID, principal.Kind, code); err != nil {
		t.Fatalf("Enable returned error: %v", err)
	}
	if !auditRepo.hasEventAction(domain.AuditActionTwoFactorEnabled) {
		t.Fatal("expected enable audit event")
	}

	stored, err = directory.repos[domain.PrincipalKindAdmin].GetByID(context.Background(), principal.ID)
	if err != nil {
		t.Fatalf("lookup principal: %v", err)
	}
	if !stored.TwoFactorEnabled {
		t.Fatal("expected 2FA enabled after confirmation")
	}
}

func TestTwoFactorSetupRejectedWhenEnabled(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindAdmin, "root", "Sup3rSecret!pass")
	secret := "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	principal.TwoFactorSecret = &secret
	principal.TwoFactorEnabled = true
	service, _, _, _ := newTwoFactorFixture(t, principal)

	if _, err := service.Setup(context.Background(), principal.ID, principal.Kind); !errors.Is(err, ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("expected ErrTwoFactorAlreadyEnabled, got %v", err)
	}
}

func TestTwoFactorEnableWithoutSetup(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindAdmin, "root", "Sup3rSecret!pass")
	service, _, _, _ := newTwoFactorFixture(t, principal)

	if err := service.Enable(context.Background(), principal.ID, principal.Kind, "123456"); !errors.Is(err, ErrTwoFactorNotConfigured) {
		t.Fatalf("expected ErrTwoFactorNotConfigured, got %v", err)
	}
}

func TestTwoFactorDisableClearsState(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindAdmin, "root", "Sup3rSecret!pass")
	secret := "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	principal.TwoFactorSecret = &secret
	principal.TwoFactorEnabled = true
	principal.BackupCodeHashes = []string{security.HashToken("A1B2-C3D4")}
	service, directory, auditRepo, _ := newTwoFactorFixture(t, principal)

	if err := service.Disable(context.Background(), principal.ID, principal.Kind); err != nil {
		t.Fatalf("Disable returned error: %v", err)
	}
	if !auditRepo.hasEventAction(domain.AuditActionTwoFactorDisabled) {
		t.Fatal("expected disable audit event")
	}

	stored, err := directory.repos[domain.PrincipalKindAdmin].GetByID(context.Background(), principal.ID)
	if err != nil {
		t.Fatalf("lookup principal: %v", err)
	}
	if stored.TwoFactorEnabled || stored.TwoFactorSecret != nil || len(stored.BackupCodeHashes) != 0 {
		t.Fatal("expected all 2FA state cleared")
	}
}

func TestTwoFactorShouldEnforce(t *testing.T) {
	service, _, _, _ := newTwoFactorFixture(t, newTestPrincipal(t, domain.PrincipalKindAdmin, "root", "Sup3rSecret!pass"))

	if !service.ShouldEnforce(domain.PrincipalKindAdmin, false, true) {
		t.Fatal("mandatory admin without 2FA must be forced to enrol")
	}
	if service.ShouldEnforce(domain.PrincipalKindAdmin, true, true) {
		t.Fatal("enrolled admin must not be blocked")
	}
	if service.ShouldEnforce(domain.PrincipalKindCustomer, false, true) {
		t.Fatal("customers are never forced to enrol")
	}
	if service.ShouldEnforce(domain.PrincipalKindReseller, false, false) {
		t.Fatal("non-mandatory reseller must not be forced")
	}
}
