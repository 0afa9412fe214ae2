package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/core/port"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/security"
	"github.com/gerizimschools-star/netsafi-iam/internal/repository"
)

var (
	// ErrTwoFactorUnavailable indicates the service is not properly configured.
	ErrTwoFactorUnavailable = errors.New("two factor service unavailable")
	// ErrTwoFactorNotConfigured indicates the principal has no pending or active secret.
	ErrTwoFactorNotConfigured = errors.New("two factor not configured")
	// ErrTwoFactorAlreadyEnabled indicates setup was requested while 2FA is active.
	ErrTwoFactorAlreadyEnabled = errors.New("two factor already enabled")
	// ErrTwoFactorTokenInvalid indicates the supplied token matched neither TOTP nor a backup code.
	ErrTwoFactorTokenInvalid = errors.New("two factor token invalid")
)

// TwoFactorService manages TOTP enrolment and verification with backup-code
// fallback.
type TwoFactorService struct {
	principals port.PrincipalDirectory
	audit      *AuditService
	logger     *zap.Logger
	issuer     string
	now        func() time.Time
}

// NewTwoFactorService constructs a TwoFactorService. The issuer names the
// service inside authenticator apps.
func NewTwoFactorService(principals port.PrincipalDirectory, audit *AuditService, issuer string, logger *zap.Logger) *TwoFactorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TwoFactorService{
		principals: principals,
		audit:      audit,
		logger:     logger,
		issuer:     issuer,
		now:        time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *TwoFactorService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// ShouldEnforce reports whether the kind must complete 2FA setup before it
// can finish a login. Only privileged kinds are forced to enrol.
func (s *TwoFactorService) ShouldEnforce(kind domain.PrincipalKind, enabled, mandatory bool) bool {
	if kind != domain.PrincipalKindAdmin && kind != domain.PrincipalKindReseller {
		return false
	}
	return mandatory && !enabled
}

// Setup generates a fresh secret and backup codes for the principal and
// stores them pending confirmation. The plaintext codes are returned exactly
// once; only their hashes persist.
func (s *TwoFactorService) Setup(ctx context.Context, principalID string, kind domain.PrincipalKind) (*security.TwoFactorSecret, error) {
	if s.principals == nil {
		return nil, ErrTwoFactorUnavailable
	}

	repo, err := s.principals.ForKind(kind)
	if err != nil {
		return nil, err
	}

	principal, err := repo.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("lookup principal: %w", err)
	}

	if principal.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	secret, err := security.GenerateTwoFactorSecret(s.issuer, principal.LoginID)
	if err != nil {
		return nil, err
	}

	hashes := make([]string, 0, len(secret.BackupCodes))
	for _, code := range secret.BackupCodes {
		hashes = append(hashes, security.HashToken(security.NormalizeBackupCode(code)))
	}

	if err := repo.UpdateTwoFactor(ctx, principal.ID, &secret.Secret, false, hashes); err != nil {
		return nil, fmt.Errorf("store pending secret: %w", err)
	}

	if s.audit != nil {
		s.audit.RecordEvent(ctx, domain.AuditEvent{
			PrincipalID: stringPtrOrNil(principal.ID),
			Kind:        kind,
			Action:      domain.AuditActionTwoFactorSetup,
			Resource:    "two_factor",
			Success:     true,
		})
	}

	return secret, nil
}

// Enable confirms a pending setup by verifying the first token from the
// authenticator app, then marks 2FA active.
func (s *TwoFactorService) Enable(ctx context.Context, principalID string, kind domain.PrincipalKind, token string) error {
	if s.principals == nil {
		return ErrTwoFactorUnavailable
	}

	repo, err := s.principals.ForKind(kind)
	if err != nil {
		return err
	}

	principal, err := repo.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPrincipalNotFound
		}
		return fmt.Errorf("lookup principal: %w", err)
	}

	if principal.TwoFactorEnabled {
		return ErrTwoFactorAlreadyEnabled
	}
	if principal.TwoFactorSecret == nil || *principal.TwoFactorSecret == "" {
		return ErrTwoFactorNotConfigured
	}

	// Confirmation must come from the authenticator itself, so backup codes
	// are not accepted here.
	result, err := security.VerifySecondFactor(*principal.TwoFactorSecret, token, nil, s.now().UTC())
	if err != nil {
		return err
	}
	if !result.Valid {
		return ErrTwoFactorTokenInvalid
	}

	if err := repo.UpdateTwoFactor(ctx, principal.ID, principal.TwoFactorSecret, true, principal.BackupCodeHashes); err != nil {
		return fmt.Errorf("enable two factor: %w", err)
	}

	if s.audit != nil {
		s.audit.RecordEvent(ctx, domain.AuditEvent{
			PrincipalID: stringPtrOrNil(principal.ID),
			Kind:        kind,
			Action:      domain.AuditActionTwoFactorEnabled,
			Resource:    "two_factor",
			Success:     true,
		})
	}

	return nil
}

// Disable clears the secret and backup codes.
func (s *TwoFactorService) Disable(ctx context.Context, principalID string, kind domain.PrincipalKind) error {
	if s.principals == nil {
		return ErrTwoFactorUnavailable
	}

	repo, err := s.principals.ForKind(kind)
	if err != nil {
		return err
	}

	principal, err := repo.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPrincipalNotFound
		}
		return fmt.Errorf("lookup principal: %w", err)
	}

	if err := repo.UpdateTwoFactor(ctx, principal.ID, nil, false, nil); err != nil {
		return fmt.Errorf("disable two factor: %w", err)
	}

	if s.audit != nil {
		s.audit.RecordEvent(ctx, domain.AuditEvent{
			PrincipalID: stringPtrOrNil(principal.ID),
			Kind:        kind,
			Action:      domain.AuditActionTwoFactorDisabled,
			Resource:    "two_factor",
			Success:     true,
		})
	}

	return nil
}

// VerifyToken checks a login-time token against the principal's TOTP secret,
// falling back to backup codes. A consumed backup code is removed from the
// stored set before the call returns.
func (s *TwoFactorService) VerifyToken(ctx context.Context, principal domain.Principal, token string) (security.SecondFactorResult, error) {
	if s.principals == nil {
		return security.SecondFactorResult{}, ErrTwoFactorUnavailable
	}

	secret := ""
	if principal.TwoFactorSecret != nil {
		secret = *principal.TwoFactorSecret
	}
	if secret == "" && len(principal.BackupCodeHashes) == 0 {
		return security.SecondFactorResult{}, ErrTwoFactorNotConfigured
	}

	result, err := security.VerifySecondFactor(secret, token, principal.BackupCodeHashes, s.now().UTC())
	if err != nil {
		return security.SecondFactorResult{}, err
	}

	if result.Valid && result.UsedBackupCode {
		remaining := make([]string, 0, len(principal.BackupCodeHashes))
		for _, hash := range principal.BackupCodeHashes {
			if hash != result.BackupCodeHash {
				remaining = append(remaining, hash)
			}
		}

		repo, err := s.principals.ForKind(principal.Kind)
		if err != nil {
			return security.SecondFactorResult{}, err
		}
		if err := repo.UpdateBackupCodes(ctx, principal.ID, remaining); err != nil {
			return security.SecondFactorResult{}, fmt.Errorf("consume backup code: %w", err)
		}
	}

	return result, nil
}
