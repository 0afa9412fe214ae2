package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/core/port"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/config"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/logger"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/security"
	"github.com/gerizimschools-star/netsafi-iam/internal/repository"
)

const (
	resetTokenBytes             = 32
	passwordResetRateLimitScope = "password_reset"

	resetSourceSelfService = "self_service"
	resetSourceAdmin       = "admin"
)

var (
	// ErrPasswordResetUnavailable indicates the service is not properly configured.
	ErrPasswordResetUnavailable = errors.New("password reset service unavailable")
	// ErrResetTokenInvalid indicates the supplied token is unknown, expired, or used.
	ErrResetTokenInvalid = errors.New("password reset token invalid or expired")
	// ErrForgotPasswordDisabled indicates self-service reset is switched off for the principal.
	ErrForgotPasswordDisabled = errors.New("forgot password is disabled")
)

// PasswordResetService coordinates self-service and admin password resets.
type PasswordResetService struct {
	cfg        *config.AppConfig
	principals port.PrincipalDirectory
	tokens     port.ResetTokenRepository
	settings   port.SecuritySettingsRepository
	policy     *SecurityConfigService
	lockout    *LockoutService
	email      port.EmailSender
	rateLimits port.RateLimitStore
	audit      *AuditService
	events     port.EventPublisher
	logger     *zap.Logger
	now        func() time.Time
}

// NewPasswordResetService constructs a PasswordResetService.
func NewPasswordResetService(
	cfg *config.AppConfig,
	principals port.PrincipalDirectory,
	tokens port.ResetTokenRepository,
	settings port.SecuritySettingsRepository,
	policy *SecurityConfigService,
	lockout *LockoutService,
	email port.EmailSender,
	rateLimits port.RateLimitStore,
	audit *AuditService,
	events port.EventPublisher,
	log *zap.Logger,
) *PasswordResetService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PasswordResetService{
		cfg:        cfg,
		principals: principals,
		tokens:     tokens,
		settings:   settings,
		policy:     policy,
		lockout:    lockout,
		email:      email,
		rateLimits: rateLimits,
		audit:      audit,
		events:     events,
		logger:     log,
		now:        time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *PasswordResetService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// ForgotPasswordInput identifies the account requesting a reset link.
type ForgotPasswordInput struct {
	LoginID   string
	Kind      domain.PrincipalKind
	IP        string
	UserAgent string
}

// Forgot initiates a self-service reset. The response is identical whether or
// not the login ID matches an account, so callers cannot probe for principals.
func (s *PasswordResetService) Forgot(ctx context.Context, input ForgotPasswordInput) error {
	if s.principals == nil || s.tokens == nil || s.policy == nil {
		return ErrPasswordResetUnavailable
	}

	cfg, err := s.policy.Get(ctx)
	if err != nil {
		return err
	}

	// The global switch is evaluated before any account lookup so the
	// response is the same for every login ID.
	if !cfg.ForgotPasswordEnabled {
		return ErrForgotPasswordDisabled
	}

	now := s.now().UTC()
	loginKey := string(input.Kind) + ":" + normalizeIdentifierKey(input.LoginID)
	if err := enforceSlidingWindow(
		ctx,
		s.rateLimits,
		s.logger,
		passwordResetRateLimitScope,
		loginKey,
		s.resetRateLimit(),
		s.resetRateWindow(),
		now,
	); err != nil {
		return err
	}

	repo, err := s.principals.ForKind(input.Kind)
	if err != nil {
		return err
	}

	principal, err := repo.GetByLoginID(ctx, strings.TrimSpace(input.LoginID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Same outcome as a delivered reset so the login ID cannot be probed.
			s.recordResetRecord(ctx, nil, input.Kind, "initiated", nil, nil, false, "principal not found", input.IP)
			return nil
		}
		return fmt.Errorf("lookup principal: %w", err)
	}

	if !principal.IsActive {
		s.recordResetRecord(ctx, &principal.ID, input.Kind, "initiated", nil, nil, false, "principal inactive", input.IP)
		return nil
	}

	if !s.forgotAllowed(ctx, principal) {
		// The per-principal flag only exists for real accounts, so a
		// distinguishable response here would confirm the account exists.
		s.recordResetRecord(ctx, &principal.ID, input.Kind, "initiated", nil, nil, false, "forgot password disabled", input.IP)
		return nil
	}

	if !principal.HasEmail() {
		s.recordResetRecord(ctx, &principal.ID, input.Kind, "initiated", nil, nil, false, "no contact method", input.IP)
		return nil
	}

	raw, err := security.GenerateSecureToken(resetTokenBytes)
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}

	token := domain.PasswordResetToken{
		ID:          uuid.NewString(),
		PrincipalID: principal.ID,
		Kind:        input.Kind,
		TokenHash:   security.HashToken(raw),
		IP:          stringPtrOrNil(input.IP),
		UserAgent:   stringPtrOrNil(input.UserAgent),
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(cfg.PasswordResetExpirationMinutes) * time.Minute),
	}

	if err := s.tokens.Create(ctx, token); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	delivery := "email"
	if s.email != nil {
		accepted, sendErr := s.email.SendEmail(ctx, *principal.Email, raw, "password_reset", token.ExpiresAt)
		if sendErr != nil || !accepted {
			s.logger.Warn("reset token delivery failed",
				zap.String("principal_id", principal.ID),
				zap.String("email", logger.MaskEmail(*principal.Email)),
				zap.Error(sendErr),
			)
			s.recordResetRecord(ctx, &principal.ID, input.Kind, "initiated", nil, &delivery, false, "delivery failed", input.IP)
			return nil
		}
	}

	s.recordResetRecord(ctx, &principal.ID, input.Kind, "initiated", nil, &delivery, true, "", input.IP)
	return nil
}

// RedeemInput carries a plaintext reset token and the replacement password.
type RedeemInput struct {
	Token       string
	NewPassword string
	IP          string
	UserAgent   string
}

// Redeem exchanges a valid token for a credential update. The token is
// consumed on success and prior lockout state is cleared.
func (s *PasswordResetService) Redeem(ctx context.Context, input RedeemInput) error {
	if s.principals == nil || s.tokens == nil || s.policy == nil {
		return ErrPasswordResetUnavailable
	}

	cfg, err := s.policy.Get(ctx)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	token, err := s.matchToken(ctx, input.Token, now)
	if err != nil {
		return err
	}

	validator := security.ValidatorFromPolicy(cfg)
	if err := validator.Validate(input.NewPassword); err != nil {
		return err
	}

	repo, err := s.principals.ForKind(token.Kind)
	if err != nil {
		return err
	}

	principal, err := repo.GetByID(ctx, token.PrincipalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrResetTokenInvalid
		}
		return fmt.Errorf("lookup principal: %w", err)
	}

	hash, err := security.HashPassword(input.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := repo.UpdateCredential(ctx, principal.ID, hash, now); err != nil {
		return fmt.Errorf("update credential: %w", err)
	}

	if err := s.tokens.MarkUsed(ctx, token.ID, now); err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}

	if s.lockout != nil {
		if err := s.lockout.Reset(ctx, principal.ID, token.Kind); err != nil {
			s.logger.Warn("reset lockout state failed",
				zap.String("principal_id", principal.ID),
				zap.Error(err),
			)
		}
	}

	s.recordResetRecord(ctx, &principal.ID, token.Kind, "completed", nil, nil, true, "", input.IP)
	s.publishPasswordChanged(ctx, principal.ID, token.Kind, principal.ID, resetSourceSelfService, now)
	return nil
}

// AdminResetInput describes an administrator-initiated reset.
type AdminResetInput struct {
	AdminID     string
	PrincipalID string
	Kind        domain.PrincipalKind
	NewPassword string
	Generate    bool
	IP          string
}

// AdminResetResult returns the temporary password when one was generated.
// The plaintext is surfaced exactly once and never stored.
type AdminResetResult struct {
	TemporaryPassword string
	Generated         bool
}

// AdminReset replaces a principal's credential on behalf of an administrator.
// Outstanding reset tokens are invalidated and the lockout state cleared.
func (s *PasswordResetService) AdminReset(ctx context.Context, input AdminResetInput) (*AdminResetResult, error) {
	if s.principals == nil || s.policy == nil {
		return nil, ErrPasswordResetUnavailable
	}

	cfg, err := s.policy.Get(ctx)
	if err != nil {
		return nil, err
	}

	repo, err := s.principals.ForKind(input.Kind)
	if err != nil {
		return nil, err
	}

	principal, err := repo.GetByID(ctx, input.PrincipalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("lookup principal: %w", err)
	}

	password := input.NewPassword
	result := &AdminResetResult{}
	if input.Generate {
		password, err = security.GeneratePolicyPassword(cfg)
		if err != nil {
			return nil, fmt.Errorf("generate temporary password: %w", err)
		}
		result.TemporaryPassword = password
		result.Generated = true
	} else {
		validator := security.ValidatorFromPolicy(cfg)
		if err := validator.Validate(password); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if err := repo.UpdateCredential(ctx, principal.ID, hash, now); err != nil {
		return nil, fmt.Errorf("update credential: %w", err)
	}

	if s.tokens != nil {
		if err := s.tokens.InvalidateForPrincipal(ctx, principal.ID, input.Kind); err != nil {
			s.logger.Warn("invalidate reset tokens failed",
				zap.String("principal_id", principal.ID),
				zap.Error(err),
			)
		}
	}

	if s.lockout != nil {
		if err := s.lockout.Reset(ctx, principal.ID, input.Kind); err != nil {
			s.logger.Warn("reset lockout state failed",
				zap.String("principal_id", principal.ID),
				zap.Error(err),
			)
		}
	}

	if s.audit != nil {
		s.audit.RecordEvent(ctx, domain.AuditEvent{
			PrincipalID: stringPtrOrNil(input.AdminID),
			Kind:        domain.PrincipalKindAdmin,
			Action:      domain.AuditActionAdminPasswordReset,
			Resource:    "principal",
			Details: map[string]any{
				"target_id":   principal.ID,
				"target_kind": string(input.Kind),
				"generated":   input.Generate,
			},
			IP:      stringPtrOrNil(input.IP),
			Success: true,
		})
	}
	s.recordResetRecord(ctx, &principal.ID, input.Kind, "admin_reset", &input.AdminID, nil, true, "", input.IP)
	s.publishPasswordChanged(ctx, principal.ID, input.Kind, input.AdminID, resetSourceAdmin, now)
	return result, nil
}

// ToggleForgotPassword flips the per-principal self-service reset flag.
func (s *PasswordResetService) ToggleForgotPassword(ctx context.Context, adminID, principalID string, kind domain.PrincipalKind, enabled bool) error {
	if s.settings == nil {
		return ErrPasswordResetUnavailable
	}

	if err := s.settings.SetForgotPasswordEnabled(ctx, principalID, kind, enabled); err != nil {
		return fmt.Errorf("set forgot password flag: %w", err)
	}

	if s.audit != nil {
		s.audit.RecordEvent(ctx, domain.AuditEvent{
			PrincipalID: stringPtrOrNil(adminID),
			Kind:        domain.PrincipalKindAdmin,
			Action:      domain.AuditActionForgotPasswordFlag,
			Resource:    "principal",
			Details: map[string]any{
				"target_id":   principalID,
				"target_kind": string(kind),
				"enabled":     enabled,
			},
			Success: true,
		})
	}
	return nil
}

// ValidatePassword checks a candidate password against the current policy
// without touching any account.
func (s *PasswordResetService) ValidatePassword(ctx context.Context, password string) error {
	if s.policy == nil {
		return ErrPasswordResetUnavailable
	}

	cfg, err := s.policy.Get(ctx)
	if err != nil {
		return err
	}

	return security.ValidatorFromPolicy(cfg).Validate(password)
}

func (s *PasswordResetService) matchToken(ctx context.Context, raw string, now time.Time) (*domain.PasswordResetToken, error) {
	candidates, err := s.tokens.ListRedeemable(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list reset tokens: %w", err)
	}

	hash := security.HashToken(strings.TrimSpace(raw))
	for i := range candidates {
		if subtle.ConstantTimeCompare([]byte(candidates[i].TokenHash), []byte(hash)) == 1 {
			return &candidates[i], nil
		}
	}
	return nil, ErrResetTokenInvalid
}

func (s *PasswordResetService) forgotAllowed(ctx context.Context, principal *domain.Principal) bool {
	if principal.Kind == domain.PrincipalKindAdmin {
		return true
	}
	if s.settings == nil {
		return true
	}
	settings, err := s.settings.Get(ctx, principal.ID, principal.Kind)
	if err != nil {
		s.logger.Warn("load security settings failed",
			zap.String("principal_id", principal.ID),
			zap.Error(err),
		)
		return true
	}
	return settings.ForgotPasswordEnabled
}

func (s *PasswordResetService) resetRateLimit() int {
	if s.cfg == nil {
		return 0
	}
	return s.cfg.RateLimit.PasswordResetMaxAttempts
}

func (s *PasswordResetService) resetRateWindow() time.Duration {
	if s.cfg == nil {
		return 0
	}
	return s.cfg.RateLimit.WindowDuration
}

func (s *PasswordResetService) recordResetRecord(ctx context.Context, principalID *string, kind domain.PrincipalKind, action string, initiatedBy, delivery *string, success bool, detail, ip string) {
	if s.audit == nil {
		return
	}

	s.audit.RecordPasswordReset(ctx, domain.PasswordResetRecord{
		PrincipalID: principalID,
		Kind:        kind,
		Action:      action,
		InitiatedBy: initiatedBy,
		Delivery:    delivery,
		Success:     success,
		Detail:      stringPtrOrNil(detail),
		IP:          stringPtrOrNil(ip),
	})
}

func (s *PasswordResetService) publishPasswordChanged(ctx context.Context, principalID string, kind domain.PrincipalKind, changedBy, source string, at time.Time) {
	if s.events == nil {
		return
	}

	event := domain.PasswordChangedEvent{
		EventID:     uuid.NewString(),
		PrincipalID: principalID,
		Kind:        kind,
		ChangedAt:   at,
		ChangedBy:   changedBy,
		Source:      source,
	}
	if err := s.events.PublishPasswordChanged(ctx, event); err != nil {
		s.logger.Warn("publish password changed failed",
			zap.String("principal_id", principalID),
			zap.Error(err),
		)
	}
}

func stringPtrOrNil(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
