package usecase

import (
	"context"
	"errors"
	"fmt"
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
	otpRequestRateLimitScope = "otp_request"
	otpResendRateLimitScope  = "otp_resend"
)

var (
	// ErrOTPUnavailable indicates the service is not properly configured.
	ErrOTPUnavailable = errors.New("otp service unavailable")
	// ErrOTPContactMissing indicates the principal has no contact for the requested method.
	ErrOTPContactMissing = errors.New("no contact method available for otp delivery")
	// ErrOTPDeliveryFailed indicates the channel did not accept the message.
	// The freshly stored record is already retired when this is returned, so
	// the caller may request a new code immediately.
	ErrOTPDeliveryFailed = errors.New("otp delivery failed")
)

// OTPService issues and verifies out-of-band one-time codes.
type OTPService struct {
	cfg        *config.AppConfig
	principals port.PrincipalDirectory
	otps       port.OTPRepository
	policy     *SecurityConfigService
	email      port.EmailSender
	sms        port.SMSSender
	rateLimits port.RateLimitStore
	audit      *AuditService
	events     port.EventPublisher
	logger     *zap.Logger
	now        func() time.Time
}

// NewOTPService constructs an OTPService.
func NewOTPService(
	cfg *config.AppConfig,
	principals port.PrincipalDirectory,
	otps port.OTPRepository,
	policy *SecurityConfigService,
	email port.EmailSender,
	sms port.SMSSender,
	rateLimits port.RateLimitStore,
	audit *AuditService,
	events port.EventPublisher,
	log *zap.Logger,
) *OTPService {
	if log == nil {
		log = zap.NewNop()
	}
	return &OTPService{
		cfg:        cfg,
		principals: principals,
		otps:       otps,
		policy:     policy,
		email:      email,
		sms:        sms,
		rateLimits: rateLimits,
		audit:      audit,
		events:     events,
		logger:     log,
		now:        time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *OTPService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// OTPIssueResult describes a freshly issued code. The plaintext code never
// leaves the service except through the delivery channel.
type OTPIssueResult struct {
	OTPID     string
	Delivery  domain.OTPDeliveryMethod
	ExpiresAt time.Time
}

// Generate retires any active code for the (principal, purpose) pair, stores
// a new hashed code, and delivers it over the requested channel.
func (s *OTPService) Generate(ctx context.Context, principalID string, kind domain.PrincipalKind, purpose domain.OTPPurpose, method domain.OTPDeliveryMethod, ip string) (*OTPIssueResult, error) {
	if s.principals == nil || s.otps == nil || s.policy == nil {
		return nil, ErrOTPUnavailable
	}
	if !purpose.Valid() {
		return nil, fmt.Errorf("invalid otp purpose %q", purpose)
	}

	cfg, err := s.policy.Get(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.enforceRequestLimit(ctx, principalID, now); err != nil {
		return nil, err
	}

	// A request while a code is still live is a resend and gets its own,
	// tighter throttle on top of the request window.
	if interval := s.resendInterval(); interval > 0 {
		active, err := s.HasActive(ctx, principalID, kind, purpose)
		if err != nil {
			return nil, err
		}
		if active {
			if err := enforceSlidingWindow(
				ctx,
				s.rateLimits,
				s.logger,
				otpResendRateLimitScope,
				principalID,
				1,
				interval,
				now,
			); err != nil {
				return nil, err
			}
		}
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

	var destination string
	switch method {
	case domain.OTPDeliveryEmail:
		if !principal.HasEmail() {
			return nil, ErrOTPContactMissing
		}
		destination = *principal.Email
	case domain.OTPDeliverySMS:
		if !principal.HasPhone() {
			return nil, ErrOTPContactMissing
		}
		destination = *principal.Phone
	default:
		return nil, fmt.Errorf("invalid otp delivery method %q", method)
	}

	code, err := security.GenerateNumericCode(cfg.OTPLength)
	if err != nil {
		return nil, fmt.Errorf("generate otp code: %w", err)
	}

	record := domain.OTPRecord{
		ID:          uuid.NewString(),
		PrincipalID: principal.ID,
		Kind:        kind,
		Purpose:     purpose,
		CodeHash:    security.HashToken(code),
		ExpiresAt:   now.Add(time.Duration(cfg.OTPExpirationMinutes) * time.Minute),
		MaxAttempts: cfg.OTPMaxAttempts,
		Status:      domain.OTPStatusActive,
		CreatedAt:   now,
	}

	if err := s.otps.CreateActive(ctx, record); err != nil {
		return nil, fmt.Errorf("store otp record: %w", err)
	}

	if err := s.deliver(ctx, method, destination, code, purpose, record.ExpiresAt); err != nil {
		// The prior record is already retired; park this one too so the
		// caller can regenerate without tripping the single-active rule.
		if setErr := s.otps.SetStatus(ctx, record.ID, domain.OTPStatusExpired); setErr != nil {
			s.logger.Warn("retire undelivered otp failed",
				zap.String("otp_id", record.ID),
				zap.Error(setErr),
			)
		}
		s.recordIssueAudit(ctx, principal, purpose, method, ip, false, err.Error())
		return nil, ErrOTPDeliveryFailed
	}

	s.recordIssueAudit(ctx, principal, purpose, method, ip, true, "")

	if s.events != nil {
		event := domain.OTPIssuedEvent{
			EventID:     uuid.NewString(),
			PrincipalID: principal.ID,
			Kind:        kind,
			Purpose:     purpose,
			Delivery:    method,
			IssuedAt:    now,
			ExpiresAt:   record.ExpiresAt,
		}
		if err := s.events.PublishOTPIssued(ctx, event); err != nil {
			s.logger.Warn("publish otp issued failed",
				zap.String("principal_id", principal.ID),
				zap.Error(err),
			)
		}
	}

	return &OTPIssueResult{
		OTPID:     record.ID,
		Delivery:  method,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// OTPVerifyResult reports the outcome of a code verification.
type OTPVerifyResult struct {
	Valid             bool
	Expired           bool
	Locked            bool
	RemainingAttempts int
}

// Verify checks the supplied code against the active record. Expiry and the
// attempt cap transition the record to its terminal state; a match consumes
// it. The remaining-attempts count is always populated.
func (s *OTPService) Verify(ctx context.Context, principalID string, kind domain.PrincipalKind, purpose domain.OTPPurpose, code string) (*OTPVerifyResult, error) {
	if s.otps == nil {
		return nil, ErrOTPUnavailable
	}

	record, err := s.otps.GetActive(ctx, principalID, kind, purpose)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &OTPVerifyResult{Expired: true}, nil
		}
		return nil, fmt.Errorf("lookup otp record: %w", err)
	}

	now := s.now().UTC()
	if record.ExpiredAt(now) {
		if err := s.otps.SetStatus(ctx, record.ID, domain.OTPStatusExpired); err != nil {
			return nil, fmt.Errorf("expire otp record: %w", err)
		}
		return &OTPVerifyResult{Expired: true}, nil
	}

	if record.AttemptsUsed >= record.MaxAttempts {
		if err := s.otps.SetStatus(ctx, record.ID, domain.OTPStatusLocked); err != nil {
			return nil, fmt.Errorf("lock otp record: %w", err)
		}
		return &OTPVerifyResult{Locked: true}, nil
	}

	attempts, err := s.otps.IncrementAttempts(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("increment otp attempts: %w", err)
	}

	remaining := record.MaxAttempts - attempts
	if remaining < 0 {
		remaining = 0
	}

	if security.HashToken(code) == record.CodeHash {
		if err := s.otps.SetStatus(ctx, record.ID, domain.OTPStatusUsed); err != nil {
			return nil, fmt.Errorf("consume otp record: %w", err)
		}
		s.recordVerifyAudit(ctx, principalID, kind, purpose, true)
		return &OTPVerifyResult{Valid: true, RemainingAttempts: remaining}, nil
	}

	result := &OTPVerifyResult{RemainingAttempts: remaining}
	if remaining == 0 {
		if err := s.otps.SetStatus(ctx, record.ID, domain.OTPStatusLocked); err != nil {
			return nil, fmt.Errorf("lock otp record: %w", err)
		}
		result.Locked = true
	}

	s.recordVerifyAudit(ctx, principalID, kind, purpose, false)
	return result, nil
}

// HasActive reports whether an unexpired active code exists. Used to gate
// repeated requests.
func (s *OTPService) HasActive(ctx context.Context, principalID string, kind domain.PrincipalKind, purpose domain.OTPPurpose) (bool, error) {
	if s.otps == nil {
		return false, ErrOTPUnavailable
	}

	record, err := s.otps.GetActive(ctx, principalID, kind, purpose)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lookup otp record: %w", err)
	}

	return !record.ExpiredAt(s.now().UTC()), nil
}

// ExpireStale transitions active records whose deadline has passed to the
// expired state and reports how many were touched. Called from the
// housekeeping endpoint alongside audit retention cleanup.
func (s *OTPService) ExpireStale(ctx context.Context) (int, error) {
	if s.otps == nil {
		return 0, ErrOTPUnavailable
	}

	expired, err := s.otps.ExpireOlderThan(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire stale otp records: %w", err)
	}

	return expired, nil
}

func (s *OTPService) resendInterval() time.Duration {
	if s.cfg == nil {
		return 0
	}
	return s.cfg.RateLimit.OTPResendInterval
}

func (s *OTPService) enforceRequestLimit(ctx context.Context, principalID string, now time.Time) error {
	if s.cfg == nil {
		return nil
	}
	return enforceSlidingWindow(
		ctx,
		s.rateLimits,
		s.logger,
		otpRequestRateLimitScope,
		principalID,
		s.cfg.RateLimit.OTPRequestMaxAttempts,
		s.cfg.RateLimit.WindowDuration,
		now,
	)
}

func (s *OTPService) deliver(ctx context.Context, method domain.OTPDeliveryMethod, destination, code string, purpose domain.OTPPurpose, expiresAt time.Time) error {
	switch method {
	case domain.OTPDeliveryEmail:
		if s.email == nil {
			return fmt.Errorf("email sender not configured")
		}
		accepted, err := s.email.SendEmail(ctx, destination, code, string(purpose), expiresAt)
		if err != nil {
			return fmt.Errorf("send otp email: %w", err)
		}
		if !accepted {
			return fmt.Errorf("otp email rejected by channel")
		}
	case domain.OTPDeliverySMS:
		if s.sms == nil {
			return fmt.Errorf("sms sender not configured")
		}
		accepted, err := s.sms.SendSMS(ctx, destination, code, string(purpose), expiresAt)
		if err != nil {
			return fmt.Errorf("send otp sms: %w", err)
		}
		if !accepted {
			return fmt.Errorf("otp sms rejected by channel")
		}
	}
	return nil
}

func (s *OTPService) recordIssueAudit(ctx context.Context, principal *domain.Principal, purpose domain.OTPPurpose, method domain.OTPDeliveryMethod, ip string, success bool, failure string) {
	if s.audit == nil {
		return
	}

	details := map[string]any{
		"purpose":  string(purpose),
		"delivery": string(method),
	}
	if method == domain.OTPDeliveryEmail && principal.Email != nil {
		details["destination"] = logger.MaskEmail(*principal.Email)
	}
	if method == domain.OTPDeliverySMS && principal.Phone != nil {
		details["destination"] = logger.MaskPhone(*principal.Phone)
	}

	s.audit.RecordEvent(ctx, domain.AuditEvent{
		PrincipalID:  stringPtrOrNil(principal.ID),
		Kind:         principal.Kind,
		Action:       domain.AuditActionOTPIssued,
		Resource:     "otp",
		Details:      details,
		IP:           stringPtrOrNil(ip),
		Success:      success,
		ErrorMessage: stringPtrOrNil(failure),
	})
}

func (s *OTPService) recordVerifyAudit(ctx context.Context, principalID string, kind domain.PrincipalKind, purpose domain.OTPPurpose, success bool) {
	if s.audit == nil {
		return
	}

	s.audit.RecordEvent(ctx, domain.AuditEvent{
		PrincipalID: stringPtrOrNil(principalID),
		Kind:        kind,
		Action:      domain.AuditActionOTPVerified,
		Resource:    "otp",
		Details: map[string]any{
			"purpose": string(purpose),
		},
		Success: success,
	})
}
