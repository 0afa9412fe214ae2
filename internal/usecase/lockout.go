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
)

// ErrLockoutUnavailable indicates the lockout service is not properly configured.
var ErrLockoutUnavailable = errors.New("lockout service unavailable")

// AccountLockedError reports an active lock together with its expiry so the
// caller can surface the unlock time.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// LockoutService tracks failed attempts per principal and enforces the
// progressive lock window.
type LockoutService struct {
	settings port.SecuritySettingsRepository
	policy   *SecurityConfigService
	audit    *AuditService
	events   port.EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewLockoutService constructs a LockoutService.
func NewLockoutService(settings port.SecuritySettingsRepository, policy *SecurityConfigService, audit *AuditService, events port.EventPublisher, logger *zap.Logger) *LockoutService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LockoutService{
		settings: settings,
		policy:   policy,
		audit:    audit,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *LockoutService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// IsLocked reports whether the principal has an active lock and, if so, when
// it expires.
func (s *LockoutService) IsLocked(ctx context.Context, principalID string, kind domain.PrincipalKind) (bool, *time.Time, error) {
	if s.settings == nil {
		return false, nil, ErrLockoutUnavailable
	}

	settings, err := s.settings.Get(ctx, principalID, kind)
	if err != nil {
		return false, nil, fmt.Errorf("load security settings: %w", err)
	}

	if settings.LockedAt(s.now().UTC()) {
		return true, settings.LockedUntil, nil
	}

	return false, nil, nil
}

// RecordFailure atomically increments the failure counter; crossing the
// configured threshold sets the lock window, audits the lockout, and emits an
// event. It returns whether the principal is now locked and until when.
func (s *LockoutService) RecordFailure(ctx context.Context, principal domain.Principal, ip, userAgent string) (bool, *time.Time, error) {
	if s.settings == nil || s.policy == nil {
		return false, nil, ErrLockoutUnavailable
	}

	cfg, err := s.policy.Get(ctx)
	if err != nil {
		return false, nil, err
	}

	now := s.now().UTC()
	count, err := s.settings.RecordFailure(ctx, principal.ID, principal.Kind, now)
	if err != nil {
		return false, nil, fmt.Errorf("record failed attempt: %w", err)
	}

	if count < cfg.MaxLoginAttempts {
		return false, nil, nil
	}

	until := now.Add(time.Duration(cfg.AccountLockoutDurationMinutes) * time.Minute)
	if err := s.settings.SetLock(ctx, principal.ID, principal.Kind, until); err != nil {
		return false, nil, fmt.Errorf("set lockout: %w", err)
	}

	if s.audit != nil {
		s.audit.RecordEvent(ctx, domain.AuditEvent{
			PrincipalID: stringPtrOrNil(principal.ID),
			Kind:        principal.Kind,
			Action:      domain.AuditActionAccountLocked,
			Resource:    "principal",
			Details: map[string]any{
				"failed_attempts": count,
				"locked_until":    until,
			},
			IP:      stringPtrOrNil(ip),
			Success: true,
		})
	}

	if s.events != nil {
		event := domain.AccountLockedEvent{
			EventID:        uuid.NewString(),
			PrincipalID:    principal.ID,
			Kind:           principal.Kind,
			FailedAttempts: count,
			LockedUntil:    until,
			LockedAt:       now,
			IPAddress:      stringPtrOrNil(ip),
		}
		if err := s.events.PublishAccountLocked(ctx, event); err != nil {
			s.logger.Warn("publish account locked failed",
				zap.String("principal_id", principal.ID),
				zap.Error(err),
			)
		}
	}

	return true, &until, nil
}

// Reset zeroes the failure counter and clears any lock.
func (s *LockoutService) Reset(ctx context.Context, principalID string, kind domain.PrincipalKind) error {
	if s.settings == nil {
		return ErrLockoutUnavailable
	}

	if err := s.settings.Reset(ctx, principalID, kind); err != nil {
		return fmt.Errorf("reset security settings: %w", err)
	}

	return nil
}
