package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/core/port"
)

var (
	// ErrConfigUnavailable indicates the config service is not properly configured.
	ErrConfigUnavailable = errors.New("security config service unavailable")
	// ErrConfigOutOfRange indicates a supplied value falls outside its documented range.
	ErrConfigOutOfRange = errors.New("security config value out of range")
	// ErrConfigEmptyUpdate indicates the update payload changes nothing.
	ErrConfigEmptyUpdate = errors.New("security config update is empty")
)

type configRange struct {
	min int
	max int
}

// Documented ranges for every numeric policy field.
var configRanges = map[string]configRange{
	"otp_expiration_minutes":            {1, 60},
	"otp_max_attempts":                  {1, 10},
	"otp_length":                        {4, 10},
	"max_login_attempts":                {1, 20},
	"account_lockout_duration_minutes":  {1, 1440},
	"password_min_length":               {6, 128},
	"password_min_strength_score":       {0, 4},
	"password_reset_expiration_minutes": {5, 1440},
	"audit_log_retention_days":          {1, 3650},
	"session_timeout_minutes":           {5, 1440},
}

// SecurityConfigService merges persisted overrides onto compiled defaults and
// serves the result from a cache invalidated on update.
type SecurityConfigService struct {
	store  port.SecurityConfigRepository
	audit  *AuditService
	events port.EventPublisher
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	cached *domain.SecurityConfig
}

// NewSecurityConfigService constructs a SecurityConfigService.
func NewSecurityConfigService(store port.SecurityConfigRepository, audit *AuditService, events port.EventPublisher, logger *zap.Logger) *SecurityConfigService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityConfigService{
		store:  store,
		audit:  audit,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *SecurityConfigService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Get returns the effective policy: defaults overlaid with persisted
// overrides. The merged value is cached until the next update.
func (s *SecurityConfigService) Get(ctx context.Context) (domain.SecurityConfig, error) {
	s.mu.RLock()
	if s.cached != nil {
		cfg := *s.cached
		s.mu.RUnlock()
		return cfg, nil
	}
	s.mu.RUnlock()

	cfg := domain.DefaultSecurityConfig()
	if s.store == nil {
		return cfg, nil
	}

	entries, err := s.store.LoadAll(ctx)
	if err != nil {
		return domain.SecurityConfig{}, fmt.Errorf("load security config: %w", err)
	}

	for _, entry := range entries {
		if err := applyConfigEntry(&cfg, entry); err != nil {
			// A malformed row must not take authentication down.
			s.logger.Warn("skipping malformed security config row",
				zap.String("key", entry.Key),
				zap.Error(err),
			)
		}
	}

	s.mu.Lock()
	s.cached = &cfg
	s.mu.Unlock()

	return cfg, nil
}

// Invalidate drops the cached policy so the next Get reloads from storage.
func (s *SecurityConfigService) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Update range-validates the patch, rejects it atomically on any violation,
// persists only the changed keys, and audits the change.
func (s *SecurityConfigService) Update(ctx context.Context, adminID string, patch domain.SecurityConfigPatch) (domain.SecurityConfig, error) {
	if s.store == nil {
		return domain.SecurityConfig{}, ErrConfigUnavailable
	}
	if patch.Empty() {
		return domain.SecurityConfig{}, ErrConfigEmptyUpdate
	}

	current, err := s.Get(ctx)
	if err != nil {
		return domain.SecurityConfig{}, err
	}

	entries, changed, err := buildConfigEntries(current, patch)
	if err != nil {
		return domain.SecurityConfig{}, err
	}
	if len(entries) == 0 {
		return current, nil
	}

	if err := s.store.UpsertAll(ctx, entries); err != nil {
		return domain.SecurityConfig{}, fmt.Errorf("persist security config: %w", err)
	}

	s.Invalidate()

	updated, err := s.Get(ctx)
	if err != nil {
		return domain.SecurityConfig{}, err
	}

	if s.audit != nil {
		s.audit.RecordEvent(ctx, domain.AuditEvent{
			PrincipalID: stringPtrOrNil(adminID),
			Kind:        domain.PrincipalKindAdmin,
			Action:      domain.AuditActionSecurityConfig,
			Resource:    "security_config",
			Details:     changed,
			Success:     true,
		})
	}

	if s.events != nil {
		event := domain.SecurityConfigChangedEvent{
			EventID:   uuid.NewString(),
			AdminID:   adminID,
			ChangedAt: s.now().UTC(),
			Changed:   changed,
		}
		if err := s.events.PublishSecurityConfigChanged(ctx, event); err != nil {
			s.logger.Warn("publish security config changed failed", zap.Error(err))
		}
	}

	return updated, nil
}

func checkConfigRange(key string, value int) error {
	bounds, ok := configRanges[key]
	if !ok {
		return nil
	}
	if value < bounds.min || value > bounds.max {
		return fmt.Errorf("%w: %s must be between %d and %d", ErrConfigOutOfRange, key, bounds.min, bounds.max)
	}
	return nil
}

// buildConfigEntries converts the patch into persistable rows, validating
// every supplied field first so a single violation rejects the whole update.
func buildConfigEntries(current domain.SecurityConfig, patch domain.SecurityConfigPatch) ([]port.ConfigEntry, map[string]any, error) {
	type intField struct {
		key     string
		value   *int
		current int
	}
	type boolField struct {
		key     string
		value   *bool
		current bool
	}

	intFields := []intField{
		{"otp_expiration_minutes", patch.OTPExpirationMinutes, current.OTPExpirationMinutes},
		{"otp_max_attempts", patch.OTPMaxAttempts, current.OTPMaxAttempts},
		{"otp_length", patch.OTPLength, current.OTPLength},
		{"max_login_attempts", patch.MaxLoginAttempts, current.MaxLoginAttempts},
		{"account_lockout_duration_minutes", patch.AccountLockoutDurationMinutes, current.AccountLockoutDurationMinutes},
		{"password_min_length", patch.PasswordMinLength, current.PasswordMinLength},
		{"password_min_strength_score", patch.PasswordMinStrengthScore, current.PasswordMinStrengthScore},
		{"password_reset_expiration_minutes", patch.PasswordResetExpirationMinutes, current.PasswordResetExpirationMinutes},
		{"audit_log_retention_days", patch.AuditLogRetentionDays, current.AuditLogRetentionDays},
		{"session_timeout_minutes", patch.SessionTimeoutMinutes, current.SessionTimeoutMinutes},
	}
	boolFields := []boolField{
		{"password_require_uppercase", patch.PasswordRequireUppercase, current.PasswordRequireUppercase},
		{"password_require_lowercase", patch.PasswordRequireLowercase, current.PasswordRequireLowercase},
		{"password_require_numbers", patch.PasswordRequireNumbers, current.PasswordRequireNumbers},
		{"password_require_symbols", patch.PasswordRequireSymbols, current.PasswordRequireSymbols},
		{"forgot_password_enabled", patch.ForgotPasswordEnabled, current.ForgotPasswordEnabled},
		{"reset_password_after_failed_otp_enabled", patch.ResetPasswordAfterFailedOTP, current.ResetPasswordAfterFailedOTP},
	}

	for _, field := range intFields {
		if field.value == nil {
			continue
		}
		if err := checkConfigRange(field.key, *field.value); err != nil {
			return nil, nil, err
		}
	}

	entries := make([]port.ConfigEntry, 0)
	changed := make(map[string]any)

	for _, field := range intFields {
		if field.value == nil || *field.value == field.current {
			continue
		}
		entries = append(entries, port.ConfigEntry{
			Key:   field.key,
			Value: strconv.Itoa(*field.value),
			Type:  "int",
		})
		changed[field.key] = *field.value
	}

	for _, field := range boolFields {
		if field.value == nil || *field.value == field.current {
			continue
		}
		entries = append(entries, port.ConfigEntry{
			Key:   field.key,
			Value: strconv.FormatBool(*field.value),
			Type:  "bool",
		})
		changed[field.key] = *field.value
	}

	return entries, changed, nil
}

func applyConfigEntry(cfg *domain.SecurityConfig, entry port.ConfigEntry) error {
	switch entry.Type {
	case "int":
		value, err := strconv.Atoi(entry.Value)
		if err != nil {
			return fmt.Errorf("parse int override %s: %w", entry.Key, err)
		}
		switch entry.Key {
		case "otp_expiration_minutes":
			cfg.OTPExpirationMinutes = value
		case "otp_max_attempts":
			cfg.OTPMaxAttempts = value
		case "otp_length":
			cfg.OTPLength = value
		case "max_login_attempts":
			cfg.MaxLoginAttempts = value
		case "account_lockout_duration_minutes":
			cfg.AccountLockoutDurationMinutes = value
		case "password_min_length":
			cfg.PasswordMinLength = value
		case "password_min_strength_score":
			cfg.PasswordMinStrengthScore = value
		case "password_reset_expiration_minutes":
			cfg.PasswordResetExpirationMinutes = value
		case "audit_log_retention_days":
			cfg.AuditLogRetentionDays = value
		case "session_timeout_minutes":
			cfg.SessionTimeoutMinutes = value
		default:
			return fmt.Errorf("unknown int config key %q", entry.Key)
		}
	case "bool":
		value, err := strconv.ParseBool(entry.Value)
		if err != nil {
			return fmt.Errorf("parse bool override %s: %w", entry.Key, err)
		}
		switch entry.Key {
		case "password_require_uppercase":
			cfg.PasswordRequireUppercase = value
		case "password_require_lowercase":
			cfg.PasswordRequireLowercase = value
		case "password_require_numbers":
			cfg.PasswordRequireNumbers = value
		case "password_require_symbols":
			cfg.PasswordRequireSymbols = value
		case "forgot_password_enabled":
			cfg.ForgotPasswordEnabled = value
		case "reset_password_after_failed_otp_enabled":
			cfg.ResetPasswordAfterFailedOTP = value
		default:
			return fmt.Errorf("unknown bool config key %q", entry.Key)
		}
	default:
		return fmt.Errorf("unknown config value type %q", entry.Type)
	}

	return nil
}
