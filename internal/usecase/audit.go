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

// ErrAuditUnavailable indicates the audit service is not properly configured.
var ErrAuditUnavailable = errors.New("audit service unavailable")

// AuditService appends to and queries the append-only security log. Write
// failures are logged and swallowed so telemetry never aborts the primary
// operation.
type AuditService struct {
	repo   port.AuditRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditService constructs an AuditService.
func NewAuditService(repo port.AuditRepository, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *AuditService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// RecordEvent appends a security event, best-effort.
func (s *AuditService) RecordEvent(ctx context.Context, event domain.AuditEvent) {
	if s.repo == nil {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}

	if err := s.repo.InsertEvent(ctx, event); err != nil {
		s.logger.Warn("audit event write failed",
			zap.String("action", event.Action),
			zap.Error(err),
		)
	}
}

// RecordSignIn appends an authentication attempt record, best-effort.
func (s *AuditService) RecordSignIn(ctx context.Context, record domain.SignInRecord) {
	if s.repo == nil {
		return
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().UTC()
	}

	if err := s.repo.InsertSignIn(ctx, record); err != nil {
		s.logger.Warn("sign-in record write failed",
			zap.String("login_id", record.LoginID),
			zap.Error(err),
		)
	}
}

// RecordPasswordReset appends a reset attempt record, best-effort.
func (s *AuditService) RecordPasswordReset(ctx context.Context, record domain.PasswordResetRecord) {
	if s.repo == nil {
		return
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().UTC()
	}

	if err := s.repo.InsertPasswordReset(ctx, record); err != nil {
		s.logger.Warn("password reset record write failed", zap.Error(err))
	}
}

// Query lists audit events matching the filter, newest first.
func (s *AuditService) Query(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error) {
	if s.repo == nil {
		return nil, ErrAuditUnavailable
	}

	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	events, err := s.repo.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}

	return events, nil
}

// SignInStats aggregates sign-in records over the filter window.
func (s *AuditService) SignInStats(ctx context.Context, filter domain.AuditFilter) (*domain.SignInStats, error) {
	if s.repo == nil {
		return nil, ErrAuditUnavailable
	}

	stats, err := s.repo.SignInStats(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("aggregate sign-in stats: %w", err)
	}

	return stats, nil
}

// Cleanup removes records older than retentionDays across all three record
// kinds and reports the total removed. The caller is audited separately.
func (s *AuditService) Cleanup(ctx context.Context, adminID string, retentionDays int) (int64, error) {
	if s.repo == nil {
		return 0, ErrAuditUnavailable
	}
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive")
	}

	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)
	removed, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale audit records: %w", err)
	}

	s.RecordEvent(ctx, domain.AuditEvent{
		PrincipalID: stringPtrOrNil(adminID),
		Kind:        domain.PrincipalKindAdmin,
		Action:      domain.AuditActionAuditCleanup,
		Resource:    "audit",
		Details: map[string]any{
			"retention_days": retentionDays,
			"rows_removed":   removed,
		},
		Success: true,
	})

	return removed, nil
}
