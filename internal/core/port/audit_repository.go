package port

import (
	"context"
	"time"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
)

// AuditRepository appends and queries the immutable security log.
type AuditRepository interface {
	InsertEvent(ctx context.Context, event domain.AuditEvent) error
	InsertSignIn(ctx context.Context, record domain.SignInRecord) error
	InsertPasswordReset(ctx context.Context, record domain.PasswordResetRecord) error
	QueryEvents(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error)
	SignInStats(ctx context.Context, filter domain.AuditFilter) (*domain.SignInStats, error)
	// DeleteOlderThan removes records older than the cutoff across events,
	// sign-in records, and password reset records, returning the total removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
