package port

import (
	"context"
	"time"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
)

// SecuritySettingsRepository persists per-principal lockout counters and
// flags. RecordFailure must be an atomic increment so concurrent failures on
// the same principal never under-count.
type SecuritySettingsRepository interface {
	Get(ctx context.Context, principalID string, kind domain.PrincipalKind) (*domain.SecuritySettings, error)
	// RecordFailure atomically increments failed_attempts (creating the row if
	// missing) and returns the new counter value.
	RecordFailure(ctx context.Context, principalID string, kind domain.PrincipalKind, at time.Time) (int, error)
	SetLock(ctx context.Context, principalID string, kind domain.PrincipalKind, until time.Time) error
	Reset(ctx context.Context, principalID string, kind domain.PrincipalKind) error
	SetForgotPasswordEnabled(ctx context.Context, principalID string, kind domain.PrincipalKind, enabled bool) error
}
