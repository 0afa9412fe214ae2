package port

import (
	"context"
	"time"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
)

// OTPRepository persists out-of-band codes with their lifecycle state.
type OTPRepository interface {
	// CreateActive expires any existing active record for the same
	// (principal, purpose) and inserts the new one in a single transaction.
	CreateActive(ctx context.Context, record domain.OTPRecord) error
	GetActive(ctx context.Context, principalID string, kind domain.PrincipalKind, purpose domain.OTPPurpose) (*domain.OTPRecord, error)
	// IncrementAttempts bumps attempts_used and returns the new value.
	IncrementAttempts(ctx context.Context, id string) (int, error)
	SetStatus(ctx context.Context, id string, status domain.OTPStatus) error
	// ExpireOlderThan marks stale active records expired, used by the cleanup job.
	ExpireOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
