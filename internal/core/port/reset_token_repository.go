package port

import (
	"context"
	"time"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
)

// ResetTokenRepository persists password reset tokens (hashes only).
type ResetTokenRepository interface {
	// Create invalidates prior unused tokens for the principal and inserts the
	// new one in a single transaction.
	Create(ctx context.Context, token domain.PasswordResetToken) error
	// ListRedeemable returns unused, unexpired tokens for hash comparison.
	// Tokens are stored hashed, so redemption scans rather than indexes.
	ListRedeemable(ctx context.Context, now time.Time) ([]domain.PasswordResetToken, error)
	MarkUsed(ctx context.Context, id string, at time.Time) error
	InvalidateForPrincipal(ctx context.Context, principalID string, kind domain.PrincipalKind) error
}
