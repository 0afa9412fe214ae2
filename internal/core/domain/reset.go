package domain

import "time"

// PasswordResetToken represents a single-use reset credential stored as a
// hash. Issuing a new token for a principal invalidates prior unused ones.
type PasswordResetToken struct {
	ID          string
	PrincipalID string
	Kind        PrincipalKind
	TokenHash   string
	IP          *string
	UserAgent   *string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	UsedAt      *time.Time
}

// Redeemable reports whether the token is still unused and unexpired.
func (t PasswordResetToken) Redeemable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
