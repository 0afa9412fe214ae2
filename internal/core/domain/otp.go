package domain

import "time"

// OTPPurpose scopes an out-of-band code to a single flow.
type OTPPurpose string

const (
	OTPPurposeLogin               OTPPurpose = "login"
	OTPPurposePasswordReset       OTPPurpose = "password_reset"
	OTPPurposeAccountVerification OTPPurpose = "account_verification"
)

// Valid reports whether the purpose is one of the supported flows.
func (p OTPPurpose) Valid() bool {
	switch p {
	case OTPPurposeLogin, OTPPurposePasswordReset, OTPPurposeAccountVerification:
		return true
	}
	return false
}

// OTPStatus tracks the lifecycle of a stored code. used, expired, and locked
// are terminal; a record is never reactivated.
type OTPStatus string

const (
	OTPStatusActive  OTPStatus = "active"
	OTPStatusUsed    OTPStatus = "used"
	OTPStatusExpired OTPStatus = "expired"
	OTPStatusLocked  OTPStatus = "locked"
)

// OTPRecord mirrors the otp_records table. At most one active record exists
// per (principal, purpose); issuing a new code expires the previous one in
// the same transaction.
type OTPRecord struct {
	ID           string
	PrincipalID  string
	Kind         PrincipalKind
	Purpose      OTPPurpose
	CodeHash     string
	ExpiresAt    time.Time
	MaxAttempts  int
	AttemptsUsed int
	Status       OTPStatus
	CreatedAt    time.Time
}

// RemainingAttempts returns how many verification attempts are left.
func (r OTPRecord) RemainingAttempts() int {
	remaining := r.MaxAttempts - r.AttemptsUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ExpiredAt reports whether the record has passed its expiry at the given instant.
func (r OTPRecord) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// OTPDeliveryMethod selects the out-of-band channel for a code.
type OTPDeliveryMethod string

const (
	OTPDeliveryEmail OTPDeliveryMethod = "email"
	OTPDeliverySMS   OTPDeliveryMethod = "sms"
)
