package domain

import "time"

// PrincipalKind identifies which account population a principal belongs to.
type PrincipalKind string

const (
	PrincipalKindAdmin    PrincipalKind = "admin"
	PrincipalKindReseller PrincipalKind = "reseller"
	PrincipalKindCustomer PrincipalKind = "customer"
)

// Valid reports whether the kind is one of the three supported populations.
func (k PrincipalKind) Valid() bool {
	switch k {
	case PrincipalKindAdmin, PrincipalKindReseller, PrincipalKindCustomer:
		return true
	}
	return false
}

// Principal is the authenticable view of an account, independent of which
// kind-specific table it came from. Schema differences (login by username vs.
// email) live entirely in the repository adapters.
type Principal struct {
	ID                 string
	Kind               PrincipalKind
	LoginID            string
	Email              *string
	Phone              *string
	PasswordHash       string
	TwoFactorSecret    *string
	TwoFactorEnabled   bool
	TwoFactorMandatory bool
	// BackupCodeHashes holds SHA-256 hashes of the remaining single-use codes.
	BackupCodeHashes []string
	IsActive         bool
	LastLogin        *time.Time
	CreatedAt        time.Time
}

// HasEmail reports whether the principal has a reachable email address.
func (p Principal) HasEmail() bool {
	return p.Email != nil && *p.Email != ""
}

// HasPhone reports whether the principal has a reachable phone number.
func (p Principal) HasPhone() bool {
	return p.Phone != nil && *p.Phone != ""
}

// SecuritySettings tracks per-principal counters and flags. A row is created
// lazily on the first failed attempt and reset on success or password reset.
type SecuritySettings struct {
	PrincipalID           string
	Kind                  PrincipalKind
	FailedAttempts        int
	LockedUntil           *time.Time
	ForgotPasswordEnabled bool
	UpdatedAt             time.Time
}

// LockedAt reports whether the settings describe an active lock at the given instant.
func (s SecuritySettings) LockedAt(now time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}
