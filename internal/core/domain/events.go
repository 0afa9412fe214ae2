package domain

import "time"

// AccountLockedEvent is published when repeated failures lock a principal.
type AccountLockedEvent struct {
	EventID        string
	PrincipalID    string
	Kind           PrincipalKind
	FailedAttempts int
	LockedUntil    time.Time
	LockedAt       time.Time
	IPAddress      *string
	Metadata       map[string]any
}

// PasswordChangedEvent is published after any credential update, whether
// self-service, reset, or admin-initiated.
type PasswordChangedEvent struct {
	EventID     string
	PrincipalID string
	Kind        PrincipalKind
	ChangedAt   time.Time
	ChangedBy   string
	Source      string
	Metadata    map[string]any
}

// OTPIssuedEvent is published when an out-of-band code is generated.
type OTPIssuedEvent struct {
	EventID     string
	PrincipalID string
	Kind        PrincipalKind
	Purpose     OTPPurpose
	Delivery    OTPDeliveryMethod
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Metadata    map[string]any
}

// SecurityConfigChangedEvent is published when an admin updates the policy.
type SecurityConfigChangedEvent struct {
	EventID   string
	AdminID   string
	ChangedAt time.Time
	Changed   map[string]any
}
