package domain

import "time"

// AuditEvent is an immutable entry in the append-only security log.
type AuditEvent struct {
	ID           string
	PrincipalID  *string
	Kind         PrincipalKind
	Action       string
	Resource     string
	Details      map[string]any
	IP           *string
	UserAgent    *string
	Success      bool
	ErrorMessage *string
	CreatedAt    time.Time
}

// SignInRecord is the authentication-attempt specialization of AuditEvent,
// kept in its own table so sign-in statistics stay cheap to aggregate.
type SignInRecord struct {
	ID            string
	PrincipalID   *string
	Kind          PrincipalKind
	LoginID       string
	Success       bool
	FailureReason *string
	SecondFactor  *string
	IP            *string
	UserAgent     *string
	CreatedAt     time.Time
}

// PasswordResetRecord logs reset initiation and completion attempts.
type PasswordResetRecord struct {
	ID          string
	PrincipalID *string
	Kind        PrincipalKind
	Action      string
	InitiatedBy *string
	Delivery    *string
	Success     bool
	Detail      *string
	IP          *string
	CreatedAt   time.Time
}

// AuditFilter narrows audit queries. Zero values match everything.
type AuditFilter struct {
	PrincipalID string
	Kind        PrincipalKind
	Action      string
	Resource    string
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

// SignInStats aggregates sign-in records over a window.
type SignInStats struct {
	Total              int
	Succeeded          int
	Failed             int
	SecondFactorUsed   int
	DistinctPrincipals int
	DistinctIPs        int
	From               time.Time
	To                 time.Time
}

// Audit action names shared between services and the audit trail.
const (
	AuditActionSignIn             = "sign_in"
	AuditActionAccountLocked      = "account_locked"
	AuditActionPasswordReset      = "password_reset"
	AuditActionPasswordChanged    = "password_changed"
	AuditActionAdminPasswordReset = "admin_password_reset"
	AuditActionForgotPasswordFlag = "forgot_password_toggled"
	AuditActionTwoFactorSetup     = "two_factor_setup"
	AuditActionTwoFactorEnabled   = "two_factor_enabled"
	AuditActionTwoFactorDisabled  = "two_factor_disabled"
	AuditActionOTPIssued          = "otp_issued"
	AuditActionOTPVerified        = "otp_verified"
	AuditActionSecurityConfig     = "security_config_updated"
	AuditActionAuditCleanup       = "audit_cleanup"
)
