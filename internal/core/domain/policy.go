package domain

// SecurityConfig is the runtime-tunable policy. Persisted overrides are
// merged onto these defaults key by key; an update is all-or-nothing.
type SecurityConfig struct {
	OTPExpirationMinutes           int  `json:"otp_expiration_minutes"`
	OTPMaxAttempts                 int  `json:"otp_max_attempts"`
	OTPLength                      int  `json:"otp_length"`
	MaxLoginAttempts               int  `json:"max_login_attempts"`
	AccountLockoutDurationMinutes  int  `json:"account_lockout_duration_minutes"`
	PasswordMinLength              int  `json:"password_min_length"`
	PasswordRequireUppercase       bool `json:"password_require_uppercase"`
	PasswordRequireLowercase       bool `json:"password_require_lowercase"`
	PasswordRequireNumbers         bool `json:"password_require_numbers"`
	PasswordRequireSymbols         bool `json:"password_require_symbols"`
	PasswordMinStrengthScore       int  `json:"password_min_strength_score"`
	PasswordResetExpirationMinutes int  `json:"password_reset_expiration_minutes"`
	ForgotPasswordEnabled          bool `json:"forgot_password_enabled"`
	ResetPasswordAfterFailedOTP    bool `json:"reset_password_after_failed_otp_enabled"`
	AuditLogRetentionDays          int  `json:"audit_log_retention_days"`
	SessionTimeoutMinutes          int  `json:"session_timeout_minutes"`
}

// DefaultSecurityConfig returns the compiled-in policy used when no override
// rows exist.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		OTPExpirationMinutes:           5,
		OTPMaxAttempts:                 3,
		OTPLength:                      6,
		MaxLoginAttempts:               5,
		AccountLockoutDurationMinutes:  30,
		PasswordMinLength:              8,
		PasswordRequireUppercase:       true,
		PasswordRequireLowercase:       true,
		PasswordRequireNumbers:         true,
		PasswordRequireSymbols:         false,
		PasswordMinStrengthScore:       0,
		PasswordResetExpirationMinutes: 60,
		ForgotPasswordEnabled:          true,
		ResetPasswordAfterFailedOTP:    false,
		AuditLogRetentionDays:          90,
		SessionTimeoutMinutes:          60,
	}
}

// SecurityConfigPatch carries a partial update. Nil fields are untouched.
type SecurityConfigPatch struct {
	OTPExpirationMinutes           *int  `json:"otp_expiration_minutes,omitempty"`
	OTPMaxAttempts                 *int  `json:"otp_max_attempts,omitempty"`
	OTPLength                      *int  `json:"otp_length,omitempty"`
	MaxLoginAttempts               *int  `json:"max_login_attempts,omitempty"`
	AccountLockoutDurationMinutes  *int  `json:"account_lockout_duration_minutes,omitempty"`
	PasswordMinLength              *int  `json:"password_min_length,omitempty"`
	PasswordRequireUppercase       *bool `json:"password_require_uppercase,omitempty"`
	PasswordRequireLowercase       *bool `json:"password_require_lowercase,omitempty"`
	PasswordRequireNumbers         *bool `json:"password_require_numbers,omitempty"`
	PasswordRequireSymbols         *bool `json:"password_require_symbols,omitempty"`
	PasswordMinStrengthScore       *int  `json:"password_min_strength_score,omitempty"`
	PasswordResetExpirationMinutes *int  `json:"password_reset_expiration_minutes,omitempty"`
	ForgotPasswordEnabled          *bool `json:"forgot_password_enabled,omitempty"`
	ResetPasswordAfterFailedOTP    *bool `json:"reset_password_after_failed_otp_enabled,omitempty"`
	AuditLogRetentionDays          *int  `json:"audit_log_retention_days,omitempty"`
	SessionTimeoutMinutes          *int  `json:"session_timeout_minutes,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p SecurityConfigPatch) Empty() bool {
	return p.OTPExpirationMinutes == nil &&
		p.OTPMaxAttempts == nil &&
		p.OTPLength == nil &&
		p.MaxLoginAttempts == nil &&
		p.AccountLockoutDurationMinutes == nil &&
		p.PasswordMinLength == nil &&
		p.PasswordRequireUppercase == nil &&
		p.PasswordRequireLowercase == nil &&
		p.PasswordRequireNumbers == nil &&
		p.PasswordRequireSymbols == nil &&
		p.PasswordMinStrengthScore == nil &&
		p.PasswordResetExpirationMinutes == nil &&
		p.ForgotPasswordEnabled == nil &&
		p.ResetPasswordAfterFailedOTP == nil &&
		p.AuditLogRetentionDays == nil &&
		p.SessionTimeoutMinutes == nil
}
