package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// PrincipalSummary describes a minimal view of a principal returned by the API.
type PrincipalSummary struct {
	ID               string  `json:"id"`
	Kind             string  `json:"kind"`
	LoginID          string  `json:"login_id"`
	Email            *string `json:"email,omitempty"`
	Phone            *string `json:"phone,omitempty"`
	TwoFactorEnabled bool    `json:"two_factor_enabled"`
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	LoginID            string `json:"login_id" binding:"required"`
	Password           string `json:"password" binding:"required"`
	Kind               string `json:"kind" binding:"required"`
	SecondFactorToken  string `json:"second_factor_token"`
	SecondFactorMethod string `json:"second_factor_method"`
}

// LoginResponse is returned for a completed authentication.
type LoginResponse struct {
	Status           string           `json:"status"`
	Credential       string           `json:"credential,omitempty"`
	TokenType        string           `json:"token_type,omitempty"`
	Principal        PrincipalSummary `json:"principal"`
	SecondFactorUsed string           `json:"second_factor_used,omitempty"`
}

// LoginChallengeResponse is returned when another step is required before a
// credential is issued.
type LoginChallengeResponse struct {
	Status           string           `json:"status"`
	Principal        PrincipalSummary `json:"principal"`
	AvailableMethods []string         `json:"available_methods,omitempty"`
}

// LockedResponse reports an active account lock.
type LockedResponse struct {
	Error       string    `json:"error"`
	LockedUntil time.Time `json:"locked_until"`
}

// SecondFactorFailedResponse reports a rejected second-factor token.
type SecondFactorFailedResponse struct {
	Error             string `json:"error"`
	RemainingAttempts *int   `json:"remaining_attempts,omitempty"`
}

// OTPRequestPayload asks for a new out-of-band code.
type OTPRequestPayload struct {
	PrincipalID string `json:"principal_id" binding:"required"`
	Kind        string `json:"kind" binding:"required"`
	Purpose     string `json:"purpose" binding:"required"`
	Method      string `json:"method" binding:"required"`
}

// OTPRequestResponse reports a delivered code.
type OTPRequestResponse struct {
	OTPID     string    `json:"otp_id"`
	Delivery  string    `json:"delivery"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OTPVerifyPayload submits a code for verification.
type OTPVerifyPayload struct {
	PrincipalID string `json:"principal_id" binding:"required"`
	Kind        string `json:"kind" binding:"required"`
	Purpose     string `json:"purpose" binding:"required"`
	Code        string `json:"code" binding:"required"`
}

// OTPVerifyResponse reports the verification outcome.
type OTPVerifyResponse struct {
	Valid             bool `json:"valid"`
	Expired           bool `json:"expired,omitempty"`
	Locked            bool `json:"locked,omitempty"`
	RemainingAttempts int  `json:"remaining_attempts"`
}

// ForgotPasswordRequest initiates a self-service reset.
type ForgotPasswordRequest struct {
	LoginID string `json:"login_id" binding:"required"`
	Kind    string `json:"kind" binding:"required"`
}

// ResetPasswordRequest redeems a reset token.
type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// ValidatePasswordRequest checks a candidate password against policy.
type ValidatePasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

// ValidatePasswordResponse reports policy compliance.
type ValidatePasswordResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// AdminPasswordResetRequest replaces a principal's credential.
type AdminPasswordResetRequest struct {
	NewPassword string `json:"new_password"`
	Generate    bool   `json:"generate"`
}

// AdminPasswordResetResponse returns the temporary password when generated.
// The plaintext is shown exactly once and never stored.
type AdminPasswordResetResponse struct {
	Message           string `json:"message"`
	TemporaryPassword string `json:"temporary_password,omitempty"`
}

// ForgotPasswordToggleRequest flips the per-principal self-service flag.
type ForgotPasswordToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// TwoFactorSetupResponse returns provisioning material. Secret and backup
// codes are surfaced exactly once.
type TwoFactorSetupResponse struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	ManualEntryKey  string   `json:"manual_entry_key"`
	BackupCodes     []string `json:"backup_codes"`
}

// TwoFactorEnableRequest confirms setup with a first valid code.
type TwoFactorEnableRequest struct {
	Token string `json:"token" binding:"required"`
}

// AuditEventPayload is the API view of one audit event.
type AuditEventPayload struct {
	ID           string         `json:"id"`
	PrincipalID  *string        `json:"principal_id,omitempty"`
	Kind         string         `json:"kind,omitempty"`
	Action       string         `json:"action"`
	Resource     string         `json:"resource,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	IP           *string        `json:"ip,omitempty"`
	UserAgent    *string        `json:"user_agent,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AuditEventListResponse wraps a page of audit events.
type AuditEventListResponse struct {
	Events []AuditEventPayload `json:"events"`
	Count  int                 `json:"count"`
}

// SignInStatsResponse summarises authentication activity over a window.
type SignInStatsResponse struct {
	Total              int       `json:"total"`
	Succeeded          int       `json:"succeeded"`
	Failed             int       `json:"failed"`
	SecondFactorUsed   int       `json:"second_factor_used"`
	DistinctPrincipals int       `json:"distinct_principals"`
	DistinctIPs        int       `json:"distinct_ips"`
	From               time.Time `json:"from"`
	To                 time.Time `json:"to"`
}

// AuditCleanupResponse reports how many rows a retention sweep removed.
type AuditCleanupResponse struct {
	Deleted           int64 `json:"deleted"`
	ExpiredOTPRecords int   `json:"expired_otp_records"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// newPrincipalSummary converts a domain principal to a summary suitable for
// API responses. The password hash and second-factor material never leave
// the domain layer.
func newPrincipalSummary(principal domain.Principal) PrincipalSummary {
	summary := PrincipalSummary{
		ID:               principal.ID,
		Kind:             string(principal.Kind),
		LoginID:          principal.LoginID,
		TwoFactorEnabled: principal.TwoFactorEnabled,
	}

	if principal.HasEmail() {
		summary.Email = principal.Email
	}
	if principal.HasPhone() {
		summary.Phone = principal.Phone
	}

	return summary
}

// newAuditEventPayload converts a domain audit event to its API view.
func newAuditEventPayload(event domain.AuditEvent) AuditEventPayload {
	return AuditEventPayload{
		ID:           event.ID,
		PrincipalID:  event.PrincipalID,
		Kind:         string(event.Kind),
		Action:       event.Action,
		Resource:     event.Resource,
		Details:      event.Details,
		IP:           event.IP,
		UserAgent:    event.UserAgent,
		Success:      event.Success,
		ErrorMessage: event.ErrorMessage,
		CreatedAt:    event.CreatedAt,
	}
}
