package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/security"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/telemetry"
	"github.com/gerizimschools-star/netsafi-iam/internal/transport/http/middleware"
	"github.com/gerizimschools-star/netsafi-iam/internal/usecase"
)

// PasswordHandler exposes self-service and admin password endpoints.
type PasswordHandler struct {
	resets  *usecase.PasswordResetService
	metrics *telemetry.Provider
}

// NewPasswordHandler constructs PasswordHandler.
func NewPasswordHandler(resets *usecase.PasswordResetService, metrics *telemetry.Provider) *PasswordHandler {
	return &PasswordHandler{
		resets:  resets,
		metrics: metrics,
	}
}

// RegisterRoutes binds the self-service password routes.
func (h *PasswordHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/password/forgot", h.forgot)
	r.POST("/password/reset", h.reset)
	r.POST("/password/validate", h.validate)
}

// RegisterAdminRoutes binds the admin-only password routes. The group is
// expected to carry RequireAuth and RequireAdmin already.
func (h *PasswordHandler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/principals/:kind/:id/password/reset", h.adminReset)
	r.PUT("/principals/:kind/:id/password/forgot", h.toggleForgot)
}

// Forgot godoc
// @Summary Initiate a self-service password reset
// @Description Sends a reset token to the account's email. The response is identical whether or not the login ID matches an account.
// @Tags Password
// @Accept json
// @Produce json
// @Param request body ForgotPasswordRequest true "Forgot password request"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse "Self-service reset disabled"
// @Failure 429 {object} middleware.ProblemDetails "Rate limit exceeded"
// @Router /api/v1/auth/password/forgot [post]
func (h *PasswordHandler) forgot(c *gin.Context) {
	if h.resets == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "password reset service unavailable"))
		return
	}

	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid forgot password payload"))
		return
	}

	kind := domain.PrincipalKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid principal kind"))
		return
	}

	input := usecase.ForgotPasswordInput{
		LoginID:   strings.TrimSpace(req.LoginID),
		Kind:      kind,
		IP:        strings.TrimSpace(c.ClientIP()),
		UserAgent: strings.TrimSpace(c.Request.UserAgent()),
	}

	if err := h.resets.Forgot(c.Request.Context(), input); err != nil {
		var rateErr *usecase.RateLimitExceededError
		if errors.As(err, &rateErr) {
			respondRateLimitExceeded(c, rateErr)
			return
		}
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrForgotPasswordDisabled, Status: http.StatusForbidden, Message: "self-service password reset is disabled"},
		}, http.StatusInternalServerError, "failed to initiate password reset")
		return
	}

	h.metrics.RecordPasswordReset("self_service")

	c.JSON(http.StatusOK, MessageResponse{
		Message: "if the account exists, a reset link has been sent",
	})
}

// Reset godoc
// @Summary Redeem a password reset token
// @Description Exchanges a valid reset token for a credential update. The token is consumed on success.
// @Tags Password
// @Accept json
// @Produce json
// @Param request body ResetPasswordRequest true "Reset request"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse "Invalid token or weak password"
// @Router /api/v1/auth/password/reset [post]
func (h *PasswordHandler) reset(c *gin.Context) {
	if h.resets == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "password reset service unavailable"))
		return
	}

	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid reset payload"))
		return
	}

	input := usecase.RedeemInput{
		Token:       strings.TrimSpace(req.Token),
		NewPassword: req.NewPassword,
		IP:          strings.TrimSpace(c.ClientIP()),
		UserAgent:   strings.TrimSpace(c.Request.UserAgent()),
	}

	if err := h.resets.Redeem(c.Request.Context(), input); err != nil {
		if errors.Is(err, usecase.ErrResetTokenInvalid) {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "reset token invalid or expired"))
			return
		}
		var policyErr *security.PasswordValidationError
		if errors.As(err, &policyErr) {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, policyErr.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to reset password"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password updated"})
}

// Validate godoc
// @Summary Validate a candidate password against the current policy
// @Tags Password
// @Accept json
// @Produce json
// @Param request body ValidatePasswordRequest true "Validation request"
// @Success 200 {object} ValidatePasswordResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/auth/password/validate [post]
func (h *PasswordHandler) validate(c *gin.Context) {
	if h.resets == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "password reset service unavailable"))
		return
	}

	var req ValidatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid validation payload"))
		return
	}

	if err := h.resets.ValidatePassword(c.Request.Context(), req.Password); err != nil {
		c.JSON(http.StatusOK, ValidatePasswordResponse{Valid: false, Reason: err.Error()})
		return
	}

	c.JSON(http.StatusOK, ValidatePasswordResponse{Valid: true})
}

// AdminReset godoc
// @Summary Reset a principal's password as an administrator
// @Description Replaces the credential directly or generates a policy-compliant temporary password returned exactly once.
// @Tags Admin
// @Accept json
// @Produce json
// @Param kind path string true "Principal kind"
// @Param id path string true "Principal ID"
// @Param request body AdminPasswordResetRequest true "Reset request"
// @Success 200 {object} AdminPasswordResetResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/admin/principals/{kind}/{id}/password/reset [post]
func (h *PasswordHandler) adminReset(c *gin.Context) {
	if h.resets == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "password reset service unavailable"))
		return
	}

	kind := domain.PrincipalKind(strings.ToLower(strings.TrimSpace(c.Param("kind"))))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid principal kind"))
		return
	}

	var req AdminPasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid reset payload"))
		return
	}
	if !req.Generate && req.NewPassword == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "new_password is required unless generate is set"))
		return
	}

	adminID, _, ok := middleware.GetAuthenticatedPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	input := usecase.AdminResetInput{
		AdminID:     adminID,
		PrincipalID: strings.TrimSpace(c.Param("id")),
		Kind:        kind,
		NewPassword: req.NewPassword,
		Generate:    req.Generate,
		IP:          strings.TrimSpace(c.ClientIP()),
	}

	result, err := h.resets.AdminReset(c.Request.Context(), input)
	if err != nil {
		var policyErr *security.PasswordValidationError
		if errors.As(err, &policyErr) {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, policyErr.Error()))
			return
		}
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrPrincipalNotFound, Status: http.StatusNotFound, Message: "principal not found"},
		}, http.StatusInternalServerError, "failed to reset password")
		return
	}

	h.metrics.RecordPasswordReset("admin")

	resp := AdminPasswordResetResponse{Message: "password updated"}
	if result.Generated {
		resp.TemporaryPassword = result.TemporaryPassword
	}
	c.JSON(http.StatusOK, resp)
}

// ToggleForgot godoc
// @Summary Enable or disable self-service reset for a principal
// @Tags Admin
// @Accept json
// @Produce json
// @Param kind path string true "Principal kind"
// @Param id path string true "Principal ID"
// @Param request body ForgotPasswordToggleRequest true "Toggle request"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/admin/principals/{kind}/{id}/password/forgot [put]
func (h *PasswordHandler) toggleForgot(c *gin.Context) {
	if h.resets == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "password reset service unavailable"))
		return
	}

	kind := domain.PrincipalKind(strings.ToLower(strings.TrimSpace(c.Param("kind"))))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid principal kind"))
		return
	}

	var req ForgotPasswordToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "enabled flag is required"))
		return
	}

	adminID, _, ok := middleware.GetAuthenticatedPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	principalID := strings.TrimSpace(c.Param("id"))
	if err := h.resets.ToggleForgotPassword(c.Request.Context(), adminID, principalID, kind, *req.Enabled); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to update forgot password flag"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "forgot password flag updated"})
}
