package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/transport/http/middleware"
	"github.com/gerizimschools-star/netsafi-iam/internal/usecase"
)

// TwoFactorHandler exposes TOTP enrollment endpoints for the authenticated
// principal.
type TwoFactorHandler struct {
	twoFactor *usecase.TwoFactorService
}

// NewTwoFactorHandler constructs TwoFactorHandler.
func NewTwoFactorHandler(twoFactor *usecase.TwoFactorService) *TwoFactorHandler {
	return &TwoFactorHandler{twoFactor: twoFactor}
}

// RegisterRoutes binds the 2FA routes. The group is expected to carry
// RequireAuth already.
func (h *TwoFactorHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/2fa/setup", h.setup)
	r.POST("/2fa/enable", h.enable)
	r.POST("/2fa/disable", h.disable)
}

// Setup godoc
// @Summary Begin TOTP enrollment
// @Description Generates a new secret and backup codes. The secret and plaintext codes are returned exactly once; 2FA stays disabled until enable confirms a valid code.
// @Tags TwoFactor
// @Produce json
// @Success 200 {object} TwoFactorSetupResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Already enabled"
// @Router /api/v1/auth/2fa/setup [post]
func (h *TwoFactorHandler) setup(c *gin.Context) {
	if h.twoFactor == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "two-factor service unavailable"))
		return
	}

	principalID, kind, ok := middleware.GetAuthenticatedPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	secret, err := h.twoFactor.Setup(c.Request.Context(), principalID, domain.PrincipalKind(kind))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrPrincipalNotFound, Status: http.StatusNotFound, Message: "principal not found"},
			{Err: usecase.ErrTwoFactorAlreadyEnabled, Status: http.StatusConflict, Message: "two-factor authentication already enabled"},
		}, http.StatusInternalServerError, "failed to set up two-factor authentication")
		return
	}

	c.JSON(http.StatusOK, TwoFactorSetupResponse{
		Secret:          secret.Secret,
		ProvisioningURI: secret.ProvisioningURI,
		ManualEntryKey:  secret.ManualEntryKey,
		BackupCodes:     secret.BackupCodes,
	})
}

// Enable godoc
// @Summary Confirm TOTP enrollment with a first valid code
// @Tags TwoFactor
// @Accept json
// @Produce json
// @Param request body TwoFactorEnableRequest true "Enable request"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse "Invalid code"
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/2fa/enable [post]
func (h *TwoFactorHandler) enable(c *gin.Context) {
	if h.twoFactor == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "two-factor service unavailable"))
		return
	}

	principalID, kind, ok := middleware.GetAuthenticatedPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req TwoFactorEnableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "token is required"))
		return
	}

	err := h.twoFactor.Enable(c.Request.Context(), principalID, domain.PrincipalKind(kind), strings.TrimSpace(req.Token))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrPrincipalNotFound, Status: http.StatusNotFound, Message: "principal not found"},
			{Err: usecase.ErrTwoFactorNotConfigured, Status: http.StatusConflict, Message: "run setup before enabling"},
			{Err: usecase.ErrTwoFactorTokenInvalid, Status: http.StatusBadRequest, Message: "invalid verification code"},
		}, http.StatusInternalServerError, "failed to enable two-factor authentication")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "two-factor authentication enabled"})
}

// Disable godoc
// @Summary Disable TOTP for the authenticated principal
// @Tags TwoFactor
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/2fa/disable [post]
func (h *TwoFactorHandler) disable(c *gin.Context) {
	if h.twoFactor == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "two-factor service unavailable"))
		return
	}

	principalID, kind, ok := middleware.GetAuthenticatedPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	err := h.twoFactor.Disable(c.Request.Context(), principalID, domain.PrincipalKind(kind))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrPrincipalNotFound, Status: http.StatusNotFound, Message: "principal not found"},
			{Err: usecase.ErrTwoFactorNotConfigured, Status: http.StatusConflict, Message: "two-factor authentication not enabled"},
		}, http.StatusInternalServerError, "failed to disable two-factor authentication")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "two-factor authentication disabled"})
}
