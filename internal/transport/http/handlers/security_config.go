package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/transport/http/middleware"
	"github.com/gerizimschools-star/netsafi-iam/internal/usecase"
)

// SecurityConfigHandler exposes the runtime-tunable security policy.
type SecurityConfigHandler struct {
	policy *usecase.SecurityConfigService
}

// NewSecurityConfigHandler constructs SecurityConfigHandler.
func NewSecurityConfigHandler(policy *usecase.SecurityConfigService) *SecurityConfigHandler {
	return &SecurityConfigHandler{policy: policy}
}

// RegisterRoutes binds the security config routes. The group is expected to
// carry RequireAuth and RequireAdmin already.
func (h *SecurityConfigHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/security-config", h.get)
	r.PUT("/security-config", h.update)
}

// Get godoc
// @Summary Read the active security configuration
// @Tags Admin
// @Produce json
// @Success 200 {object} domain.SecurityConfig
// @Router /api/v1/admin/security-config [get]
func (h *SecurityConfigHandler) get(c *gin.Context) {
	if h.policy == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "security config service unavailable"))
		return
	}

	cfg, err := h.policy.Get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to load security configuration"))
		return
	}

	c.JSON(http.StatusOK, cfg)
}

// Update godoc
// @Summary Update security configuration values
// @Description Applies a partial update. Every submitted value is range-checked before any is persisted; an out-of-range value rejects the whole update.
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body domain.SecurityConfigPatch true "Partial configuration"
// @Success 200 {object} domain.SecurityConfig
// @Failure 400 {object} ErrorResponse "Empty or out-of-range update"
// @Router /api/v1/admin/security-config [put]
func (h *SecurityConfigHandler) update(c *gin.Context) {
	if h.policy == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "security config service unavailable"))
		return
	}

	adminID, _, ok := middleware.GetAuthenticatedPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var patch domain.SecurityConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid configuration payload"))
		return
	}

	cfg, err := h.policy.Update(c.Request.Context(), adminID, patch)
	if err != nil {
		if errors.Is(err, usecase.ErrConfigOutOfRange) {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
			return
		}
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrConfigEmptyUpdate, Status: http.StatusBadRequest, Message: "no configuration values supplied"},
		}, http.StatusInternalServerError, "failed to update security configuration")
		return
	}

	c.JSON(http.StatusOK, cfg)
}
