package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/transport/http/middleware"
	"github.com/gerizimschools-star/netsafi-iam/internal/usecase"
)

// AuditHandler exposes the audit trail to administrators.
type AuditHandler struct {
	audit  *usecase.AuditService
	policy *usecase.SecurityConfigService
	otp    *usecase.OTPService
}

// NewAuditHandler constructs AuditHandler.
func NewAuditHandler(audit *usecase.AuditService, policy *usecase.SecurityConfigService, otp *usecase.OTPService) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		policy: policy,
		otp:    otp,
	}
}

// RegisterRoutes binds the audit routes. The group is expected to carry
// RequireAuth and RequireAdmin already.
func (h *AuditHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit/events", h.listEvents)
	r.GET("/audit/sign-in-stats", h.signInStats)
	r.POST("/audit/cleanup", h.cleanup)
}

// ListEvents godoc
// @Summary Query the audit trail
// @Tags Admin
// @Produce json
// @Param principal_id query string false "Filter by principal ID"
// @Param kind query string false "Filter by principal kind"
// @Param action query string false "Filter by action"
// @Param resource query string false "Filter by resource"
// @Param from query string false "Start of window (RFC 3339)"
// @Param to query string false "End of window (RFC 3339)"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} AuditEventListResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/admin/audit/events [get]
func (h *AuditHandler) listEvents(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "audit service unavailable"))
		return
	}

	filter, err := parseAuditFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}

	events, err := h.audit.Query(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to query audit events"))
		return
	}

	payloads := make([]AuditEventPayload, 0, len(events))
	for _, event := range events {
		payloads = append(payloads, newAuditEventPayload(event))
	}

	c.JSON(http.StatusOK, AuditEventListResponse{
		Events: payloads,
		Count:  len(payloads),
	})
}

// SignInStats godoc
// @Summary Aggregate sign-in statistics over a window
// @Tags Admin
// @Produce json
// @Param from query string false "Start of window (RFC 3339)"
// @Param to query string false "End of window (RFC 3339)"
// @Param kind query string false "Filter by principal kind"
// @Success 200 {object} SignInStatsResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/admin/audit/sign-in-stats [get]
func (h *AuditHandler) signInStats(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "audit service unavailable"))
		return
	}

	filter, err := parseAuditFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}

	stats, err := h.audit.SignInStats(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to compute sign-in statistics"))
		return
	}

	c.JSON(http.StatusOK, SignInStatsResponse{
		Total:              stats.Total,
		Succeeded:          stats.Succeeded,
		Failed:             stats.Failed,
		SecondFactorUsed:   stats.SecondFactorUsed,
		DistinctPrincipals: stats.DistinctPrincipals,
		DistinctIPs:        stats.DistinctIPs,
		From:               stats.From,
		To:                 stats.To,
	})
}

// Cleanup godoc
// @Summary Delete audit records older than the retention window
// @Tags Admin
// @Produce json
// @Success 200 {object} AuditCleanupResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/admin/audit/cleanup [post]
func (h *AuditHandler) cleanup(c *gin.Context) {
	if h.audit == nil || h.policy == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "audit service unavailable"))
		return
	}

	adminID, _, ok := middleware.GetAuthenticatedPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	cfg, err := h.policy.Get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to load security configuration"))
		return
	}

	deleted, err := h.audit.Cleanup(c.Request.Context(), adminID, cfg.AuditLogRetentionDays)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to clean up audit records"))
		return
	}

	// The same sweep retires OTP records whose deadline has passed so the
	// active-code table does not accumulate stale rows between logins.
	var expiredOTPs int
	if h.otp != nil {
		expiredOTPs, err = h.otp.ExpireStale(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to expire stale otp records"))
			return
		}
	}

	c.JSON(http.StatusOK, AuditCleanupResponse{Deleted: deleted, ExpiredOTPRecords: expiredOTPs})
}

func parseAuditFilter(c *gin.Context) (domain.AuditFilter, error) {
	filter := domain.AuditFilter{
		PrincipalID: strings.TrimSpace(c.Query("principal_id")),
		Action:      strings.TrimSpace(c.Query("action")),
		Resource:    strings.TrimSpace(c.Query("resource")),
	}

	if raw := strings.TrimSpace(c.Query("kind")); raw != "" {
		kind := domain.PrincipalKind(strings.ToLower(raw))
		if !kind.Valid() {
			return filter, errInvalidFilter("invalid kind filter")
		}
		filter.Kind = kind
	}

	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errInvalidFilter("invalid from timestamp, expected RFC 3339")
		}
		filter.From = ts
	}

	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errInvalidFilter("invalid to timestamp, expected RFC 3339")
		}
		filter.To = ts
	}

	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, errInvalidFilter("invalid limit")
		}
		filter.Limit = limit
	}

	if raw := strings.TrimSpace(c.Query("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, errInvalidFilter("invalid offset")
		}
		filter.Offset = offset
	}

	return filter, nil
}

type errInvalidFilter string

func (e errInvalidFilter) Error() string { return string(e) }
