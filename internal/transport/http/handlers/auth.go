package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/telemetry"
	"github.com/gerizimschools-star/netsafi-iam/internal/transport/http/middleware"
	"github.com/gerizimschools-star/netsafi-iam/internal/usecase"
)

// AuthHandler exposes authentication and OTP endpoints.
type AuthHandler struct {
	login   *usecase.LoginService
	otp     *usecase.OTPService
	metrics *telemetry.Provider
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(login *usecase.LoginService, otp *usecase.OTPService, metrics *telemetry.Provider) *AuthHandler {
	return &AuthHandler{
		login:   login,
		otp:     otp,
		metrics: metrics,
	}
}

// RegisterRoutes binds authentication routes, applying optional middleware ahead of the login handler.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, loginMiddlewares ...gin.HandlerFunc) {
	if len(loginMiddlewares) > 0 {
		chain := append([]gin.HandlerFunc{}, loginMiddlewares...)
		chain = append(chain, h.handleLogin)
		r.POST("/login", chain...)
	} else {
		r.POST("/login", h.handleLogin)
	}

	r.POST("/otp/request", h.requestOTP)
	r.POST("/otp/verify", h.verifyOTP)
}

// Login godoc
// @Summary Authenticate a principal with credentials
// @Description Validates the login ID and password, enforcing lockout and second-factor policy before issuing a credential.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} LoginResponse "Authenticated or challenge issued"
// @Failure 400 {object} ErrorResponse "Invalid request payload"
// @Failure 401 {object} ErrorResponse "Invalid credentials or second factor"
// @Failure 403 {object} ErrorResponse "Account inactive"
// @Failure 423 {object} LockedResponse "Account locked"
// @Failure 429 {object} middleware.ProblemDetails "Rate limit exceeded"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) handleLogin(c *gin.Context) {
	if h.login == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "login service unavailable"))
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	kind := domain.PrincipalKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid principal kind"))
		return
	}

	input := usecase.LoginInput{
		LoginID:            strings.TrimSpace(req.LoginID),
		Password:           req.Password,
		Kind:               kind,
		SecondFactorToken:  strings.TrimSpace(req.SecondFactorToken),
		SecondFactorMethod: strings.TrimSpace(req.SecondFactorMethod),
		IP:                 strings.TrimSpace(c.ClientIP()),
		UserAgent:          strings.TrimSpace(c.Request.UserAgent()),
	}

	result, err := h.login.Login(c.Request.Context(), input)
	if err != nil {
		h.metrics.RecordSignIn(string(kind), "failure")
		h.respondLoginError(c, err)
		return
	}

	switch result.Status {
	case usecase.LoginStatusAuthenticated:
		h.metrics.RecordSignIn(string(kind), "success")
		c.JSON(http.StatusOK, LoginResponse{
			Status:           result.Status,
			Credential:       result.Credential,
			TokenType:        "Bearer",
			Principal:        newPrincipalSummary(*result.Principal),
			SecondFactorUsed: result.SecondFactorUsed,
		})
	default:
		h.metrics.RecordSignIn(string(kind), "challenge")
		c.JSON(http.StatusOK, LoginChallengeResponse{
			Status:           result.Status,
			Principal:        newPrincipalSummary(*result.Principal),
			AvailableMethods: result.AvailableMethods,
		})
	}
}

func (h *AuthHandler) respondLoginError(c *gin.Context, err error) {
	var lockedErr *usecase.AccountLockedError
	if errors.As(err, &lockedErr) {
		h.metrics.RecordAccountLock()
		c.JSON(http.StatusLocked, LockedResponse{
			Error:       "account locked",
			LockedUntil: lockedErr.Until,
		})
		return
	}

	var secondFactorErr *usecase.SecondFactorFailedError
	if errors.As(err, &secondFactorErr) {
		resp := SecondFactorFailedResponse{Error: "second factor rejected"}
		if secondFactorErr.Remaining >= 0 {
			remaining := secondFactorErr.Remaining
			resp.RemainingAttempts = &remaining
		}
		c.JSON(http.StatusUnauthorized, resp)
		return
	}

	var rateErr *usecase.RateLimitExceededError
	if errors.As(err, &rateErr) {
		respondRateLimitExceeded(c, rateErr)
		return
	}

	RespondWithMappedError(c, err, []ErrorCase{
		{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
		{Err: usecase.ErrPrincipalInactive, Status: http.StatusForbidden, Message: "account inactive"},
		{Err: usecase.ErrSecondFactorMethodInvalid, Status: http.StatusBadRequest, Message: "invalid second factor method"},
		{Err: usecase.ErrTwoFactorNotConfigured, Status: http.StatusConflict, Message: "two-factor authentication not configured"},
		{Err: usecase.ErrLoginUnavailable, Status: http.StatusServiceUnavailable, Message: "login service unavailable"},
	}, http.StatusInternalServerError, "authentication failed")
}

// RequestOTP godoc
// @Summary Request a one-time code
// @Description Generates and delivers a one-time code over email or SMS, retiring any prior active code for the same purpose.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body OTPRequestPayload true "OTP request"
// @Success 200 {object} OTPRequestResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse "No contact method for the requested channel"
// @Failure 429 {object} middleware.ProblemDetails "Rate limit exceeded"
// @Failure 502 {object} ErrorResponse "Delivery channel rejected the message"
// @Router /api/v1/auth/otp/request [post]
func (h *AuthHandler) requestOTP(c *gin.Context) {
	if h.otp == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "otp service unavailable"))
		return
	}

	var req OTPRequestPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid otp request payload"))
		return
	}

	kind := domain.PrincipalKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid principal kind"))
		return
	}

	purpose := domain.OTPPurpose(strings.ToLower(strings.TrimSpace(req.Purpose)))
	method := domain.OTPDeliveryMethod(strings.ToLower(strings.TrimSpace(req.Method)))

	result, err := h.otp.Generate(c.Request.Context(), req.PrincipalID, kind, purpose, method, strings.TrimSpace(c.ClientIP()))
	if err != nil {
		var rateErr *usecase.RateLimitExceededError
		if errors.As(err, &rateErr) {
			respondRateLimitExceeded(c, rateErr)
			return
		}
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrPrincipalNotFound, Status: http.StatusNotFound, Message: "principal not found"},
			{Err: usecase.ErrOTPContactMissing, Status: http.StatusUnprocessableEntity, Message: "no contact method available for the requested channel"},
			{Err: usecase.ErrOTPDeliveryFailed, Status: http.StatusBadGateway, Message: "otp delivery failed, request a new code"},
		}, http.StatusBadRequest, "failed to generate otp")
		return
	}

	h.metrics.RecordOTPIssued(string(purpose), string(result.Delivery))

	c.JSON(http.StatusOK, OTPRequestResponse{
		OTPID:     result.OTPID,
		Delivery:  string(result.Delivery),
		ExpiresAt: result.ExpiresAt,
	})
}

// VerifyOTP godoc
// @Summary Verify a one-time code
// @Description Checks a submitted code against the active record, consuming it on success.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body OTPVerifyPayload true "OTP verification"
// @Success 200 {object} OTPVerifyResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/auth/otp/verify [post]
func (h *AuthHandler) verifyOTP(c *gin.Context) {
	if h.otp == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "otp service unavailable"))
		return
	}

	var req OTPVerifyPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid otp verification payload"))
		return
	}

	kind := domain.PrincipalKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid principal kind"))
		return
	}

	purpose := domain.OTPPurpose(strings.ToLower(strings.TrimSpace(req.Purpose)))

	result, err := h.otp.Verify(c.Request.Context(), req.PrincipalID, kind, purpose, strings.TrimSpace(req.Code))
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to verify otp"))
		return
	}

	c.JSON(http.StatusOK, OTPVerifyResponse{
		Valid:             result.Valid,
		Expired:           result.Expired,
		Locked:            result.Locked,
		RemainingAttempts: result.RemainingAttempts,
	})
}

func respondRateLimitExceeded(c *gin.Context, rateErr *usecase.RateLimitExceededError) {
	retryAfter := int(rateErr.RetryAfter / time.Second)
	if rateErr.RetryAfter%time.Second != 0 {
		retryAfter++
	}
	if retryAfter < 0 {
		retryAfter = 0
	}

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	problem := middleware.ProblemDetails{
		Type:       "https://iam.netsafi.example.com/errors/rate-limit-exceeded",
		Title:      "Rate Limit Exceeded",
		Status:     http.StatusTooManyRequests,
		Detail:     "Too many attempts. Try again later.",
		Instance:   instance,
		RetryAfter: retryAfter,
		TraceID:    middleware.GetTraceID(c),
	}

	c.JSON(http.StatusTooManyRequests, problem)
}
