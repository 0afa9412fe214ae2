package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gerizimschools-star/netsafi-iam/internal/infra/config"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/security"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/telemetry"
	"github.com/gerizimschools-star/netsafi-iam/internal/transport/http/handlers"
	"github.com/gerizimschools-star/netsafi-iam/internal/transport/http/middleware"
	"github.com/gerizimschools-star/netsafi-iam/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Login          *usecase.LoginService
	OTP            *usecase.OTPService
	TwoFactor      *usecase.TwoFactorService
	PasswordReset  *usecase.PasswordResetService
	Audit          *usecase.AuditService
	SecurityConfig *usecase.SecurityConfigService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Services    ServiceSet
	Issuer      *security.CredentialIssuer
	Metrics     *telemetry.Provider
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))

	if httpMetrics, err := middleware.NewHTTPMetrics(nil); err != nil {
		deps.Logger.Warn("http metrics disabled", zap.Error(err))
	} else {
		r.Use(httpMetrics.Handler())
	}

	authMiddleware := middleware.RequireAuth(deps.Issuer)
	adminMiddleware := middleware.RequireAdmin()

	checks := make(map[string]handlers.ReadinessCheck, 2)
	if deps.Database != nil {
		checks["database"] = deps.Database.Ping
	}
	if deps.Cache != nil {
		checks["redis"] = deps.Cache.HealthCheck
	}

	healthHandler := handlers.NewHealthHandler(checks)
	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Ready)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")

		authHandler := handlers.NewAuthHandler(deps.Services.Login, deps.Services.OTP, deps.Metrics)
		authHandler.RegisterRoutes(authGroup, buildLoginMiddlewares(deps)...)

		passwordHandler := handlers.NewPasswordHandler(deps.Services.PasswordReset, deps.Metrics)
		passwordHandler.RegisterRoutes(authGroup)

		twoFactorHandler := handlers.NewTwoFactorHandler(deps.Services.TwoFactor)
		twoFactorGroup := authGroup.Group("")
		twoFactorGroup.Use(authMiddleware)
		twoFactorHandler.RegisterRoutes(twoFactorGroup)

		adminGroup := api.Group("/admin")
		adminGroup.Use(authMiddleware, adminMiddleware)

		passwordHandler.RegisterAdminRoutes(adminGroup)

		auditHandler := handlers.NewAuditHandler(deps.Services.Audit, deps.Services.SecurityConfig, deps.Services.OTP)
		auditHandler.RegisterRoutes(adminGroup)

		configHandler := handlers.NewSecurityConfigHandler(deps.Services.SecurityConfig)
		configHandler.RegisterRoutes(adminGroup)
	}

	return r
}

func buildLoginMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.Config.RateLimit.LoginIPMaxAttempts
	if limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       "auth_login_ip",
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
