package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/port"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/config"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/database"
	kafkainfra "github.com/gerizimschools-star/netsafi-iam/internal/infra/kafka"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/logger"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/notify"
	redisinfra "github.com/gerizimschools-star/netsafi-iam/internal/infra/redis"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/security"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/telemetry"
	postgresrepo "github.com/gerizimschools-star/netsafi-iam/internal/repository/postgres"
	redisrepo "github.com/gerizimschools-star/netsafi-iam/internal/repository/redis"
	"github.com/gerizimschools-star/netsafi-iam/internal/transport/http/middleware"
	"github.com/gerizimschools-star/netsafi-iam/internal/transport/http/routes"
	"github.com/gerizimschools-star/netsafi-iam/internal/usecase"
)

// Application owns the wired service graph and the HTTP server lifecycle.
type Application struct {
	cfg    *config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
	pool   *pgxpool.Pool
	redis  *redisinfra.Client
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metrics, err := telemetry.Attach(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	argonCfg := security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	}
	if err := security.ConfigureArgon2(argonCfg); err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	keyProvider, err := security.NewFileKeyProvider(cfg.Credential.KeyDirectory)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	issuer, err := security.NewCredentialIssuer(keyProvider, keyProvider.SigningKID(), cfg.App.Name, cfg.Credential.TTL)
	if err != nil {
		return nil, fmt.Errorf("init credential issuer: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)

	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(kafkaProducer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: "netsafi:rate-limit",
		TTL:       rateLimitWindow * 2,
	})

	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	emailSender := notify.NewLogEmailSender(log)
	smsSender := notify.NewLogSMSSender(log)

	auditService := usecase.NewAuditService(repos.Audit, log)
	configService := usecase.NewSecurityConfigService(repos.SecurityConfig, auditService, eventPublisher, log)
	lockoutService := usecase.NewLockoutService(repos.SecuritySettings, configService, auditService, eventPublisher, log)
	twoFactorService := usecase.NewTwoFactorService(repos.Principals, auditService, cfg.App.Name, log)
	otpService := usecase.NewOTPService(cfg, repos.Principals, repos.OTP, configService, emailSender, smsSender, rateLimitStore, auditService, eventPublisher, log)
	resetService := usecase.NewPasswordResetService(cfg, repos.Principals, repos.ResetTokens, repos.SecuritySettings, configService, lockoutService, emailSender, rateLimitStore, auditService, eventPublisher, log)
	loginService := usecase.NewLoginService(cfg, repos.Principals, lockoutService, twoFactorService, otpService, issuer, auditService, log)

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Issuer:      issuer,
		Metrics:     metrics,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Login:          loginService,
			OTP:            otpService,
			TwoFactor:      twoFactorService,
			PasswordReset:  resetService,
			Audit:          auditService,
			SecurityConfig: configService,
		},
	})

	return &Application{
		cfg:    cfg,
		engine: engine,
		logger: log,
		pool:   pool,
		redis:  redisClient,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting IAM API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
