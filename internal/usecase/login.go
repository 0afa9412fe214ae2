package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/core/port"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/config"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/security"
	"github.com/gerizimschools-star/netsafi-iam/internal/repository"
)

// Second-factor methods accepted on sign-in.
const (
	SecondFactorMethodTOTP       = "totp"
	SecondFactorMethodBackupCode = "backup_code"
	SecondFactorMethodEmailOTP   = "email_otp"
	SecondFactorMethodSMSOTP     = "sms_otp"
)

// Login outcomes. A non-authenticated status means the caller must complete
// another step before a credential is issued.
const (
	LoginStatusAuthenticated             = "authenticated"
	LoginStatusSecondFactorRequired      = "second_factor_required"
	LoginStatusSecondFactorSetupRequired = "second_factor_setup_required"
)

var (
	// ErrLoginUnavailable indicates the service is not properly configured.
	ErrLoginUnavailable = errors.New("login service unavailable")
	// ErrInvalidCredentials covers both unknown login IDs and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPrincipalInactive indicates the account exists but is deactivated.
	ErrPrincipalInactive = errors.New("principal is inactive")
	// ErrPrincipalNotFound indicates the referenced principal does not exist.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrSecondFactorMethodInvalid indicates an unrecognized second-factor method.
	ErrSecondFactorMethodInvalid = errors.New("invalid second factor method")
)

// SecondFactorFailedError reports a rejected second-factor token. Remaining
// is -1 for TOTP and backup codes, which are not attempt-capped here.
type SecondFactorFailedError struct {
	Method    string
	Remaining int
}

func (e *SecondFactorFailedError) Error() string {
	if e.Remaining >= 0 {
		return fmt.Sprintf("second factor rejected: %d attempts remaining", e.Remaining)
	}
	return "second factor rejected"
}

// LoginInput carries one authentication attempt.
type LoginInput struct {
	LoginID            string
	Password           string
	Kind               domain.PrincipalKind
	SecondFactorToken  string
	SecondFactorMethod string
	IP                 string
	UserAgent          string
}

// LoginResult is the outcome of a successful step. Credential is set only
// when Status is authenticated.
type LoginResult struct {
	Status           string
	Credential       string
	Principal        *domain.Principal
	AvailableMethods []string
	SecondFactorUsed string
}

// LoginService runs the sign-in state machine: password check, lockout
// bookkeeping, second-factor enforcement, and credential issuance.
type LoginService struct {
	cfg        *config.AppConfig
	principals port.PrincipalDirectory
	lockout    *LockoutService
	twoFactor  *TwoFactorService
	otp        *OTPService
	issuer     *security.CredentialIssuer
	audit      *AuditService
	logger     *zap.Logger
	now        func() time.Time
}

// NewLoginService constructs a LoginService.
func NewLoginService(
	cfg *config.AppConfig,
	principals port.PrincipalDirectory,
	lockout *LockoutService,
	twoFactor *TwoFactorService,
	otp *OTPService,
	issuer *security.CredentialIssuer,
	audit *AuditService,
	log *zap.Logger,
) *LoginService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoginService{
		cfg:        cfg,
		principals: principals,
		lockout:    lockout,
		twoFactor:  twoFactor,
		otp:        otp,
		issuer:     issuer,
		audit:      audit,
		logger:     log,
		now:        time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *LoginService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Login executes one attempt. Every call, success or failure, produces
// exactly one sign-in record with a precise failure reason.
func (s *LoginService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	if s.principals == nil || s.lockout == nil {
		return nil, ErrLoginUnavailable
	}
	if !input.Kind.Valid() {
		return nil, fmt.Errorf("invalid principal kind %q", input.Kind)
	}

	loginID := strings.TrimSpace(input.LoginID)

	repo, err := s.principals.ForKind(input.Kind)
	if err != nil {
		return nil, err
	}

	principal, err := repo.GetByLoginID(ctx, loginID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.recordSignIn(ctx, nil, input, "unknown principal", "")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup principal: %w", err)
	}

	if !principal.IsActive {
		s.recordSignIn(ctx, principal, input, "principal inactive", "")
		return nil, ErrPrincipalInactive
	}

	locked, until, err := s.lockout.IsLocked(ctx, principal.ID, input.Kind)
	if err != nil {
		return nil, err
	}
	if locked {
		s.recordSignIn(ctx, principal, input, "account locked", "")
		return nil, &AccountLockedError{Until: *until}
	}

	match, err := security.VerifyPassword(input.Password, principal.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !match {
		lockedNow, lockedUntil, failErr := s.lockout.RecordFailure(ctx, *principal, input.IP, input.UserAgent)
		if failErr != nil {
			s.logger.Warn("record login failure failed",
				zap.String("principal_id", principal.ID),
				zap.Error(failErr),
			)
		}
		s.recordSignIn(ctx, principal, input, "wrong password", "")
		if lockedNow && lockedUntil != nil {
			return nil, &AccountLockedError{Until: *lockedUntil}
		}
		return nil, ErrInvalidCredentials
	}

	if principal.TwoFactorEnabled {
		if input.SecondFactorToken == "" {
			s.recordSignIn(ctx, principal, input, "second factor required", "")
			return &LoginResult{
				Status:           LoginStatusSecondFactorRequired,
				Principal:        principal,
				AvailableMethods: s.availableMethods(principal),
			}, nil
		}

		method, err := s.verifySecondFactor(ctx, principal, input)
		if err != nil {
			s.recordSignIn(ctx, principal, input, "second factor rejected", input.SecondFactorMethod)
			return nil, err
		}
		return s.succeed(ctx, repo, principal, input, method)
	}

	if s.twoFactor != nil && s.twoFactor.ShouldEnforce(input.Kind, principal.TwoFactorEnabled, principal.TwoFactorMandatory) {
		s.recordSignIn(ctx, principal, input, "second factor setup required", "")
		return &LoginResult{
			Status:    LoginStatusSecondFactorSetupRequired,
			Principal: principal,
		}, nil
	}

	return s.succeed(ctx, repo, principal, input, "")
}

func (s *LoginService) verifySecondFactor(ctx context.Context, principal *domain.Principal, input LoginInput) (string, error) {
	method := input.SecondFactorMethod
	if method == "" {
		method = SecondFactorMethodTOTP
	}

	switch method {
	case SecondFactorMethodTOTP, SecondFactorMethodBackupCode:
		if s.twoFactor == nil {
			return "", ErrLoginUnavailable
		}
		result, err := s.twoFactor.VerifyToken(ctx, *principal, input.SecondFactorToken)
		if err != nil {
			return "", err
		}
		if !result.Valid {
			return "", &SecondFactorFailedError{Method: method, Remaining: -1}
		}
		if result.UsedBackupCode {
			return SecondFactorMethodBackupCode, nil
		}
		return SecondFactorMethodTOTP, nil

	case SecondFactorMethodEmailOTP, SecondFactorMethodSMSOTP:
		if s.otp == nil {
			return "", ErrLoginUnavailable
		}
		result, err := s.otp.Verify(ctx, principal.ID, principal.Kind, domain.OTPPurposeLogin, input.SecondFactorToken)
		if err != nil {
			return "", err
		}
		if !result.Valid {
			return "", &SecondFactorFailedError{Method: method, Remaining: result.RemainingAttempts}
		}
		return method, nil
	}

	return "", ErrSecondFactorMethodInvalid
}

func (s *LoginService) succeed(ctx context.Context, repo port.PrincipalRepository, principal *domain.Principal, input LoginInput, method string) (*LoginResult, error) {
	now := s.now().UTC()

	if err := s.lockout.Reset(ctx, principal.ID, principal.Kind); err != nil {
		s.logger.Warn("reset lockout state failed",
			zap.String("principal_id", principal.ID),
			zap.Error(err),
		)
	}

	if err := repo.UpdateLastLogin(ctx, principal.ID, now); err != nil {
		s.logger.Warn("update last login failed",
			zap.String("principal_id", principal.ID),
			zap.Error(err),
		)
	}

	credential := ""
	if s.issuer != nil {
		signed, err := s.issuer.Issue(principal.ID, string(principal.Kind), now)
		if err != nil {
			return nil, fmt.Errorf("issue credential: %w", err)
		}
		credential = signed
	}

	s.recordSignInSuccess(ctx, principal, input, method)

	result := &LoginResult{
		Status:           LoginStatusAuthenticated,
		Credential:       credential,
		Principal:        principal,
		SecondFactorUsed: method,
	}
	return result, nil
}

// availableMethods lists the second-factor channels the principal can use,
// strongest first.
func (s *LoginService) availableMethods(principal *domain.Principal) []string {
	methods := []string{SecondFactorMethodTOTP}
	if len(principal.BackupCodeHashes) > 0 {
		methods = append(methods, SecondFactorMethodBackupCode)
	}
	if principal.HasEmail() {
		methods = append(methods, SecondFactorMethodEmailOTP)
	}
	if principal.HasPhone() {
		methods = append(methods, SecondFactorMethodSMSOTP)
	}
	return methods
}

func (s *LoginService) recordSignIn(ctx context.Context, principal *domain.Principal, input LoginInput, reason, method string) {
	if s.audit == nil {
		return
	}

	record := domain.SignInRecord{
		Kind:          input.Kind,
		LoginID:       strings.TrimSpace(input.LoginID),
		Success:       false,
		FailureReason: stringPtrOrNil(reason),
		SecondFactor:  stringPtrOrNil(method),
		IP:            stringPtrOrNil(input.IP),
		UserAgent:     stringPtrOrNil(input.UserAgent),
	}
	if principal != nil {
		record.PrincipalID = stringPtrOrNil(principal.ID)
	}
	s.audit.RecordSignIn(ctx, record)
}

func (s *LoginService) recordSignInSuccess(ctx context.Context, principal *domain.Principal, input LoginInput, method string) {
	if s.audit == nil {
		return
	}

	s.audit.RecordSignIn(ctx, domain.SignInRecord{
		PrincipalID:  stringPtrOrNil(principal.ID),
		Kind:         input.Kind,
		LoginID:      strings.TrimSpace(input.LoginID),
		Success:      true,
		SecondFactor: stringPtrOrNil(method),
		IP:           stringPtrOrNil(input.IP),
		UserAgent:    stringPtrOrNil(input.UserAgent),
	})
}
