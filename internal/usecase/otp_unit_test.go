package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/core/port"
)

type otpFixture struct {
	service *OTPService
	otps    *testOTPRepo
	email   *testEmailSender
	sms     *testSMSSender
	audit   *testAuditRepo
	events  *testEventPublisher
	limits  *testRateLimitStore
	clock   *movableClock
}

func newOTPFixture(t *testing.T, principal *domain.Principal, overrides ...port.ConfigEntry) *otpFixture {
	t.Helper()

	clock := newMovableClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	directory := newTestDirectory(newTestPrincipalRepo(principal.Kind, principal))
	otps := newTestOTPRepo()
	email := newTestEmailSender()
	sms := &testSMSSender{}
	auditRepo := newTestAuditRepo()
	events := &testEventPublisher{}
	limits := newTestRateLimitStore()

	auditSvc := NewAuditService(auditRepo, nil)
	auditSvc.WithClock(clock.Now)

	policy := NewSecurityConfigService(newTestConfigStore(overrides...), auditSvc, events, nil)
	policy.WithClock(clock.Now)

	service := NewOTPService(newTestAppConfig(), directory, otps, policy, email, sms, limits, auditSvc, events, nil)
	service.WithClock(clock.Now)

	return &otpFixture{
		service: service,
		otps:    otps,
		email:   email,
		sms:     sms,
		audit:   auditRepo,
		events:  events,
		limits:  limits,
		clock:   clock,
	}
}

func TestOTPGenerateAndVerify(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "Sup3rSecret!pass")
	fx := newOTPFixture(t, principal)

	issued, err := fx.service.Generate(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, domain.OTPDeliveryEmail, "203.0.113.10")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if issued.Delivery != domain.OTPDeliveryEmail {
		t.Fatalf("expected email delivery, got %s", issued.Delivery)
	}

	to, code := fx.email.last()
	if to != *principal.Email {
		t.Fatalf("expected delivery to %s, got %s", *principal.Email, to)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}
	if fx.events.otpIssued != 1 {
		t.Fatalf("expected one otp issued event, got %d", fx.events.otpIssued)
	}

	result, err := fx.service.Verify(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, code)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !result.Valid {
		t.Fatal("expected valid verification")
	}
	if fx.otps.statusOf(issued.OTPID) != domain.OTPStatusUsed {
		t.Fatalf("expected record consumed, got status %s", fx.otps.statusOf(issued.OTPID))
	}

	// A consumed code never verifies again.
	again, err := fx.service.Verify(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, code)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if again.Valid || !again.Expired {
		t.Fatalf("expected no active record after consumption, got %+v", again)
	}
}

func TestOTPExpiry(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "Sup3rSecret!pass")
	fx := newOTPFixture(t, principal,
		port.ConfigEntry{Key: "otp_expiration_minutes", Value: "5", Type: "int"},
	)

	issued, err := fx.service.Generate(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, domain.OTPDeliveryEmail, "")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	_, code := fx.email.last()

	fx.clock.Advance(6 * time.Minute)

	result, err := fx.service.Verify(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, code)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if result.Valid {
		t.Fatal("expected expired code to be rejected")
	}
	if !result.Expired {
		t.Fatal("expected expired flag set")
	}
	if fx.otps.statusOf(issued.OTPID) != domain.OTPStatusExpired {
		t.Fatalf("expected record marked expired, got %s", fx.otps.statusOf(issued.OTPID))
	}
}

func TestOTPSingleActivePerPurpose(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "Sup3rSecret!pass")
	fx := newOTPFixture(t, principal)

	first, err := fx.service.Generate(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, domain.OTPDeliveryEmail, "")
	if err != nil {
		t.Fatalf("first Generate returned error: %v", err)
	}
	_, firstCode := fx.email.last()

	if _, err := fx.service.Generate(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, domain.OTPDeliveryEmail, ""); err != nil {
		t.Fatalf("second Generate returned error: %v", err)
	}
	_, secondCode := fx.email.last()

	if fx.otps.statusOf(first.OTPID) != domain.OTPStatusExpired {
		t.Fatalf("expected first record retired, got %s", fx.otps.statusOf(first.OTPID))
	}

	// Only the latest code is live; the superseded one counts as a miss.
	if firstCode != secondCode {
		result, err := fx.service.Verify(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, firstCode)
		if err != nil {
			t.Fatalf("Verify returned error: %v", err)
		}
		if result.Valid {
			t.Fatal("superseded code must not verify")
		}
	}

	result, err := fx.service.Verify(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, secondCode)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !result.Valid {
		t.Fatal("expected latest code to verify")
	}
}

func TestOTPAttemptCapLocksRecord(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "Sup3rSecret!pass")
	fx := newOTPFixture(t, principal,
		port.ConfigEntry{Key: "otp_max_attempts", Value: "3", Type: "int"},
	)

	issued, err := fx.service.Generate(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, domain.OTPDeliveryEmail, "")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	_, code := fx.email.last()

	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}

	for i := 0; i < 2; i++ {
		result, err := fx.service.Verify(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, wrong)
		if err != nil {
			t.Fatalf("Verify returned error: %v", err)
		}
		if result.Valid || result.Locked {
			t.Fatalf("attempt %d: expected plain rejection, got %+v", i+1, result)
		}
		if want := 3 - (i + 1); result.RemainingAttempts != want {
			t.Fatalf("attempt %d: expected %d remaining, got %d", i+1, want, result.RemainingAttempts)
		}
	}

	// The final wrong attempt exhausts the cap and locks the record.
	result, err := fx.service.Verify(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, wrong)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !result.Locked {
		t.Fatalf("expected locked result, got %+v", result)
	}
	if fx.otps.statusOf(issued.OTPID) != domain.OTPStatusLocked {
		t.Fatalf("expected record locked, got %s", fx.otps.statusOf(issued.OTPID))
	}

	// Even the right code is dead once the record is locked.
	after, err := fx.service.Verify(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, code)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if after.Valid {
		t.Fatal("locked record must not verify")
	}
}

func TestOTPDeliveryFailureRetiresRecord(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "Sup3rSecret!pass")
	fx := newOTPFixture(t, principal)
	fx.email.accepted = false

	_, err := fx.service.Generate(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, domain.OTPDeliveryEmail, "")
	if !errors.Is(err, ErrOTPDeliveryFailed) {
		t.Fatalf("expected ErrOTPDeliveryFailed, got %v", err)
	}

	// The undelivered record must not satisfy a later verification.
	result, verr := fx.service.Verify(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, "123456")
	if verr != nil {
		t.Fatalf("Verify returned error: %v", verr)
	}
	if !result.Expired {
		t.Fatalf("expected no active record, got %+v", result)
	}

	// Regeneration works immediately after the failure.
	fx.email.accepted = true
	if _, err := fx.service.Generate(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, domain.OTPDeliveryEmail, ""); err != nil {
		t.Fatalf("expected regeneration to succeed, got %v", err)
	}
}

func TestOTPContactMissing(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "Sup3rSecret!pass")
	principal.Phone = nil
	fx := newOTPFixture(t, principal)

	_, err := fx.service.Generate(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, domain.OTPDeliverySMS, "")
	if !errors.Is(err, ErrOTPContactMissing) {
		t.Fatalf("expected ErrOTPContactMissing, got %v", err)
	}
}

func TestOTPRequestRateLimited(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "Sup3rSecret!pass")
	fx := newOTPFixture(t, principal)

	for i := 0; i < 5; i++ {
		if _, err := fx.service.Generate(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, domain.OTPDeliveryEmail, ""); err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
	}

	_, err := fx.service.Generate(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, domain.OTPDeliveryEmail, "")
	var rateErr *RateLimitExceededError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitExceededError, got %v", err)
	}

	// The window slides; after it passes requests flow again.
	fx.clock.Advance(2 * time.Minute)
	if _, err := fx.service.Generate(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, domain.OTPDeliveryEmail, ""); err != nil {
		t.Fatalf("expected request after window to succeed, got %v", err)
	}
}

func TestOTPResendThrottledWhileCodeLive(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "Sup3rSecret!pass")
	fx := newOTPFixture(t, principal)
	fx.service.cfg.RateLimit.OTPResendInterval = 30 * time.Second

	// First request finds no live code, so only the request window applies.
	if _, err := fx.service.Generate(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, domain.OTPDeliveryEmail, ""); err != nil {
		t.Fatalf("first Generate returned error: %v", err)
	}

	// One resend of a live code is allowed inside the interval.
	if _, err := fx.service.Generate(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, domain.OTPDeliveryEmail, ""); err != nil {
		t.Fatalf("first resend returned error: %v", err)
	}

	// A second resend inside the interval is throttled.
	_, err := fx.service.Generate(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, domain.OTPDeliveryEmail, "")
	var rateErr *RateLimitExceededError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitExceededError, got %v", err)
	}

	// Once the interval passes the resend flows again.
	fx.clock.Advance(31 * time.Second)
	if _, err := fx.service.Generate(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, domain.OTPDeliveryEmail, ""); err != nil {
		t.Fatalf("resend after interval returned error: %v", err)
	}
}

func TestOTPExpireStale(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "Sup3rSecret!pass")
	fx := newOTPFixture(t, principal,
		port.ConfigEntry{Key: "otp_expiration_minutes", Value: "5", Type: "int"},
	)

	issued, err := fx.service.Generate(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, domain.OTPDeliveryEmail, "")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	// Nothing is stale while the code is live.
	count, err := fx.service.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("ExpireStale returned error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no stale records, got %d", count)
	}

	fx.clock.Advance(6 * time.Minute)

	count, err = fx.service.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("ExpireStale returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one stale record, got %d", count)
	}
	if fx.otps.statusOf(issued.OTPID) != domain.OTPStatusExpired {
		t.Fatalf("expected record expired, got %s", fx.otps.statusOf(issued.OTPID))
	}
}

func TestOTPHasActive(t *testing.T) {
	principal := newTestPrincipal(t, domain.PrincipalKindCustomer, "alice", "Sup3rSecret!pass")
	fx := newOTPFixture(t, principal)

	active, err := fx.service.HasActive(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin)
	if err != nil {
		t.Fatalf("HasActive returned error: %v", err)
	}
	if active {
		t.Fatal("expected no active code before generation")
	}

	if _, err := fx.service.Generate(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin, domain.OTPDeliveryEmail, ""); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	active, err = fx.service.HasActive(context.Background(), principal.ID, principal.Kind, domain.OTPPurposeLogin)
	if err != nil {
		t.Fatalf("HasActive returned error: %v", err)
	}
	if !active {
		t.Fatal("expected active code after generation")
	}
}
