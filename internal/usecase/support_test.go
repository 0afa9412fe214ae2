package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	uuid "github.com/google/uuid"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/core/port"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/config"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/security"
	"github.com/gerizimschools-star/netsafi-iam/internal/repository"
)

// testPrincipalRepo is an in-memory PrincipalRepository for one kind.
type testPrincipalRepo struct {
	kind       domain.PrincipalKind
	mu         sync.Mutex
	principals map[string]*domain.Principal
}

func newTestPrincipalRepo(kind domain.PrincipalKind, principals ...*domain.Principal) *testPrincipalRepo {
	repo := &testPrincipalRepo{
		kind:       kind,
		principals: make(map[string]*domain.Principal),
	}
	for _, p := range principals {
		repo.principals[p.ID] = p
	}
	return repo
}

func (r *testPrincipalRepo) Kind() domain.PrincipalKind { return r.kind }

func (r *testPrincipalRepo) GetByLoginID(_ context.Context, loginID string) (*domain.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.principals {
		if p.LoginID == loginID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *testPrincipalRepo) GetByID(_ context.Context, id string) (*domain.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.principals[id]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (r *testPrincipalRepo) UpdateCredential(_ context.Context, id, passwordHash string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.principals[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.PasswordHash = passwordHash
	return nil
}

func (r *testPrincipalRepo) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.principals[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.LastLogin = &at
	return nil
}

func (r *testPrincipalRepo) UpdateTwoFactor(_ context.Context, id string, secret *string, enabled bool, backupCodeHashes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.principals[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.TwoFactorSecret = secret
	p.TwoFactorEnabled = enabled
	p.BackupCodeHashes = backupCodeHashes
	return nil
}

func (r *testPrincipalRepo) UpdateBackupCodes(_ context.Context, id string, backupCodeHashes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.principals[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.BackupCodeHashes = backupCodeHashes
	return nil
}

// testDirectory resolves kinds to in-memory repositories.
type testDirectory struct {
	repos map[domain.PrincipalKind]*testPrincipalRepo
}

func newTestDirectory(repos ...*testPrincipalRepo) *testDirectory {
	dir := &testDirectory{repos: make(map[domain.PrincipalKind]*testPrincipalRepo)}
	for _, repo := range repos {
		dir.repos[repo.kind] = repo
	}
	return dir
}

func (d *testDirectory) ForKind(kind domain.PrincipalKind) (port.PrincipalRepository, error) {
	if repo, ok := d.repos[kind]; ok {
		return repo, nil
	}
	return nil, fmt.Errorf("no repository for kind %q", kind)
}

// testSettingsRepo keeps per-principal lockout state in memory.
type testSettingsRepo struct {
	mu       sync.Mutex
	settings map[string]*domain.SecuritySettings
}

func newTestSettingsRepo() *testSettingsRepo {
	return &testSettingsRepo{settings: make(map[string]*domain.SecuritySettings)}
}

func settingsKey(principalID string, kind domain.PrincipalKind) string {
	return string(kind) + ":" + principalID
}

func (r *testSettingsRepo) Get(_ context.Context, principalID string, kind domain.PrincipalKind) (*domain.SecuritySettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.settings[settingsKey(principalID, kind)]; ok {
		copied := *s
		return &copied, nil
	}
	return &domain.SecuritySettings{PrincipalID: principalID, Kind: kind, ForgotPasswordEnabled: true}, nil
}

func (r *testSettingsRepo) RecordFailure(_ context.Context, principalID string, kind domain.PrincipalKind, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := settingsKey(principalID, kind)
	s, ok := r.settings[key]
	if !ok {
		s = &domain.SecuritySettings{PrincipalID: principalID, Kind: kind, ForgotPasswordEnabled: true}
		r.settings[key] = s
	}
	s.FailedAttempts++
	s.UpdatedAt = at
	return s.FailedAttempts, nil
}

func (r *testSettingsRepo) SetLock(_ context.Context, principalID string, kind domain.PrincipalKind, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := settingsKey(principalID, kind)
	s, ok := r.settings[key]
	if !ok {
		s = &domain.SecuritySettings{PrincipalID: principalID, Kind: kind, ForgotPasswordEnabled: true}
		r.settings[key] = s
	}
	s.LockedUntil = &until
	return nil
}

func (r *testSettingsRepo) Reset(_ context.Context, principalID string, kind domain.PrincipalKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := settingsKey(principalID, kind)
	s, ok := r.settings[key]
	if !ok {
		return nil
	}
	s.FailedAttempts = 0
	s.LockedUntil = nil
	return nil
}

func (r *testSettingsRepo) SetForgotPasswordEnabled(_ context.Context, principalID string, kind domain.PrincipalKind, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := settingsKey(principalID, kind)
	s, ok := r.settings[key]
	if !ok {
		s = &domain.SecuritySettings{PrincipalID: principalID, Kind: kind}
		r.settings[key] = s
	}
	s.ForgotPasswordEnabled = enabled
	return nil
}

// testOTPRepo mirrors the single-active-per-(principal, purpose) invariant.
type testOTPRepo struct {
	mu      sync.Mutex
	records map[string]*domain.OTPRecord
}

func newTestOTPRepo() *testOTPRepo {
	return &testOTPRepo{records: make(map[string]*domain.OTPRecord)}
}

func (r *testOTPRepo) CreateActive(_ context.Context, record domain.OTPRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.PrincipalID == record.PrincipalID &&
			existing.Purpose == record.Purpose &&
			existing.Status == domain.OTPStatusActive {
			existing.Status = domain.OTPStatusExpired
		}
	}
	copied := record
	r.records[record.ID] = &copied
	return nil
}

func (r *testOTPRepo) GetActive(_ context.Context, principalID string, kind domain.PrincipalKind, purpose domain.OTPPurpose) (*domain.OTPRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.PrincipalID == principalID && record.Kind == kind &&
			record.Purpose == purpose && record.Status == domain.OTPStatusActive {
			copied := *record
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *testOTPRepo) IncrementAttempts(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	record.AttemptsUsed++
	return record.AttemptsUsed, nil
}

func (r *testOTPRepo) SetStatus(_ context.Context, id string, status domain.OTPStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	record.Status = status
	return nil
}

func (r *testOTPRepo) ExpireOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, record := range r.records {
		if record.Status == domain.OTPStatusActive && record.ExpiresAt.Before(cutoff) {
			record.Status = domain.OTPStatusExpired
			count++
		}
	}
	return count, nil
}

func (r *testOTPRepo) statusOf(id string) domain.OTPStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.records[id]; ok {
		return record.Status
	}
	return ""
}

// testResetTokenRepo keeps reset tokens in memory.
type testResetTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*domain.PasswordResetToken
}

func newTestResetTokenRepo() *testResetTokenRepo {
	return &testResetTokenRepo{tokens: make(map[string]*domain.PasswordResetToken)}
}

func (r *testResetTokenRepo) Create(_ context.Context, token domain.PasswordResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tokens {
		if existing.PrincipalID == token.PrincipalID && existing.Kind == token.Kind && existing.UsedAt == nil {
			used := token.CreatedAt
			existing.UsedAt = &used
		}
	}
	copied := token
	r.tokens[token.ID] = &copied
	return nil
}

func (r *testResetTokenRepo) ListRedeemable(_ context.Context, now time.Time) ([]domain.PasswordResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PasswordResetToken, 0, len(r.tokens))
	for _, token := range r.tokens {
		if token.Redeemable(now) {
			out = append(out, *token)
		}
	}
	return out, nil
}

func (r *testResetTokenRepo) MarkUsed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[id]
	if !ok {
		return repository.ErrNotFound
	}
	token.UsedAt = &at
	return nil
}

func (r *testResetTokenRepo) InvalidateForPrincipal(_ context.Context, principalID string, kind domain.PrincipalKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.tokens {
		if token.PrincipalID == principalID && token.Kind == kind && token.UsedAt == nil {
			now := time.Now().UTC()
			token.UsedAt = &now
		}
	}
	return nil
}

func (r *testResetTokenRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

// testAuditRepo records everything written to the trail for assertions.
type testAuditRepo struct {
	mu         sync.Mutex
	events     []domain.AuditEvent
	signIns    []domain.SignInRecord
	resets     []domain.PasswordResetRecord
	deletedCut time.Time
}

func newTestAuditRepo() *testAuditRepo { return &testAuditRepo{} }

func (r *testAuditRepo) InsertEvent(_ context.Context, event domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *testAuditRepo) InsertSignIn(_ context.Context, record domain.SignInRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signIns = append(r.signIns, record)
	return nil
}

func (r *testAuditRepo) InsertPasswordReset(_ context.Context, record domain.PasswordResetRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, record)
	return nil
}

func (r *testAuditRepo) QueryEvents(_ context.Context, _ domain.AuditFilter) ([]domain.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuditEvent, len(r.events))
	copy(out, r.events)
	return out, nil
}

func (r *testAuditRepo) SignInStats(_ context.Context, _ domain.AuditFilter) (*domain.SignInStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &domain.SignInStats{Total: len(r.signIns)}
	for _, record := range r.signIns {
		if record.Success {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}
	return stats, nil
}

func (r *testAuditRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletedCut = cutoff
	return 0, nil
}

func (r *testAuditRepo) lastSignIn(t *testing.T) domain.SignInRecord {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.signIns) == 0 {
		t.Fatal("expected at least one sign-in record")
	}
	return r.signIns[len(r.signIns)-1]
}

func (r *testAuditRepo) signInCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signIns)
}

func (r *testAuditRepo) hasEventAction(action string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.Action == action {
			return true
		}
	}
	return false
}

// testConfigStore serves persisted policy override rows.
type testConfigStore struct {
	mu      sync.Mutex
	entries map[string]port.ConfigEntry
	loads   int
}

func newTestConfigStore(entries ...port.ConfigEntry) *testConfigStore {
	store := &testConfigStore{entries: make(map[string]port.ConfigEntry)}
	for _, entry := range entries {
		store.entries[entry.Key] = entry
	}
	return store
}

func (s *testConfigStore) LoadAll(context.Context) ([]port.ConfigEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	out := make([]port.ConfigEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	return out, nil
}

func (s *testConfigStore) UpsertAll(_ context.Context, entries []port.ConfigEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		s.entries[entry.Key] = entry
	}
	return nil
}

// testRateLimitStore tracks attempt timestamps per identifier.
type testRateLimitStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

func newTestRateLimitStore() *testRateLimitStore {
	return &testRateLimitStore{attempts: make(map[string][]time.Time)}
}

func (s *testRateLimitStore) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := reference.Add(-window)
	kept := s.attempts[identifier][:0]
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	s.attempts[identifier] = kept
	return nil
}

func (s *testRateLimitStore) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := reference.Add(-window)
	count := 0
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) {
			count++
		}
	}
	return count, nil
}

func (s *testRateLimitStore) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[identifier] = append(s.attempts[identifier], at)
	return nil
}

func (s *testRateLimitStore) OldestAttempt(_ context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := reference.Add(-window)
	var oldest time.Time
	found := false
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) && (!found || at.Before(oldest)) {
			oldest = at
			found = true
		}
	}
	return oldest, found, nil
}

// testEmailSender captures delivered codes so tests can redeem them.
type testEmailSender struct {
	mu       sync.Mutex
	accepted bool
	err      error
	lastTo   string
	lastCode string
	sent     int
}

func newTestEmailSender() *testEmailSender { return &testEmailSender{accepted: true} }

func (s *testEmailSender) SendEmail(_ context.Context, to, code, _ string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if !s.accepted {
		return false, nil
	}
	s.lastTo = to
	s.lastCode = code
	s.sent++
	return true, nil
}

func (s *testEmailSender) last() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTo, s.lastCode
}

type testSMSSender struct {
	mu       sync.Mutex
	lastCode string
}

func (s *testSMSSender) SendSMS(_ context.Context, _, code, _ string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCode = code
	return true, nil
}

// testEventPublisher counts published events per stream.
type testEventPublisher struct {
	mu             sync.Mutex
	locked         int
	passwordChange int
	otpIssued      int
	configChanged  int
}

func (p *testEventPublisher) PublishAccountLocked(context.Context, domain.AccountLockedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked++
	return nil
}

func (p *testEventPublisher) PublishPasswordChanged(context.Context, domain.PasswordChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.passwordChange++
	return nil
}

func (p *testEventPublisher) PublishOTPIssued(context.Context, domain.OTPIssuedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.otpIssued++
	return nil
}

func (p *testEventPublisher) PublishSecurityConfigChanged(context.Context, domain.SecurityConfigChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configChanged++
	return nil
}

func newTestAppConfig() *config.AppConfig {
	return &config.AppConfig{
		App: config.AppSettings{Name: "netsafi-iam-test", Env: "test"},
		RateLimit: config.RateLimitSettings{
			WindowDuration:           time.Minute,
			LoginIPMaxAttempts:       30,
			OTPRequestMaxAttempts:    5,
			PasswordResetMaxAttempts: 3,
		},
	}
}

func mustHashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return hash
}

func newTestPrincipal(t *testing.T, kind domain.PrincipalKind, loginID, password string) *domain.Principal {
	t.Helper()
	email := loginID + "@example.com"
	return &domain.Principal{
		ID:           uuid.NewString(),
		Kind:         kind,
		LoginID:      loginID,
		Email:        &email,
		PasswordHash: mustHashPassword(t, password),
		IsActive:     true,
		CreatedAt:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// movableClock lets tests advance time between calls.
type movableClock struct {
	mu sync.Mutex
	at time.Time
}

func newMovableClock(at time.Time) *movableClock {
	return &movableClock{at: at}
}

func (c *movableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *movableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}
