package postgres

import "github.com/jackc/pgx/v5/pgxpool"

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Principals       *PrincipalDirectory
	SecuritySettings *SecuritySettingsRepository
	OTP              *OTPRepository
	ResetTokens      *ResetTokenRepository
	Audit            *AuditRepository
	SecurityConfig   *SecurityConfigRepository
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Principals:       NewPrincipalDirectory(pool),
		SecuritySettings: NewSecuritySettingsRepository(pool),
		OTP:              NewOTPRepository(pool),
		ResetTokens:      NewResetTokenRepository(pool),
		Audit:            NewAuditRepository(pool),
		SecurityConfig:   NewSecurityConfigRepository(pool),
	}
}
