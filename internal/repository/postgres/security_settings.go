package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/core/port"
)

// SecuritySettingsRepository implements port.SecuritySettingsRepository using
// PostgreSQL. Rows are created lazily; a principal with no row has zero
// failures, no lock, and forgot-password enabled.
type SecuritySettingsRepository struct {
	pool    pgPool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSecuritySettingsRepository wires a PostgreSQL-backed settings repository.
func NewSecuritySettingsRepository(pool pgPool) *SecuritySettingsRepository {
	return &SecuritySettingsRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Get retrieves the settings row, or lazy defaults when none exists yet.
func (r *SecuritySettingsRepository) Get(ctx context.Context, principalID string, kind domain.PrincipalKind) (*domain.SecuritySettings, error) {
	stmt, args, err := r.builder.
		Select("principal_id", "kind", "failed_attempts", "locked_until", "forgot_password_enabled", "updated_at").
		From("netsafi.security_settings").
		Where(squirrel.Eq{"principal_id": principalID, "kind": kind}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select security settings sql: %w", err)
	}

	var (
		settings    domain.SecuritySettings
		lockedUntil *time.Time
	)

	row := r.exec.QueryRow(ctx, stmt, args...)
	if err := row.Scan(
		&settings.PrincipalID,
		&settings.Kind,
		&settings.FailedAttempts,
		&lockedUntil,
		&settings.ForgotPasswordEnabled,
		&settings.UpdatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return &domain.SecuritySettings{
				PrincipalID:           principalID,
				Kind:                  kind,
				ForgotPasswordEnabled: true,
			}, nil
		}
		return nil, fmt.Errorf("scan security settings: %w", err)
	}

	settings.LockedUntil = lockedUntil
	return &settings, nil
}

// RecordFailure atomically increments the failure counter, creating the row
// on first failure, and returns the new count.
func (r *SecuritySettingsRepository) RecordFailure(ctx context.Context, principalID string, kind domain.PrincipalKind, at time.Time) (int, error) {
	stmt := `
		INSERT INTO netsafi.security_settings (principal_id, kind, failed_attempts, forgot_password_enabled, updated_at)
		VALUES ($1, $2, 1, TRUE, $3)
		ON CONFLICT (principal_id, kind) DO UPDATE
		   SET failed_attempts = netsafi.security_settings.failed_attempts + 1,
		       updated_at = EXCLUDED.updated_at
		RETURNING failed_attempts
	`

	var count int
	if err := r.exec.QueryRow(ctx, stmt, principalID, kind, at).Scan(&count); err != nil {
		return 0, fmt.Errorf("record failed attempt: %w", err)
	}

	return count, nil
}

// SetLock records a lockout deadline for the principal.
func (r *SecuritySettingsRepository) SetLock(ctx context.Context, principalID string, kind domain.PrincipalKind, until time.Time) error {
	stmt := `
		INSERT INTO netsafi.security_settings (principal_id, kind, failed_attempts, locked_until, forgot_password_enabled, updated_at)
		VALUES ($1, $2, 0, $3, TRUE, $4)
		ON CONFLICT (principal_id, kind) DO UPDATE
		   SET locked_until = EXCLUDED.locked_until,
		       updated_at = EXCLUDED.updated_at
	`

	if _, err := r.exec.Exec(ctx, stmt, principalID, kind, until, time.Now().UTC()); err != nil {
		return fmt.Errorf("set lockout: %w", err)
	}

	return nil
}

// Reset clears the failure counter and any active lock.
func (r *SecuritySettingsRepository) Reset(ctx context.Context, principalID string, kind domain.PrincipalKind) error {
	stmt, args, err := r.builder.Update("netsafi.security_settings").
		Set("failed_attempts", 0).
		Set("locked_until", nil).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"principal_id": principalID, "kind": kind}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build reset security settings sql: %w", err)
	}

	// No row means nothing to reset.
	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("reset security settings: %w", err)
	}

	return nil
}

// SetForgotPasswordEnabled toggles the self-service reset flag.
func (r *SecuritySettingsRepository) SetForgotPasswordEnabled(ctx context.Context, principalID string, kind domain.PrincipalKind, enabled bool) error {
	stmt := `
		INSERT INTO netsafi.security_settings (principal_id, kind, failed_attempts, forgot_password_enabled, updated_at)
		VALUES ($1, $2, 0, $3, $4)
		ON CONFLICT (principal_id, kind) DO UPDATE
		   SET forgot_password_enabled = EXCLUDED.forgot_password_enabled,
		       updated_at = EXCLUDED.updated_at
	`

	if _, err := r.exec.Exec(ctx, stmt, principalID, kind, enabled, time.Now().UTC()); err != nil {
		return fmt.Errorf("set forgot password flag: %w", err)
	}

	return nil
}

var _ port.SecuritySettingsRepository = (*SecuritySettingsRepository)(nil)
