package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/core/port"
	"github.com/gerizimschools-star/netsafi-iam/internal/repository"
)

// OTPRepository implements port.OTPRepository using PostgreSQL.
type OTPRepository struct {
	pool    pgPool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewOTPRepository wires a PostgreSQL-backed OTP repository.
func NewOTPRepository(pool pgPool) *OTPRepository {
	return &OTPRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// CreateActive expires any active record for the same principal and purpose,
// then inserts the new one. Both statements run in one transaction so at most
// one active record exists per (principal, purpose) at any time.
func (r *OTPRepository) CreateActive(ctx context.Context, record domain.OTPRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin otp transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	expireStmt, expireArgs, err := r.builder.Update("netsafi.otp_records").
		Set("status", domain.OTPStatusExpired).
		Where(squirrel.Eq{
			"principal_id": record.PrincipalID,
			"kind":         record.Kind,
			"purpose":      record.Purpose,
			"status":       domain.OTPStatusActive,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build expire active otp sql: %w", err)
	}

	if _, err := tx.Exec(ctx, expireStmt, expireArgs...); err != nil {
		return fmt.Errorf("expire active otp: %w", err)
	}

	insertStmt, insertArgs, err := r.builder.Insert("netsafi.otp_records").
		Columns(
			"id",
			"principal_id",
			"kind",
			"purpose",
			"code_hash",
			"expires_at",
			"max_attempts",
			"attempts_used",
			"status",
			"created_at",
		).
		Values(
			record.ID,
			record.PrincipalID,
			record.Kind,
			record.Purpose,
			record.CodeHash,
			record.ExpiresAt,
			record.MaxAttempts,
			record.AttemptsUsed,
			record.Status,
			record.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert otp sql: %w", err)
	}

	if _, err := tx.Exec(ctx, insertStmt, insertArgs...); err != nil {
		return fmt.Errorf("insert otp: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit otp transaction: %w", err)
	}

	return nil
}

// GetActive retrieves the single active record for a principal and purpose.
func (r *OTPRepository) GetActive(ctx context.Context, principalID string, kind domain.PrincipalKind, purpose domain.OTPPurpose) (*domain.OTPRecord, error) {
	stmt, args, err := r.builder.
		Select(
			"id",
			"principal_id",
			"kind",
			"purpose",
			"code_hash",
			"expires_at",
			"max_attempts",
			"attempts_used",
			"status",
			"created_at",
		).
		From("netsafi.otp_records").
		Where(squirrel.Eq{
			"principal_id": principalID,
			"kind":         kind,
			"purpose":      purpose,
			"status":       domain.OTPStatusActive,
		}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select active otp sql: %w", err)
	}

	var record domain.OTPRecord
	row := r.exec.QueryRow(ctx, stmt, args...)
	if err := row.Scan(
		&record.ID,
		&record.PrincipalID,
		&record.Kind,
		&record.Purpose,
		&record.CodeHash,
		&record.ExpiresAt,
		&record.MaxAttempts,
		&record.AttemptsUsed,
		&record.Status,
		&record.CreatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan otp record: %w", err)
	}

	return &record, nil
}

// IncrementAttempts bumps the attempt counter and returns the new value.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	stmt := `
		UPDATE netsafi.otp_records
		   SET attempts_used = attempts_used + 1
		 WHERE id = $1
		RETURNING attempts_used
	`

	var attempts int
	if err := r.exec.QueryRow(ctx, stmt, id).Scan(&attempts); err != nil {
		if err == pgx.ErrNoRows {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}

	return attempts, nil
}

// SetStatus transitions a record to a terminal state.
func (r *OTPRepository) SetStatus(ctx context.Context, id string, status domain.OTPStatus) error {
	stmt, args, err := r.builder.Update("netsafi.otp_records").
		Set("status", status).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update otp status sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update otp status: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ExpireOlderThan marks stale active records expired and reports how many.
func (r *OTPRepository) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	stmt, args, err := r.builder.Update("netsafi.otp_records").
		Set("status", domain.OTPStatusExpired).
		Where(squirrel.Eq{"status": domain.OTPStatusActive}).
		Where(squirrel.Lt{"expires_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build expire stale otp sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("expire stale otp records: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

var _ port.OTPRepository = (*OTPRepository)(nil)
