package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/core/port"
	"github.com/gerizimschools-star/netsafi-iam/internal/repository"
)

// ResetTokenRepository implements port.ResetTokenRepository using PostgreSQL.
// Only token hashes are stored; the plaintext leaves the process exactly once,
// inside the delivery message.
type ResetTokenRepository struct {
	pool    pgPool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewResetTokenRepository wires a PostgreSQL-backed reset token repository.
func NewResetTokenRepository(pool pgPool) *ResetTokenRepository {
	return &ResetTokenRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create invalidates prior unused tokens for the principal and inserts the
// new one inside a single transaction, so at most one redeemable token exists
// per principal.
func (r *ResetTokenRepository) Create(ctx context.Context, token domain.PasswordResetToken) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reset token transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	invalidateStmt := `
		UPDATE netsafi.password_reset_tokens
		   SET expires_at = LEAST(expires_at, $3)
		 WHERE principal_id = $1
		   AND kind = $2
		   AND used_at IS NULL
	`

	if _, err := tx.Exec(ctx, invalidateStmt, token.PrincipalID, token.Kind, token.CreatedAt); err != nil {
		return fmt.Errorf("invalidate prior reset tokens: %w", err)
	}

	insertStmt, insertArgs, err := r.builder.Insert("netsafi.password_reset_tokens").
		Columns(
			"id",
			"principal_id",
			"kind",
			"token_hash",
			"ip_address",
			"user_agent",
			"created_at",
			"expires_at",
			"used_at",
		).
		Values(
			token.ID,
			token.PrincipalID,
			token.Kind,
			token.TokenHash,
			nullableString(token.IP),
			nullableString(token.UserAgent),
			token.CreatedAt,
			token.ExpiresAt,
			token.UsedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert reset token sql: %w", err)
	}

	if _, err := tx.Exec(ctx, insertStmt, insertArgs...); err != nil {
		return fmt.Errorf("insert reset token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reset token transaction: %w", err)
	}

	return nil
}

// ListRedeemable returns unused, unexpired tokens for hash comparison.
func (r *ResetTokenRepository) ListRedeemable(ctx context.Context, now time.Time) ([]domain.PasswordResetToken, error) {
	stmt, args, err := r.builder.
		Select(
			"id",
			"principal_id",
			"kind",
			"token_hash",
			"ip_address",
			"user_agent",
			"created_at",
			"expires_at",
			"used_at",
		).
		From("netsafi.password_reset_tokens").
		Where("used_at IS NULL").
		Where(squirrel.Gt{"expires_at": now}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list redeemable tokens sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query redeemable tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]domain.PasswordResetToken, 0)
	for rows.Next() {
		var token domain.PasswordResetToken
		if err := rows.Scan(
			&token.ID,
			&token.PrincipalID,
			&token.Kind,
			&token.TokenHash,
			&token.IP,
			&token.UserAgent,
			&token.CreatedAt,
			&token.ExpiresAt,
			&token.UsedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reset token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reset tokens: %w", err)
	}

	return tokens, nil
}

// MarkUsed stamps the token as redeemed. Only an unused token can transition.
func (r *ResetTokenRepository) MarkUsed(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update("netsafi.password_reset_tokens").
		Set("used_at", at).
		Where(squirrel.Eq{"id": id}).
		Where("used_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark token used sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// InvalidateForPrincipal retires all outstanding tokens for a principal, used
// after admin resets and credential changes.
func (r *ResetTokenRepository) InvalidateForPrincipal(ctx context.Context, principalID string, kind domain.PrincipalKind) error {
	stmt := `
		UPDATE netsafi.password_reset_tokens
		   SET expires_at = LEAST(expires_at, NOW())
		 WHERE principal_id = $1
		   AND kind = $2
		   AND used_at IS NULL
	`

	if _, err := r.exec.Exec(ctx, stmt, principalID, kind); err != nil {
		return fmt.Errorf("invalidate reset tokens: %w", err)
	}

	return nil
}

var _ port.ResetTokenRepository = (*ResetTokenRepository)(nil)
