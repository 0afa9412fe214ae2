package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/core/port"
)

// AuditRepository implements port.AuditRepository using PostgreSQL. The three
// tables are append-only; nothing here issues UPDATEs.
type AuditRepository struct {
	pool    pgPool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAuditRepository wires a PostgreSQL-backed audit repository.
func NewAuditRepository(pool pgPool) *AuditRepository {
	return &AuditRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// InsertEvent appends a generic security event.
func (r *AuditRepository) InsertEvent(ctx context.Context, event domain.AuditEvent) error {
	var detailsValue any
	if len(event.Details) > 0 {
		bytes, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		detailsValue = bytes
	}

	stmt, args, err := r.builder.Insert("netsafi.audit_events").
		Columns(
			"id",
			"principal_id",
			"kind",
			"action",
			"resource",
			"details",
			"ip_address",
			"user_agent",
			"success",
			"error_message",
			"created_at",
		).
		Values(
			event.ID,
			nullableString(event.PrincipalID),
			event.Kind,
			event.Action,
			event.Resource,
			detailsValue,
			nullableString(event.IP),
			nullableString(event.UserAgent),
			event.Success,
			nullableString(event.ErrorMessage),
			event.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert audit event sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	return nil
}

// InsertSignIn appends an authentication attempt record.
func (r *AuditRepository) InsertSignIn(ctx context.Context, record domain.SignInRecord) error {
	stmt, args, err := r.builder.Insert("netsafi.sign_in_records").
		Columns(
			"id",
			"principal_id",
			"kind",
			"login_id",
			"success",
			"failure_reason",
			"second_factor",
			"ip_address",
			"user_agent",
			"created_at",
		).
		Values(
			record.ID,
			nullableString(record.PrincipalID),
			record.Kind,
			record.LoginID,
			record.Success,
			nullableString(record.FailureReason),
			nullableString(record.SecondFactor),
			nullableString(record.IP),
			nullableString(record.UserAgent),
			record.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert sign-in record sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert sign-in record: %w", err)
	}

	return nil
}

// InsertPasswordReset appends a reset initiation or completion record.
func (r *AuditRepository) InsertPasswordReset(ctx context.Context, record domain.PasswordResetRecord) error {
	stmt, args, err := r.builder.Insert("netsafi.password_reset_records").
		Columns(
			"id",
			"principal_id",
			"kind",
			"action",
			"initiated_by",
			"delivery",
			"success",
			"detail",
			"ip_address",
			"created_at",
		).
		Values(
			record.ID,
			nullableString(record.PrincipalID),
			record.Kind,
			record.Action,
			nullableString(record.InitiatedBy),
			nullableString(record.Delivery),
			record.Success,
			nullableString(record.Detail),
			nullableString(record.IP),
			record.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert password reset record sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert password reset record: %w", err)
	}

	return nil
}

func applyAuditFilter(query squirrel.SelectBuilder, filter domain.AuditFilter) squirrel.SelectBuilder {
	if filter.PrincipalID != "" {
		query = query.Where(squirrel.Eq{"principal_id": filter.PrincipalID})
	}
	if filter.Kind != "" {
		query = query.Where(squirrel.Eq{"kind": filter.Kind})
	}
	if !filter.From.IsZero() {
		query = query.Where(squirrel.GtOrEq{"created_at": filter.From})
	}
	if !filter.To.IsZero() {
		query = query.Where(squirrel.Lt{"created_at": filter.To})
	}
	return query
}

// QueryEvents lists audit events matching the filter, newest first.
func (r *AuditRepository) QueryEvents(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error) {
	query := r.builder.
		Select(
			"id",
			"principal_id",
			"kind",
			"action",
			"resource",
			"details",
			"ip_address",
			"user_agent",
			"success",
			"error_message",
			"created_at",
		).
		From("netsafi.audit_events").
		OrderBy("created_at DESC")

	query = applyAuditFilter(query, filter)

	if filter.Action != "" {
		query = query.Where(squirrel.Eq{"action": filter.Action})
	}
	if filter.Resource != "" {
		query = query.Where(squirrel.Eq{"resource": filter.Resource})
	}
	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query audit events sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.AuditEvent, 0)
	for rows.Next() {
		var (
			event        domain.AuditEvent
			detailsBytes []byte
		)

		if err := rows.Scan(
			&event.ID,
			&event.PrincipalID,
			&event.Kind,
			&event.Action,
			&event.Resource,
			&detailsBytes,
			&event.IP,
			&event.UserAgent,
			&event.Success,
			&event.ErrorMessage,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		if len(detailsBytes) > 0 {
			if err := json.Unmarshal(detailsBytes, &event.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}

// SignInStats aggregates sign-in records over the filter window.
func (r *AuditRepository) SignInStats(ctx context.Context, filter domain.AuditFilter) (*domain.SignInStats, error) {
	query := r.builder.
		Select(
			"COUNT(*)",
			"COUNT(*) FILTER (WHERE success)",
			"COUNT(*) FILTER (WHERE NOT success)",
			"COUNT(*) FILTER (WHERE second_factor IS NOT NULL)",
			"COUNT(DISTINCT principal_id)",
			"COUNT(DISTINCT ip_address)",
		).
		From("netsafi.sign_in_records")

	query = applyAuditFilter(query, filter)

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sign-in stats sql: %w", err)
	}

	stats := domain.SignInStats{From: filter.From, To: filter.To}
	row := r.exec.QueryRow(ctx, stmt, args...)
	if err := row.Scan(
		&stats.Total,
		&stats.Succeeded,
		&stats.Failed,
		&stats.SecondFactorUsed,
		&stats.DistinctPrincipals,
		&stats.DistinctIPs,
	); err != nil {
		return nil, fmt.Errorf("scan sign-in stats: %w", err)
	}

	return &stats, nil
}

// DeleteOlderThan removes audit rows older than the cutoff across all three
// tables and returns the total removed.
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin audit cleanup transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var total int64
	for _, table := range []string{
		"netsafi.audit_events",
		"netsafi.sign_in_records",
		"netsafi.password_reset_records",
	} {
		stmt, args, err := r.builder.Delete(table).
			Where(squirrel.Lt{"created_at": cutoff}).
			ToSql()
		if err != nil {
			return 0, fmt.Errorf("build audit cleanup sql for %s: %w", table, err)
		}

		ct, err := tx.Exec(ctx, stmt, args...)
		if err != nil {
			return 0, fmt.Errorf("delete stale rows from %s: %w", table, err)
		}
		total += ct.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit audit cleanup transaction: %w", err)
	}

	return total, nil
}

var _ port.AuditRepository = (*AuditRepository)(nil)
