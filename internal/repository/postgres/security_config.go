package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/port"
)

// SecurityConfigRepository implements port.SecurityConfigRepository using
// PostgreSQL. Only overrides are stored; defaults live in code.
type SecurityConfigRepository struct {
	pool    pgPool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSecurityConfigRepository wires a PostgreSQL-backed config repository.
func NewSecurityConfigRepository(pool pgPool) *SecurityConfigRepository {
	return &SecurityConfigRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// LoadAll returns every persisted override row.
func (r *SecurityConfigRepository) LoadAll(ctx context.Context) ([]port.ConfigEntry, error) {
	stmt, args, err := r.builder.
		Select("config_key", "config_value", "value_type").
		From("netsafi.security_config").
		OrderBy("config_key ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build load security config sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query security config: %w", err)
	}
	defer rows.Close()

	entries := make([]port.ConfigEntry, 0)
	for rows.Next() {
		var entry port.ConfigEntry
		if err := rows.Scan(&entry.Key, &entry.Value, &entry.Type); err != nil {
			return nil, fmt.Errorf("scan security config entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security config: %w", err)
	}

	return entries, nil
}

// UpsertAll persists the supplied entries in one transaction, so a partially
// applied update is never observable.
func (r *SecurityConfigRepository) UpsertAll(ctx context.Context, entries []port.ConfigEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin security config transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	stmt := `
		INSERT INTO netsafi.security_config (config_key, config_value, value_type, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (config_key) DO UPDATE
		   SET config_value = EXCLUDED.config_value,
		       value_type = EXCLUDED.value_type,
		       updated_at = EXCLUDED.updated_at
	`

	updatedAt := time.Now().UTC()
	for _, entry := range entries {
		if _, err := tx.Exec(ctx, stmt, entry.Key, entry.Value, entry.Type, updatedAt); err != nil {
			return fmt.Errorf("upsert security config %s: %w", entry.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit security config transaction: %w", err)
	}

	return nil
}

var _ port.SecurityConfigRepository = (*SecurityConfigRepository)(nil)
