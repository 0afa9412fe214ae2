package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/core/port"
	"github.com/gerizimschools-star/netsafi-iam/internal/repository"
)

// principalTable binds one principal kind to its backing table. Admins and
// resellers sign in by username, customers by email; everything else about
// the three tables is uniform.
type principalTable struct {
	kind        domain.PrincipalKind
	name        string
	loginColumn string
}

// PrincipalRepository implements port.PrincipalRepository for one kind.
type PrincipalRepository struct {
	pool    pgPool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	table   principalTable
}

func newPrincipalRepository(pool pgPool, table principalTable) *PrincipalRepository {
	return &PrincipalRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		table:   table,
	}
}

// NewAdminRepository wires the admins table.
func NewAdminRepository(pool pgPool) *PrincipalRepository {
	return newPrincipalRepository(pool, principalTable{
		kind:        domain.PrincipalKindAdmin,
		name:        "netsafi.admins",
		loginColumn: "username",
	})
}

// NewResellerRepository wires the resellers table.
func NewResellerRepository(pool pgPool) *PrincipalRepository {
	return newPrincipalRepository(pool, principalTable{
		kind:        domain.PrincipalKindReseller,
		name:        "netsafi.resellers",
		loginColumn: "username",
	})
}

// NewCustomerRepository wires the customers table.
func NewCustomerRepository(pool pgPool) *PrincipalRepository {
	return newPrincipalRepository(pool, principalTable{
		kind:        domain.PrincipalKindCustomer,
		name:        "netsafi.customers",
		loginColumn: "email",
	})
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *PrincipalRepository) WithTx(tx pgx.Tx) *PrincipalRepository {
	if tx == nil {
		return r
	}
	return &PrincipalRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
		table:   r.table,
	}
}

// Kind reports which principal population this repository serves.
func (r *PrincipalRepository) Kind() domain.PrincipalKind {
	return r.table.kind
}

func (r *PrincipalRepository) selectColumns() []string {
	return []string{
		"id",
		r.table.loginColumn,
		"email",
		"phone",
		"password_hash",
		"two_factor_secret",
		"two_factor_enabled",
		"two_factor_mandatory",
		"backup_code_hashes",
		"is_active",
		"last_login",
		"created_at",
	}
}

func (r *PrincipalRepository) scanPrincipal(row pgx.Row) (*domain.Principal, error) {
	var (
		principal domain.Principal
		email     sql.NullString
		phone     sql.NullString
		secret    sql.NullString
		lastLogin *time.Time
	)

	if err := row.Scan(
		&principal.ID,
		&principal.LoginID,
		&email,
		&phone,
		&principal.PasswordHash,
		&secret,
		&principal.TwoFactorEnabled,
		&principal.TwoFactorMandatory,
		&principal.BackupCodeHashes,
		&principal.IsActive,
		&lastLogin,
		&principal.CreatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan principal: %w", err)
	}

	principal.Kind = r.table.kind
	principal.LastLogin = lastLogin
	if email.Valid {
		val := email.String
		principal.Email = &val
	}
	if phone.Valid {
		val := phone.String
		principal.Phone = &val
	}
	if secret.Valid {
		val := secret.String
		principal.TwoFactorSecret = &val
	}

	return &principal, nil
}

// GetByLoginID retrieves a principal by its sign-in identifier.
func (r *PrincipalRepository) GetByLoginID(ctx context.Context, loginID string) (*domain.Principal, error) {
	stmt, args, err := r.builder.
		Select(r.selectColumns()...).
		From(r.table.name).
		Where(squirrel.Expr("LOWER("+r.table.loginColumn+") = LOWER(?)", loginID)).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select principal by login sql: %w", err)
	}

	return r.scanPrincipal(r.exec.QueryRow(ctx, stmt, args...))
}

// GetByID retrieves a principal by identifier.
func (r *PrincipalRepository) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	stmt, args, err := r.builder.
		Select(r.selectColumns()...).
		From(r.table.name).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select principal sql: %w", err)
	}

	return r.scanPrincipal(r.exec.QueryRow(ctx, stmt, args...))
}

// UpdateCredential replaces the stored password hash.
func (r *PrincipalRepository) UpdateCredential(ctx context.Context, id string, passwordHash string, changedAt time.Time) error {
	stmt, args, err := r.builder.Update(r.table.name).
		Set("password_hash", passwordHash).
		Set("password_changed_at", changedAt).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update credential sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// UpdateLastLogin stamps the most recent successful sign-in.
func (r *PrincipalRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update(r.table.name).
		Set("last_login", at).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update last login sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// UpdateTwoFactor stores the TOTP secret, enablement flag, and backup code hashes together.
func (r *PrincipalRepository) UpdateTwoFactor(ctx context.Context, id string, secret *string, enabled bool, backupCodeHashes []string) error {
	stmt, args, err := r.builder.Update(r.table.name).
		Set("two_factor_secret", nullableString(secret)).
		Set("two_factor_enabled", enabled).
		Set("backup_code_hashes", backupCodeHashes).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update two factor sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update two factor: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// UpdateBackupCodes replaces the remaining backup code hashes.
func (r *PrincipalRepository) UpdateBackupCodes(ctx context.Context, id string, backupCodeHashes []string) error {
	stmt, args, err := r.builder.Update(r.table.name).
		Set("backup_code_hashes", backupCodeHashes).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update backup codes sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update backup codes: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// PrincipalDirectory resolves the repository adapter for each kind.
type PrincipalDirectory struct {
	repos map[domain.PrincipalKind]port.PrincipalRepository
}

// NewPrincipalDirectory wires adapters for all three principal kinds.
func NewPrincipalDirectory(pool pgPool) *PrincipalDirectory {
	return &PrincipalDirectory{
		repos: map[domain.PrincipalKind]port.PrincipalRepository{
			domain.PrincipalKindAdmin:    NewAdminRepository(pool),
			domain.PrincipalKindReseller: NewResellerRepository(pool),
			domain.PrincipalKindCustomer: NewCustomerRepository(pool),
		},
	}
}

// ForKind returns the adapter serving the requested kind.
func (d *PrincipalDirectory) ForKind(kind domain.PrincipalKind) (port.PrincipalRepository, error) {
	repo, ok := d.repos[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported principal kind %q", kind)
	}
	return repo, nil
}

var (
	_ port.PrincipalRepository = (*PrincipalRepository)(nil)
	_ port.PrincipalDirectory  = (*PrincipalDirectory)(nil)
)
