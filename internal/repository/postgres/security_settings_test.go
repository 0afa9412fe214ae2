package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
)

func TestSecuritySettingsRepository_RecordFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewSecuritySettingsRepository(mock)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO netsafi\.security_settings`).
		WithArgs("customer-1", domain.PrincipalKindCustomer, at).
		WillReturnRows(pgxmock.NewRows([]string{"failed_attempts"}).AddRow(3))

	count, err := repo.RecordFailure(context.Background(), "customer-1", domain.PrincipalKindCustomer, at)
	if err != nil {
		t.Fatalf("RecordFailure returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected counter 3, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSecuritySettingsRepository_GetDefaultsWhenMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewSecuritySettingsRepository(mock)

	mock.ExpectQuery(`SELECT .+ FROM netsafi\.security_settings`).
		WithArgs(domain.PrincipalKindCustomer, "customer-404").
		WillReturnError(pgx.ErrNoRows)

	settings, err := repo.Get(context.Background(), "customer-404", domain.PrincipalKindCustomer)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if settings.FailedAttempts != 0 || settings.LockedUntil != nil {
		t.Fatalf("expected zeroed defaults, got %+v", settings)
	}
	if !settings.ForgotPasswordEnabled {
		t.Fatal("expected forgot-password enabled by default")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSecuritySettingsRepository_SetLock(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewSecuritySettingsRepository(mock)

	until := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO netsafi\.security_settings`).
		WithArgs("customer-1", domain.PrincipalKindCustomer, until, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.SetLock(context.Background(), "customer-1", domain.PrincipalKindCustomer, until); err != nil {
		t.Fatalf("SetLock returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
