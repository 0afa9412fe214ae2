package port

import (
	"context"
	"time"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
)

// PrincipalRepository exposes persistence behaviour for one principal kind.
// Core logic selects an adapter by kind and never branches on schema details.
type PrincipalRepository interface {
	Kind() domain.PrincipalKind
	GetByLoginID(ctx context.Context, loginID string) (*domain.Principal, error)
	GetByID(ctx context.Context, id string) (*domain.Principal, error)
	UpdateCredential(ctx context.Context, id string, passwordHash string, changedAt time.Time) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdateTwoFactor(ctx context.Context, id string, secret *string, enabled bool, backupCodeHashes []string) error
	UpdateBackupCodes(ctx context.Context, id string, backupCodeHashes []string) error
}

// PrincipalDirectory resolves the repository adapter for a kind.
type PrincipalDirectory interface {
	ForKind(kind domain.PrincipalKind) (PrincipalRepository, error)
}
