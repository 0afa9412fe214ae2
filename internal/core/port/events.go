package port

import (
	"context"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
)

// EventPublisher publishes security events to the message bus.
type EventPublisher interface {
	PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error
	PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error
	PublishOTPIssued(ctx context.Context, event domain.OTPIssuedEvent) error
	PublishSecurityConfigChanged(ctx context.Context, event domain.SecurityConfigChangedEvent) error
}
