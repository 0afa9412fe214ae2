package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for
// development environments without brokers.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, principalID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("stub event published",
		zap.String("event_type", eventType),
		zap.String("principal_id", principalID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishAccountLocked logs iam.account.locked events.
func (p *StubPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	payload := map[string]any{
		"kind":            event.Kind,
		"failed_attempts": event.FailedAttempts,
		"locked_until":    event.LockedUntil,
		"metadata":        event.Metadata,
	}
	p.logEvent("iam.account.locked", event.PrincipalID, event.LockedAt, payload)
	return nil
}

// PublishPasswordChanged logs iam.password.changed events.
func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	payload := map[string]any{
		"kind":       event.Kind,
		"changed_by": event.ChangedBy,
		"source":     event.Source,
		"metadata":   event.Metadata,
	}
	p.logEvent("iam.password.changed", event.PrincipalID, event.ChangedAt, payload)
	return nil
}

// PublishOTPIssued logs iam.otp.issued events.
func (p *StubPublisher) PublishOTPIssued(_ context.Context, event domain.OTPIssuedEvent) error {
	payload := map[string]any{
		"kind":       event.Kind,
		"purpose":    event.Purpose,
		"delivery":   event.Delivery,
		"expires_at": event.ExpiresAt,
		"metadata":   event.Metadata,
	}
	p.logEvent("iam.otp.issued", event.PrincipalID, event.IssuedAt, payload)
	return nil
}

// PublishSecurityConfigChanged logs iam.security_config.changed events.
func (p *StubPublisher) PublishSecurityConfigChanged(_ context.Context, event domain.SecurityConfigChangedEvent) error {
	payload := map[string]any{
		"changed": event.Changed,
	}
	p.logEvent("iam.security_config.changed", event.AdminID, event.ChangedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
