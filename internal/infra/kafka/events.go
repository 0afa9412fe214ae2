package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/core/port"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID     string           `json:"event_id"`
	EventType   string           `json:"event_type"`
	PrincipalID string           `json:"principal_id,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Version     string           `json:"version"`
	Payload     any              `json:"payload"`
	Metadata    envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, principalID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:     id,
		EventType:   eventType,
		PrincipalID: principalID,
		Timestamp:   ts.UTC(),
		Version:     schemaVersion,
		Payload:     payload,
		Metadata:    metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishAccountLocked publishes iam.account.locked events.
func (p *EventPublisher) PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error {
	payload := struct {
		PrincipalID    string         `json:"principal_id"`
		Kind           string         `json:"kind"`
		FailedAttempts int            `json:"failed_attempts"`
		LockedUntil    time.Time      `json:"locked_until"`
		LockedAt       time.Time      `json:"locked_at"`
		IPAddress      *string        `json:"ip_address,omitempty"`
		Metadata       map[string]any `json:"metadata,omitempty"`
	}{
		PrincipalID:    event.PrincipalID,
		Kind:           string(event.Kind),
		FailedAttempts: event.FailedAttempts,
		LockedUntil:    event.LockedUntil,
		LockedAt:       event.LockedAt,
		IPAddress:      event.IPAddress,
		Metadata:       event.Metadata,
	}
	return p.publish(ctx, event.EventID, "iam.account.locked", event.PrincipalID, event.LockedAt, payload)
}

// PublishPasswordChanged publishes iam.password.changed events.
func (p *EventPublisher) PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error {
	payload := struct {
		PrincipalID string         `json:"principal_id"`
		Kind        string         `json:"kind"`
		ChangedAt   time.Time      `json:"changed_at"`
		ChangedBy   string         `json:"changed_by"`
		Source      string         `json:"source"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		PrincipalID: event.PrincipalID,
		Kind:        string(event.Kind),
		ChangedAt:   event.ChangedAt,
		ChangedBy:   event.ChangedBy,
		Source:      event.Source,
		Metadata:    event.Metadata,
	}
	return p.publish(ctx, event.EventID, "iam.password.changed", event.PrincipalID, event.ChangedAt, payload)
}

// PublishOTPIssued publishes iam.otp.issued events.
func (p *EventPublisher) PublishOTPIssued(ctx context.Context, event domain.OTPIssuedEvent) error {
	payload := struct {
		PrincipalID string         `json:"principal_id"`
		Kind        string         `json:"kind"`
		Purpose     string         `json:"purpose"`
		Delivery    string         `json:"delivery"`
		IssuedAt    time.Time      `json:"issued_at"`
		ExpiresAt   time.Time      `json:"expires_at"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		PrincipalID: event.PrincipalID,
		Kind:        string(event.Kind),
		Purpose:     string(event.Purpose),
		Delivery:    string(event.Delivery),
		IssuedAt:    event.IssuedAt,
		ExpiresAt:   event.ExpiresAt,
		Metadata:    event.Metadata,
	}
	return p.publish(ctx, event.EventID, "iam.otp.issued", event.PrincipalID, event.IssuedAt, payload)
}

// PublishSecurityConfigChanged publishes iam.security_config.changed events.
func (p *EventPublisher) PublishSecurityConfigChanged(ctx context.Context, event domain.SecurityConfigChangedEvent) error {
	payload := struct {
		AdminID   string         `json:"admin_id"`
		ChangedAt time.Time      `json:"changed_at"`
		Changed   map[string]any `json:"changed"`
	}{
		AdminID:   event.AdminID,
		ChangedAt: event.ChangedAt,
		Changed:   event.Changed,
	}
	return p.publish(ctx, event.EventID, "iam.security_config.changed", event.AdminID, event.ChangedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
