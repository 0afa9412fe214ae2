// Package notify provides the development delivery channels. Production
// deployments swap these for real gateway clients behind the same ports.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/port"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/logger"
)

// LogEmailSender writes deliveries to the log instead of sending them.
// Codes are never logged, only the masked destination and purpose.
type LogEmailSender struct {
	logger *zap.Logger
}

var _ port.EmailSender = (*LogEmailSender)(nil)

// NewLogEmailSender constructs a LogEmailSender.
func NewLogEmailSender(log *zap.Logger) *LogEmailSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogEmailSender{logger: log}
}

// SendEmail logs the delivery and reports it as accepted.
func (s *LogEmailSender) SendEmail(_ context.Context, to, _, purpose string, expiresAt time.Time) (bool, error) {
	s.logger.Info("email delivery (dev channel)",
		zap.String("to", logger.MaskEmail(to)),
		zap.String("purpose", purpose),
		zap.Time("expires_at", expiresAt),
	)
	return true, nil
}

// LogSMSSender writes SMS deliveries to the log instead of sending them.
type LogSMSSender struct {
	logger *zap.Logger
}

var _ port.SMSSender = (*LogSMSSender)(nil)

// NewLogSMSSender constructs a LogSMSSender.
func NewLogSMSSender(log *zap.Logger) *LogSMSSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSMSSender{logger: log}
}

// SendSMS logs the delivery and reports it as accepted.
func (s *LogSMSSender) SendSMS(_ context.Context, to, _, purpose string, expiresAt time.Time) (bool, error) {
	s.logger.Info("sms delivery (dev channel)",
		zap.String("to", logger.MaskPhone(to)),
		zap.String("purpose", purpose),
		zap.Time("expires_at", expiresAt),
	)
	return true, nil
}
