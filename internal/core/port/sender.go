package port

import (
	"context"
	"time"
)

// EmailSender delivers codes and reset links over email. Implementations are
// external collaborators; a false result means the message was not accepted.
type EmailSender interface {
	SendEmail(ctx context.Context, to, code, purpose string, expiresAt time.Time) (bool, error)
}

// SMSSender delivers codes over SMS.
type SMSSender interface {
	SendSMS(ctx context.Context, to, code, purpose string, expiresAt time.Time) (bool, error)
}
