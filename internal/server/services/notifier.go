package services

import (
	"context"

	"github.com/dmitrijs2005/credkeeper/internal/logging"
)

// Notifier delivers out-of-band messages to a user.
type Notifier interface {
	SendMFACode(ctx context.Context, email, code string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// LogNotifier records that a message would have been sent. It never logs
// the code or token itself.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(l logging.Logger) *LogNotifier {
	return &LogNotifier{logger: l.With("module", "notifier")}
}

func (n *LogNotifier) SendMFACode(ctx context.Context, email, _ string) error {
	n.logger.Info(ctx, "mfa code dispatched", "email", email)
	return nil
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, email, _ string) error {
	n.logger.Info(ctx, "password reset dispatched", "email", email)
	return nil
}
