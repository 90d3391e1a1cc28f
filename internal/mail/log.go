package mail

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogMailer writes messages to the log instead of sending them. For local development.
type LogMailer struct {
	logger *logrus.Logger
}

// NewLogMailer creates a log-only mailer.
func NewLogMailer(logger *logrus.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send logs msg.
func (l *LogMailer) Send(_ context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	l.logger.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("Email not sent (log provider)\n" + msg.Text)
	return nil
}
