package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v3"
	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
)

// ResendMailer delivers through the Resend HTTP API.
type ResendMailer struct {
	client *resend.Client
	from   string
	logger *logrus.Logger
}

// NewResendMailer creates a Resend mailer.
func NewResendMailer(cfg *config.MailConfig, logger *logrus.Logger) (*ResendMailer, error) {
	if cfg.ResendAPIKey == "" {
		return nil, errors.New("resend API key is not set")
	}

	return &ResendMailer{
		client: resend.NewClient(cfg.ResendAPIKey),
		from:   FormatAddress(cfg.FromName, cfg.From),
		logger: logger,
	}, nil
}

// Send submits msg to Resend.
func (r *ResendMailer) Send(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	params := &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Text,
		Html:    msg.HTML,
	}

	sent, err := r.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		r.logger.WithError(err).WithField("provider", "resend").Error("Failed to send email via Resend")
		return fmt.Errorf("resend send failed: %w", err)
	}
	if sent == nil || sent.Id == "" {
		return errors.New("resend send failed: empty response")
	}

	r.logger.WithField("email_id", sent.Id).Debug("Email accepted by Resend")
	return nil
}
