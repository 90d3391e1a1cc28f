package mail

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	gomail "github.com/wneessen/go-mail"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
)

// SMTPMailer delivers through an SMTP relay.
type SMTPMailer struct {
	cfg    *config.MailConfig
	logger *logrus.Logger
}

// NewSMTPMailer creates an SMTP mailer.
func NewSMTPMailer(cfg *config.MailConfig, logger *logrus.Logger) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, logger: logger}
}

// Send dials the SMTP server and delivers msg.
func (s *SMTPMailer) Send(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	m, err := s.buildMsg(msg)
	if err != nil {
		return err
	}

	opts := []gomail.Option{
		gomail.WithPort(s.cfg.SMTPPort),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, gomail.WithTimeout(s.cfg.Timeout))
	}
	if s.cfg.SMTPUsername != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthLogin),
			gomail.WithUsername(s.cfg.SMTPUsername),
			gomail.WithPassword(s.cfg.SMTPPassword),
		)
	}

	client, err := gomail.NewClient(s.cfg.SMTPHost, opts...)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		s.logger.WithError(err).WithField("smtp_host", s.cfg.SMTPHost).Error("SMTP delivery failed")
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.WithField("subject", msg.Subject).Debug("Email sent via SMTP")
	return nil
}

func (s *SMTPMailer) buildMsg(msg *Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()

	if err := m.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	m.Subject(msg.Subject)

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBodyString(gomail.TypeTextPlain, msg.Text)
		m.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	case msg.HTML != "":
		m.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	default:
		m.SetBodyString(gomail.TypeTextPlain, msg.Text)
	}

	return m, nil
}
