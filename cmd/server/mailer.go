package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/client"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/client/notification"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/mail"
)

// newMailer builds the delivery backend selected by MAIL_PROVIDER.
func newMailer(cfg *config.Config, log *logrus.Logger) (mail.Mailer, error) {
	switch cfg.Mail.Provider {
	case config.MailProviderRelay:
		return newRelayMailer(cfg, log), nil
	case config.MailProviderSMTP:
		return mail.NewSMTPMailer(&cfg.Mail, log), nil
	case config.MailProviderResend:
		return mail.NewResendMailer(&cfg.Mail, log)
	case config.MailProviderLog:
		log.Warn("Magic links are logged instead of emailed")
		return mail.NewLogMailer(log), nil
	default:
		return nil, fmt.Errorf("unsupported mail provider: %s", cfg.Mail.Provider)
	}
}

func newRelayMailer(cfg *config.Config, log *logrus.Logger) *notification.Client {
	baseURL := strings.TrimRight(cfg.GetServiceURLs().MailRelayBaseURL, "/")

	tokenURL := cfg.Mail.RelayTokenURL
	if tokenURL == "" {
		tokenURL = baseURL + "/oauth/token"
	}

	oauth2Client := client.NewOAuth2Client(
		client.NewBaseClient(baseURL, cfg.Mail.Timeout, log),
		clientcredentials.Config{
			ClientID:     cfg.Mail.RelayClientID,
			ClientSecret: cfg.Mail.RelayClientSecret,
			TokenURL:     tokenURL,
		},
	)

	log.WithField("relay", baseURL).Info("Using mail relay")
	return notification.NewClient(oauth2Client, mail.FormatAddress(cfg.Mail.FromName, cfg.Mail.From), log)
}
