package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/client"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/mail"
)

const emailPath = "/notifications/email"

// Client submits transactional email to the relay. It satisfies mail.Mailer.
type Client struct {
	*client.OAuth2Client // Embedded - inherits all OAuth2Client methods

	from   string
	tags   []string
	logger *logrus.Logger
}

var _ mail.Mailer = (*Client)(nil)

// NewClient creates a new relay client.
//
// Parameters:
//   - oauth2Client: OAuth2-enabled HTTP client
//   - from: sender address, already formatted with a display name if any
//   - logger: Structured logger for relay operations
func NewClient(
	oauth2Client *client.OAuth2Client,
	from string,
	logger *logrus.Logger,
) *Client {
	return &Client{
		OAuth2Client: oauth2Client,
		from:         from,
		tags:         []string{"magic-link"},
		logger:       logger,
	}
}

// Send delivers msg through the relay.
func (c *Client) Send(ctx context.Context, msg *mail.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	_, err := c.SendEmail(ctx, &EmailRequest{
		To:      msg.To,
		From:    c.from,
		Subject: msg.Subject,
		Text:    msg.Text,
		HTML:    msg.HTML,
		Tags:    c.tags,
	})
	return err
}

// SendEmail queues one email on the relay. The relay answers 202 Accepted once
// the message is queued; any other status is an error.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - req: The email to queue
//
// Returns the relay's queue receipt, or error if the request fails.
func (c *Client) SendEmail(ctx context.Context, req *EmailRequest) (*EmailResponse, error) {
	log := c.logger.WithFields(logrus.Fields{
		"to":      req.To,
		"subject": req.Subject,
	})
	log.Debug("Sending email through relay")

	resp, err := c.DoWithAuth(ctx, http.MethodPost, emailPath, req)
	if err != nil {
		log.WithError(err).Error("Failed to reach mail relay")
		return nil, fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		errResp, parseErr := c.parseErrorResponse(resp)
		if parseErr != nil {
			return nil, fmt.Errorf("email relay failed with status %d", resp.StatusCode)
		}
		log.WithFields(logrus.Fields{
			"status":  resp.StatusCode,
			"error":   errResp.Error,
			"message": errResp.Message,
		}).Error("Mail relay rejected email")
		return nil, fmt.Errorf("email relay failed: %s", errResp.Message)
	}

	var emailResp EmailResponse
	if err := json.NewDecoder(resp.Body).Decode(&emailResp); err != nil {
		return nil, fmt.Errorf("failed to decode email relay response: %w", err)
	}

	log.WithField("notification_id", emailResp.NotificationID).Info("Email queued by relay")

	return &emailResp, nil
}

// parseErrorResponse parses an error response from the relay.
func (c *Client) parseErrorResponse(resp *http.Response) (*ErrorResponse, error) {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return nil, fmt.Errorf("failed to decode error response: %w", err)
	}
	return &errResp, nil
}
