// Package mail renders and delivers transactional email.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
)

// Message is a single transactional email.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Validate checks the message has a recipient and a body.
func (m *Message) Validate() error {
	if m.To == "" {
		return errors.New("email recipient is required")
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	if m.Text == "" && m.HTML == "" {
		return errors.New("email must have at least a text or html body")
	}
	return nil
}

// Mailer delivers a message. Implementations return an error when delivery was
// not accepted by the provider.
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

// FormatAddress renders a display-name address.
func FormatAddress(name, address string) string {
	if name == "" {
		return address
	}
	return (&mail.Address{Name: name, Address: address}).String()
}
