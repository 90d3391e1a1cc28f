// Package notification provides a client for the mail relay API.
package notification

// EmailRequest is a single transactional email submitted to the relay.
type EmailRequest struct {
	// To is the recipient address.
	To string `json:"to"`
	// From is the sender, optionally with a display name.
	From string `json:"from"`
	// Subject is the email subject line.
	Subject string `json:"subject"`
	// Text is the plain-text body.
	Text string `json:"text,omitempty"`
	// HTML is the HTML body.
	HTML string `json:"html,omitempty"`
	// Tags label the message for relay-side reporting.
	Tags []string `json:"tags,omitempty"`
}

// EmailResponse is returned when the relay accepts a message for delivery.
type EmailResponse struct {
	// NotificationID is the relay's identifier for the queued message.
	NotificationID string `json:"notification_id"`
	// Status is the queue status, normally "queued".
	Status string `json:"status"`
	// Message is a human-readable status message.
	Message string `json:"message"`
}

// ErrorResponse represents an error response from the relay.
type ErrorResponse struct {
	// Error is the error code/type.
	Error string `json:"error"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Detail provides additional error details (optional).
	Detail string `json:"detail,omitempty"`
	// Errors contains field-specific validation errors (optional).
	Errors map[string]interface{} `json:"errors,omitempty"`
}
