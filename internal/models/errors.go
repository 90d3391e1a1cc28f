package models

// Opaque error codes appended to login redirects. They never say which check failed
// beyond this fixed set.
const (
	ErrCodeInvalidToken    = "invalid_token"
	ErrCodeExpiredToken    = "expired_token"
	ErrCodeAccountInactive = "account_inactive"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeAdminNotAllowed = "admin_not_allowed"
	ErrCodeServerError     = "server_error"
)

// APIError is the JSON body of every non-redirect error response.
type APIError struct {
	Error string `json:"error"`
}

// MagicLinkResponse is returned for every accepted magic-link request,
// whether or not an email was sent.
type MagicLinkResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RateLimitResponse is the body of a 429 response.
type RateLimitResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}
