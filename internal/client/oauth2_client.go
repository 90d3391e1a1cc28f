package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2Client extends BaseClient with client-credentials authentication.
// Tokens are cached by the oauth2 token source until shortly before expiry.
type OAuth2Client struct {
	*BaseClient // Embedded - inherits all BaseClient methods

	credentials clientcredentials.Config

	mu     sync.Mutex
	tokens oauth2.TokenSource
}

// NewOAuth2Client creates a new OAuth2-enabled HTTP client.
//
// Parameters:
//   - baseClient: Base HTTP client for core operations
//   - credentials: client id, secret and token endpoint
func NewOAuth2Client(
	baseClient *BaseClient,
	credentials clientcredentials.Config,
) *OAuth2Client {
	c := &OAuth2Client{
		BaseClient:  baseClient,
		credentials: credentials,
	}
	c.resetTokenSource()
	return c
}

// DoWithAuth executes an HTTP request with a bearer token.
// On 401 Unauthorized, it discards the cached token and retries once.
//
// Returns the HTTP response. Caller is responsible for closing response body.
func (c *OAuth2Client) DoWithAuth(
	ctx context.Context,
	method string,
	path string,
	body interface{},
) (*http.Response, error) {
	resp, err := c.doWithToken(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()

		c.logger.Debug("Received 401 Unauthorized, refreshing token and retrying")
		c.resetTokenSource()

		return c.doWithToken(ctx, method, path, body)
	}

	return resp, nil
}

func (c *OAuth2Client) doWithToken(
	ctx context.Context,
	method string,
	path string,
	body interface{},
) (*http.Response, error) {
	token, err := c.tokenSource().Token()
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	token.SetAuthHeader(req)

	return c.send(c.httpClient, req)
}

func (c *OAuth2Client) tokenSource() oauth2.TokenSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// resetTokenSource drops the cached token. The token endpoint is called with the
// same HTTP client, and so the same timeout, as API requests.
func (c *OAuth2Client) resetTokenSource() {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = c.credentials.TokenSource(ctx)
}
