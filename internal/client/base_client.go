// Package client provides HTTP client utilities for calling downstream services.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/constants"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/pkg/logger"
)

// HTTPError is a non-success response from a downstream service.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// BaseClient provides core HTTP client functionality for calling downstream services.
// It handles request/response marshaling, error parsing, and logging.
type BaseClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *logrus.Logger
}

// NewBaseClient creates a new BaseClient for HTTP operations.
//
// Parameters:
//   - baseURL: Base URL for the service (e.g., "https://mail-relay.amis-harmonie-sucy.fr/api/v1")
//   - timeout: HTTP request timeout duration
//   - logger: Structured logger for HTTP operations
func NewBaseClient(
	baseURL string,
	timeout time.Duration,
	logger *logrus.Logger,
) *BaseClient {
	return &BaseClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		logger:  logger,
	}
}

// Do executes an HTTP request with JSON marshaling. The request correlation ID,
// when present on ctx, is forwarded as X-Request-ID.
//
// Returns the HTTP response. Caller is responsible for closing response body.
func (c *BaseClient) Do(
	ctx context.Context,
	method string,
	path string,
	body interface{},
) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	return c.send(c.httpClient, req)
}

// newRequest builds a JSON request against baseURL.
func (c *BaseClient) newRequest(
	ctx context.Context,
	method string,
	path string,
	body interface{},
) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	if body != nil {
		req.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)
	}
	req.Header.Set(constants.HeaderAccept, constants.ContentTypeJSON)
	if id := logger.GetCorrelationID(ctx); id != "" {
		req.Header.Set(constants.HeaderXRequestID, id)
	}

	return req, nil
}

func (c *BaseClient) send(httpClient *http.Client, req *http.Request) (*http.Response, error) {
	fields := logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	}

	c.logger.WithFields(fields).Debug("Sending HTTP request")

	resp, err := httpClient.Do(req)
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Error("HTTP request failed")
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	c.logger.WithFields(fields).WithField("status", resp.StatusCode).Debug("Received HTTP response")
	return resp, nil
}

// BaseURL returns the configured base URL for this client.
func (c *BaseClient) BaseURL() string {
	return c.baseURL
}

// ParseErrorResponse reads an error body into an *HTTPError and closes it.
func (c *BaseClient) ParseErrorResponse(resp *http.Response) error {
	defer resp.Body.Close()

	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail,omitempty"`
	}

	httpErr := &HTTPError{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		httpErr.Message = "failed to parse error response"
		return httpErr
	}

	httpErr.Code = errResp.Error
	httpErr.Message = errResp.Message
	if httpErr.Message == "" {
		httpErr.Message = errResp.Error
	}
	if errResp.Detail != "" {
		httpErr.Message += " - " + errResp.Detail
	}
	return httpErr
}
