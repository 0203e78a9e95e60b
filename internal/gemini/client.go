// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Gemini client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeUnauthorized
	ErrTypeRateLimited
	ErrTypeConnection
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrUnauthorized  = &ClientError{Type: ErrTypeUnauthorized, Message: "API key rejected"}
	ErrRateLimited   = &ClientError{Type: ErrTypeRateLimited, Message: "rate limited"}
	ErrEmptyReply    = &ClientError{Type: ErrTypeInvalidResponse, Message: "model returned no candidates"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Gemini client.
type ClientConfig struct {
	// BaseURL is the API base (default: https://generativelanguage.googleapis.com)
	BaseURL string

	// APIKey is sent via the x-goog-api-key header. Required.
	APIKey string

	// Timeout for generateContent requests (default: 90s; image prompts are slow)
	Timeout time.Duration

	// DefaultModel to use if none specified (default: "gemini-2.0-flash")
	DefaultModel string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      "https://generativelanguage.googleapis.com",
		Timeout:      90 * time.Second,
		DefaultModel: "gemini-2.0-flash",
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Gemini API.
//
// The Client is thread-safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new Gemini client for the given API key.
func NewClient(apiKey string) *Client {
	config := DefaultConfig()
	config.APIKey = apiKey
	return NewClientWithConfig(config)
}

// NewClientWithConfig creates a new Gemini client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if config.Timeout == 0 {
		config.Timeout = 90 * time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// =============================================================================
// GENERATE
// =============================================================================

// Generate sends a non-streaming generateContent request and returns the
// decoded response. Contents must alternate user/model turns ending with
// the new user turn.
func (c *Client) Generate(ctx context.Context, model string, req *GenerateRequest) (*GenerateResponse, error) {
	if model == "" {
		model = c.config.DefaultModel
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	endpoint := c.config.BaseURL + "/v1beta/models/" + url.PathEscape(model) + ":generateContent"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, &ClientError{Type: ErrTypeConnection, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var result GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	if len(result.Candidates) == 0 {
		return nil, ErrEmptyReply
	}

	return &result, nil
}

// GenerateText is a convenience wrapper returning only the reply text.
func (c *Client) GenerateText(ctx context.Context, model string, req *GenerateRequest) (string, error) {
	resp, err := c.Generate(ctx, model, req)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// statusError maps a non-OK HTTP response to a categorized client error.
func (c *Client) statusError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}

	// Try to surface the API's own error message
	var apiErr apiError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
		return &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: apiErr.Error.Message,
		}
	}
	return &ClientError{
		Type:    ErrTypeInvalidResponse,
		Message: "generate request failed: " + resp.Status,
	}
}
