// Package dnanexus implements the platform repository on top of the
// DNAnexus JSON-over-HTTP API.
package dnanexus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"applet-tester/internal/domain/repository"
	"applet-tester/pkg/log"
)

// DefaultAPIServer is used when no API server is configured.
const DefaultAPIServer = "https://api.dnanexus.com"

// DefaultPartSize is the upload part size used when none is configured.
const DefaultPartSize = 64 << 20

// Config holds the connection settings of the API client
type Config struct {
	APIServer string
	Token     string
	ProjectID string
	// Timeout bounds a single API request. Zero means 60s.
	Timeout time.Duration
	// CloseTimeout bounds the wait for uploaded files to close. Zero means 5m.
	CloseTimeout time.Duration
	// PartSize is the size of upload parts. Zero means DefaultPartSize.
	PartSize int64
}

// Client talks to the API on behalf of one project
type Client struct {
	baseURL      string
	project      string
	tokens       oauth2.TokenSource
	httpClient   *http.Client // authenticated API requests
	rawClient    *http.Client // presigned upload and download URLs
	closeTimeout time.Duration
	partSize     int64
}

// Ensure Client implements repository.PlatformRepository
var _ repository.PlatformRepository = (*Client)(nil)

// NewClient creates a client authenticated with a static bearer token.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("dnanexus: an API token is required")
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("dnanexus: a project id is required")
	}
	if cfg.APIServer == "" {
		cfg.APIServer = DefaultAPIServer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 5 * time.Minute
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = DefaultPartSize
	}

	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	base := &http.Client{Timeout: cfg.Timeout}
	authCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := oauth2.NewClient(authCtx, tokens)
	httpClient.Timeout = cfg.Timeout

	return &Client{
		baseURL:      strings.TrimRight(cfg.APIServer, "/"),
		project:      cfg.ProjectID,
		tokens:       tokens,
		httpClient:   httpClient,
		rawClient:    &http.Client{},
		closeTimeout: cfg.CloseTimeout,
		partSize:     cfg.PartSize,
	}, nil
}

// Name identifies the backend
func (c *Client) Name() string {
	return "dnanexus"
}

// ProjectID returns the project the client works in
func (c *Client) ProjectID() string {
	return c.project
}

// APIError is an error response from the API
type APIError struct {
	StatusCode int
	Type       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s (%d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request_failed:%d: %s", e.StatusCode, e.Body)
}

// IsInvalidInput reports whether err is an InvalidInput API error.
func IsInvalidInput(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == "InvalidInput"
}

// IsNotFound reports whether err is a ResourceNotFound API error.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == "ResourceNotFound"
}

// call POSTs in to /{resource}/{method} and decodes the response into out.
func (c *Client) call(ctx context.Context, resource, method string, in, out interface{}) error {
	if in == nil {
		in = map[string]interface{}{}
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	url := fmt.Sprintf("%s/%s/%s", c.baseURL, resource, method)
	log.Debug("Sending API request", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s/%s request: %w", resource, method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug("Response status", "url", url, "status_code", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s/%s response: %w", resource, method, err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		apiErr.Type = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

// transfer performs a request against a presigned URL.
func (c *Client) transfer(ctx context.Context, method, url string, headers map[string]string, body io.Reader, size int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.ContentLength = size
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.rawClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to %s %s: %w", strings.ToLower(method), url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}
