// Package backend implements the thin HTTP client shared by providers
// that drive their platform over a REST control plane. It builds
// requests, applies per-call timeouts, and maps transport and HTTP
// failures onto the error taxonomy. It never retries: classification
// is reported once and retry policy belongs to the caller.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sandflow/sandflow/types"
)

const defaultTimeout = 30 * time.Second

// maxErrorBodyChars bounds how much of an error response body is
// carried in error details.
const maxErrorBodyChars = 512

// Config describes one backend control plane.
type Config struct {
	BaseURL    string
	APIKey     string
	AuthHeader string // header carrying the key, e.g. "X-API-Key"; empty means "Authorization: Bearer"
	Timeout    time.Duration
}

// Client is a thin HTTP client for one backend.
type Client struct {
	baseURL    string
	apiKey     string
	authHeader string
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient builds a client. The http.Client carries no timeout of its
// own; every call gets a context deadline so cancellation is explicit.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		authHeader: cfg.AuthHeader,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger.With().Str("component", "backend-client").Logger(),
	}
}

// BaseURL returns the configured control plane base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Request performs one call against the backend and decodes the JSON
// response into out when out is non-nil. Non-2xx responses and
// transport failures are returned as classified FlowErrors; a timeout
// is a connection-class error meaning unknown remote state.
func (c *Client) Request(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return types.NewFlowError("request_encode_failed",
				fmt.Sprintf("cannot encode %s %s request", method, path),
				types.CategoryAPI).WithCause(err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return types.NewFlowError("request_build_failed",
			fmt.Sprintf("cannot build %s %s request", method, path),
			types.CategoryConfiguration).WithCause(err)
	}
	c.authorize(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			c.logger.Warn().Str("method", method).Str("path", path).
				Dur("timeout", c.timeout).Msg("backend request timed out")
			return types.NewTimeoutError(path, c.timeout).WithCause(err)
		}
		return types.NewFlowError("request_failed",
			fmt.Sprintf("%s %s failed", method, path),
			types.CategoryConnection).
			WithDetail("endpoint", path).
			WithCause(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.NewFlowError("response_read_failed",
			fmt.Sprintf("%s %s: cannot read response", method, path),
			types.CategoryConnection).
			WithDetail("endpoint", path).
			WithCause(err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.FromHTTPStatus("backend_error", resp.StatusCode, resp.Status, path).
			WithDetail("body", truncateBody(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return types.NewFlowError("response_decode_failed",
				fmt.Sprintf("%s %s: cannot decode response", method, path),
				types.CategoryAPI).
				WithDetail("endpoint", path).
				WithCause(err)
		}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey == "" {
		return
	}
	if c.authHeader != "" {
		req.Header.Set(c.authHeader, c.apiKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func truncateBody(body []byte) string {
	if len(body) > maxErrorBodyChars {
		return string(body[:maxErrorBodyChars])
	}
	return string(body)
}
