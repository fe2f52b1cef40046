// Package transport posts JSON requests to the control service and interprets the transport status.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"infractl/client/internal/clienterr"
	"infractl/client/internal/command"
)

// Endpoint paths, relative to the base URL.
const (
	PathCommands   = "/commands/"
	PathBySecret   = "/auth/by-secret"
	PathByToken    = "/auth/by-token"
	PathRefresh    = "/auth/refresh"
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 8 << 20
)

// ErrInvalidBaseURL is returned by New when the base URL is empty or not absolute.
var ErrInvalidBaseURL = errors.New("transport: base URL must be an absolute http(s) URL")

// Credentials are attached to authenticated requests. Empty fields are not sent.
type Credentials struct {
	AccessToken string
	CSRFToken   string
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// HTTPClient is used as-is when set; otherwise a client with Timeout and an otelhttp transport is built.
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client posts JSON bodies and decodes Response Envelopes.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New returns a Client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	u, err := url.Parse(base)
	if base == "" || err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, ErrInvalidBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: strings.TrimSuffix(base, "/"), httpClient: hc, logger: logger}, nil
}

// Post sends body as JSON to path and returns the envelope's data.
// HTTP 401 returns clienterr.ErrUnauthenticated regardless of body. A failure before any response wraps
// clienterr.ErrTransport. An envelope error becomes *clienterr.ApplicationError.
func (c *Client) Post(ctx context.Context, path string, body any, creds *Credentials) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", clienterr.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if creds != nil {
		if creds.AccessToken != "" {
			req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
		}
		if creds.CSRFToken != "" {
			req.Header.Set("X-CSRF-Token", creds.CSRFToken)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("transport: request failed", "path", path, "error", err)
		return nil, fmt.Errorf("%w: %w", clienterr.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		c.logger.Debug("transport: unauthorized", "path", path)
		return nil, clienterr.ErrUnauthenticated
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", clienterr.ErrTransport, err)
	}

	var env command.Response
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, fmt.Errorf("%w: unexpected status %s", clienterr.ErrTransport, resp.Status)
			}
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	if env.Error != "" {
		return nil, &clienterr.ApplicationError{Message: env.Error}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: unexpected status %s", clienterr.ErrTransport, resp.Status)
	}
	return env.Data, nil
}

// SendCommand posts cmd to the command endpoint with creds (nil for unauthenticated commands).
func (c *Client) SendCommand(ctx context.Context, cmd command.Command, creds *Credentials) (json.RawMessage, error) {
	return c.Post(ctx, PathCommands, cmd, creds)
}
