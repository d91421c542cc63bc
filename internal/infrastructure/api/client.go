// Package api implements the REST transport adapter. It maps HTTP responses
// onto the domain error taxonomy at this boundary so the services never see
// status codes, and it reports 401s to the session store for forced logout.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicroom/waiting-room/internal/core/domain"
	"github.com/clinicroom/waiting-room/internal/core/ports"
)

const defaultTimeout = 30 * time.Second

// Client is the shared HTTP core behind the role-scoped API adapters. It is
// constructed explicitly and passed in, never a package singleton, so tests
// can point it at a fake backend.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	tokenSource    func() string
	onUnauthorized func()
}

// NewClient builds a Client against the given base URL.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		log:     log.With().Str("component", "api").Logger(),
	}
}

// SetTokenSource wires the bearer-token provider (the session store).
func (c *Client) SetTokenSource(fn func() string) { c.tokenSource = fn }

// SetUnauthorizedHandler wires the hook invoked when an authenticated call
// comes back 401.
func (c *Client) SetUnauthorizedHandler(fn func()) { c.onUnauthorized = fn }

// Auth returns the session-management surface.
func (c *Client) Auth() ports.AuthAPI { return &authClient{c} }

// Visitor returns the visitor-scoped surface.
func (c *Client) Visitor() ports.VisitorAPI { return &visitorClient{c} }

// Provider returns the provider-scoped surface.
func (c *Client) Provider() ports.ProviderAPI { return &providerClient{c} }

// serverError is the backend's error envelope.
type serverError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token := ""
	if c.tokenSource != nil {
		token = c.tokenSource()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.mapError(resp, method, path, token != "")
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// mapError converts an HTTP failure into a domain error. Only a 401 on an
// authenticated call escalates: the session store is told to tear down.
func (c *Client) mapError(resp *http.Response, method, path string, authenticated bool) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := http.StatusText(resp.StatusCode)
	var se serverError
	if json.Unmarshal(raw, &se) == nil {
		if se.Error != "" {
			msg = se.Error
		} else if se.Message != "" {
			msg = se.Message
		}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if authenticated && c.onUnauthorized != nil {
			c.log.Warn().Str("method", method).Str("path", path).Msg("session rejected, forcing logout")
			c.onUnauthorized()
		}
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, method, path)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrValidation, msg)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", domain.ErrQueueRejected, msg)
	default:
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %s (status %d)", domain.ErrUnavailable, msg, resp.StatusCode)
		}
		return fmt.Errorf("api %s %s: %s (status %d)", method, path, msg, resp.StatusCode)
	}
}
