// Package datacloud streams analysed chat events and risk snapshots to the
// CRM ingest API.
//
// The channel is best-effort. Records are queued and posted by a small
// worker pool; a full queue drops the record, and delivery failures are
// retried, counted and logged but never reach the caller. Records identify
// users by their HMAC hash and never carry message or journal text.
package datacloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mbd888/haven/internal/retry"
)

// Ingest objects.
const (
	ObjectChatEvent    = "ChatEvent"
	ObjectRiskSnapshot = "RiskSnapshot"
)

// SourceName is the ingest source the objects are registered under.
const SourceName = "haven"

const (
	defaultTimeout  = 15 * time.Second
	maxErrorBodyLen = 512
)

// ErrDisabled is returned when streaming is switched off.
var ErrDisabled = errors.New("datacloud: streaming disabled")

// Record is one row of an ingest object.
type Record map[string]any

// TokenSource supplies the bearer token. refresh is set after the API
// rejected the previous token.
type TokenSource interface {
	Token(ctx context.Context, refresh bool) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

func (t StaticToken) Token(context.Context, bool) (string, error) {
	return string(t), nil
}

// Client posts records to the ingest API.
type Client struct {
	endpoint string
	tokens   TokenSource
	http     *http.Client
}

// NewClient creates a client for the ingest API at endpoint.
func NewClient(endpoint string, tokens TokenSource) *Client {
	return &Client{
		endpoint: endpoint,
		tokens:   tokens,
		http:     &http.Client{Timeout: defaultTimeout},
	}
}

// WithHTTPClient replaces the HTTP client. Used by tests.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// Endpoint returns the configured base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// URL returns the ingest URL of object.
func (c *Client) URL(object string) string {
	return fmt.Sprintf("%s/api/v1/ingest/sources/%s/%s", c.endpoint, SourceName, object)
}

// Post sends records as {"data": [...]}. A 401 or 403 refreshes the token
// and retries once. Errors are classified for retry.Do.
func (c *Client) Post(ctx context.Context, object string, records ...Record) error {
	body, err := json.Marshal(map[string]any{"data": records})
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal %s: %w", object, err))
	}

	code, respBody, err := c.send(ctx, object, body, false)
	if err != nil {
		return err
	}
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		code, respBody, err = c.send(ctx, object, body, true)
		if err != nil {
			return err
		}
	}
	if code >= 200 && code < 300 {
		return nil
	}
	return retry.HTTPStatusError(code, respBody)
}

func (c *Client) send(ctx context.Context, object string, body []byte, refresh bool) (int, string, error) {
	token, err := c.tokens.Token(ctx, refresh)
	if err != nil {
		return 0, "", fmt.Errorf("datacloud token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(object), bytes.NewReader(body))
	if err != nil {
		return 0, "", retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("post %s: %w", object, err)
	}
	defer func() { _ = resp.Body.Close() }()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	return resp.StatusCode, string(snippet), nil
}
