// Package api provides the authenticated HTTP client for the budget
// API's sync endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/joselitz123/budget-planner/internal/errors"
	"github.com/joselitz123/budget-planner/internal/models"
)

// TokenFunc supplies the bearer token for a request. Tokens are fetched
// per call so the session provider can rotate them.
type TokenFunc func(ctx context.Context) (string, error)

// StaticToken returns a TokenFunc that always yields the same token.
func StaticToken(token string) TokenFunc {
	return func(context.Context) (string, error) { return token, nil }
}

// Client calls the sync endpoints with bearer authentication.
type Client struct {
	baseURL string
	token   TokenFunc
	http    *http.Client
}

// NewClient returns a Client for the given API base URL.
func NewClient(baseURL string, token TokenFunc, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// PushRequest is the body of POST /sync/push.
type PushRequest struct {
	Operations []*models.SyncOperation `json:"operations"`
}

// OpError is a per-operation rejection from the server.
type OpError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// PushResponse reports per-operation outcomes for a pushed batch.
type PushResponse struct {
	Successful []string  `json:"successful"`
	Failed     []OpError `json:"failed"`
}

// PullRequest is the body of POST /sync/pull. An empty LastSync means
// "from the beginning".
type PullRequest struct {
	LastSync string `json:"lastSync"`
}

// PullResponse carries server-side changes since the checkpoint, keyed
// by collection name.
type PullResponse struct {
	Changes      map[models.Collection][]json.RawMessage `json:"changes"`
	LastSyncTime string                                  `json:"lastSyncTime"`
	HasMore      bool                                    `json:"hasMore"`
}

// Push delivers a batch of queued operations.
func (c *Client) Push(ctx context.Context, ops []*models.SyncOperation) (*PushResponse, error) {
	var resp PushResponse
	if err := c.post(ctx, "/sync/push", PushRequest{Operations: ops}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches changes since the given checkpoint.
func (c *Client) Pull(ctx context.Context, lastSync string) (*PullResponse, error) {
	var resp PullResponse
	if err := c.post(ctx, "/sync/pull", PullRequest{LastSync: lastSync}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.token(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrUnauthorized, "failed to obtain token", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, fmt.Sprintf("POST %s failed", path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return apperrors.New(apperrors.ErrUnauthorized, fmt.Sprintf("POST %s: %s", path, resp.Status))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.New(apperrors.ErrTransport, fmt.Sprintf("POST %s: %s", path, resp.Status))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, "failed to read response", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, "failed to decode response", err)
	}
	return nil
}
