// Package auth validates session tokens against the hosted auth service.
// This service never mints sessions itself; it only trusts the identity the
// auth service asserts for a bearer token.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ErrInvalidSession means the token is unknown or expired.
var ErrInvalidSession = errors.New("auth: invalid session")

// Config holds auth service configuration.
type Config struct {
	BaseURL string        `envconfig:"AUTH_BASE_URL" required:"true"`
	Timeout time.Duration `envconfig:"AUTH_TIMEOUT" default:"10s"`
}

// Client resolves bearer tokens to user identities.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an auth client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

type sessionResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// ValidateSession resolves a bearer token. It satisfies the middleware
// SessionValidator contract.
func (c *Client) ValidateSession(ctx context.Context, token string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/session", nil)
	if err != nil {
		return "", "", fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("session request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", "", ErrInvalidSession
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("session request: unexpected status %d", resp.StatusCode)
	}

	var session sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", fmt.Errorf("decode session response: %w", err)
	}
	if session.UserID == "" {
		return "", "", ErrInvalidSession
	}
	return session.UserID, session.Email, nil
}
