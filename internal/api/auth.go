package api

import (
	"context"
	"errors"
	"fmt"
)

// ErrMissingCredentials is returned when a username or password is empty.
var ErrMissingCredentials = errors.New("username and password are required")

// Login authenticates and stores the session cookie in the client's jar.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	var resp LoginResponse
	if err := c.post(ctx, "/auth/login", Credentials{Username: username, Password: password}, &resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	c.logger.Info("logged in", "username", username, "user_id", resp.UserID)
	return &resp, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, username, password string) (*RegisterResponse, error) {
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	var resp RegisterResponse
	if err := c.post(ctx, "/auth/register", Credentials{Username: username, Password: password}, &resp); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	return &resp, nil
}

// Logout ends the server session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.post(ctx, "/auth/logout", nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}
