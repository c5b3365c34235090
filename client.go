package rephi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/rephi/rephi-go/guard"
	"github.com/rephi/rephi-go/realtime"
	"github.com/rephi/rephi-go/session"
)

// Client is the SDK entry point. All methods are safe for concurrent
// use.
type Client struct {
	config  Config
	http    *http.Client
	logger  *slog.Logger
	session *session.Store
	socket  *realtime.Manager
	paths   *guard.PathStore
	bolt    *session.BoltPersister
	unwatch func()
}

// Session exposes the auth session store.
func (c *Client) Session() *session.Store { return c.session }

// Socket exposes the realtime connection manager.
func (c *Client) Socket() *realtime.Manager { return c.socket }

// Paths exposes the one-shot redirect path store used by the guards.
func (c *Client) Paths() *guard.PathStore { return c.paths }

// Close disconnects the socket and releases the session database.
func (c *Client) Close() error {
	if c.unwatch != nil {
		c.unwatch()
	}
	c.socket.Disconnect()
	if c.bolt != nil {
		return c.bolt.Close()
	}
	return nil
}

// Register creates an account and stores the returned session.
func (c *Client) Register(ctx context.Context, email, password string) (*User, error) {
	return c.authenticate(ctx, "/users/register", email, password)
}

// Login exchanges credentials for a token and stores the session. The
// profile is then refreshed from /me so roles and permissions are
// complete; a failure there keeps the login response's user.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	user, err := c.authenticate(ctx, "/users/login", email, password)
	if err != nil {
		return nil, err
	}

	fresh, err := c.Me(ctx)
	if err != nil {
		c.logger.Warn("profile refresh after login failed", "error", err)
		return user, nil
	}
	return fresh, nil
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) (*User, error) {
	var resp AuthResponse
	err := c.do(ctx, http.MethodPost, path, Credentials{Email: email, Password: password}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if resp.User == nil || resp.Token == "" {
		return nil, fmt.Errorf("malformed auth response from %s", path)
	}
	if err := c.session.SetAuth(resp.User, resp.Token); err != nil {
		c.logger.Warn("session persist failed", "error", err)
	}
	return resp.User, nil
}

// Me fetches the caller's profile with resolved roles and permissions
// and updates the stored session user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	token := c.session.Token()
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp struct {
		User *User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/me", nil, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, fmt.Errorf("malformed profile response")
	}
	if err := c.session.SetAuth(resp.User, token); err != nil {
		c.logger.Warn("session persist failed", "error", err)
	}
	return resp.User, nil
}

// Logout clears the session and tears down the socket. It is local:
// the token simply stops being used.
func (c *Client) Logout() error {
	c.socket.Disconnect()
	c.paths.ClearRedirectPath()
	return c.session.Logout()
}

// Broadcast asks the server to publish a notification on the shared
// lobby topic.
func (c *Client) Broadcast(ctx context.Context, message string) error {
	body := struct {
		Message string `json:"message"`
	}{Message: message}
	return c.do(ctx, http.MethodPost, "/notifications/broadcast", body, nil)
}

// do runs one API round trip: marshal, bearer header, status check,
// decode. A non-2xx response becomes an *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.API.BaseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := contextToken(ctx, c.session.Token()); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) error {
	apiErr := &APIError{Status: status}
	var body struct {
		Error   string              `json:"error"`
		Message string              `json:"message"`
		Errors  map[string][]string `json:"errors"`
	}
	if json.Unmarshal(data, &body) == nil {
		apiErr.Message = body.Error
		if apiErr.Message == "" {
			apiErr.Message = body.Message
		}
		apiErr.Fields = body.Errors
	}
	return apiErr
}
