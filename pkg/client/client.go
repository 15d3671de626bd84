// Package client is a Go SDK for the ward monitoring API. It keeps the
// session alive by refreshing the access token when a request comes back
// 401, with at most one refresh call in flight per Client.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrNetwork wraps transport failures. They are never retried.
	ErrNetwork = errors.New("network error")
	// ErrNoRefreshToken ends the session when a 401 arrives and no refresh
	// token is stored.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrSessionExpired ends the session when the refresh call fails.
	ErrSessionExpired = errors.New("session expired")
)

// APIError is the error envelope returned by the server.
type APIError struct {
	StatusCode int    `json:"statusCode"`
	Status     string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Status, e.Message)
}

type Tokens struct {
	AccessToken     string    `json:"accessToken"`
	RefreshToken    string    `json:"refreshToken"`
	AccessExpiresAt time.Time `json:"accessExpiresAt"`
}

type Options struct {
	BaseURL string
	Tokens  TokenStore
	Timeout time.Duration
	// OnSessionExpired runs once per failed refresh, after the tokens were
	// cleared. It is where an interactive client sends the user to login.
	OnSessionExpired func(err error)
	HTTPClient       *http.Client
}

type Client struct {
	http      *resty.Client
	tokens    TokenStore
	onExpired func(error)
	refresh   refreshGroup
}

func New(opts Options) *Client {
	if opts.Tokens == nil {
		opts.Tokens = NewMemoryStore()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:      rc,
		tokens:    opts.Tokens,
		onExpired: opts.OnSessionExpired,
	}
}

func (c *Client) Tokens() TokenStore {
	return c.tokens
}

// Do sends one API request. body and out may be nil. A 401 on a route
// other than login or refresh triggers a single refresh-and-retry.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	sent := c.tokens.Access()
	resp, err := c.send(ctx, method, path, sent, body, out)
	if err != nil {
		return err
	}

	if resp.StatusCode() == http.StatusUnauthorized && !isAuthRoute(path) {
		token, err := c.renew(ctx, sent)
		if err != nil {
			return err
		}
		if resp, err = c.send(ctx, method, path, token, body, out); err != nil {
			return err
		}
	}

	return responseError(resp)
}

func (c *Client) send(ctx context.Context, method, path, token string, body, out any) (*resty.Response, error) {
	req := c.http.R().
		SetContext(ctx).
		SetError(&APIError{})
	if token != "" {
		req.SetAuthToken(token)
	}
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	return resp, nil
}

func responseError(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	if apiErr, ok := resp.Error().(*APIError); ok && apiErr.StatusCode != 0 {
		return apiErr
	}
	return &APIError{
		StatusCode: resp.StatusCode(),
		Status:     http.StatusText(resp.StatusCode()),
		Message:    strings.TrimSpace(resp.String()),
	}
}

// renew returns the access token to retry with. Unless the rejection is
// already settled the caller joins the single in-flight refresh.
func (c *Client) renew(ctx context.Context, rejected string) (string, error) {
	if token, ok, err := c.settled(rejected); ok {
		return token, err
	}
	return c.refresh.do(ctx, func() (string, error) {
		if token, ok, err := c.settled(rejected); ok {
			return token, err
		}
		return c.refreshTokens(ctx)
	})
}

// settled reports whether a request rejected with the given token needs no
// refresh: either the token was replaced or the session ended after the
// request went out.
func (c *Client) settled(rejected string) (string, bool, error) {
	current := c.tokens.Access()
	switch {
	case current != "" && current != rejected:
		return current, true, nil
	case rejected != "" && current == "" && c.tokens.Refresh() == "":
		return "", true, ErrSessionExpired
	}
	return "", false, nil
}

func (c *Client) refreshTokens(ctx context.Context) (string, error) {
	refreshToken := c.tokens.Refresh()
	if refreshToken == "" {
		return "", c.expire(ErrNoRefreshToken)
	}

	// Waiters share this call, so one caller's cancellation must not fail
	// the others.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.http.GetClient().Timeout)
	defer cancel()

	var tokens Tokens
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"refreshToken": refreshToken}).
		SetResult(&tokens).
		SetError(&APIError{}).
		Post("/api/auth/refresh")
	if err != nil {
		return "", c.expire(fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	if err := responseError(resp); err != nil {
		return "", c.expire(err)
	}
	if tokens.AccessToken == "" {
		return "", c.expire(errors.New("refresh returned no access token"))
	}

	if tokens.RefreshToken == "" {
		err = c.tokens.SetAccess(tokens.AccessToken)
	} else {
		err = c.tokens.Set(tokens.AccessToken, tokens.RefreshToken)
	}
	if err != nil {
		return "", fmt.Errorf("store tokens: %w", err)
	}
	return tokens.AccessToken, nil
}

// expire clears the session and reports it. The returned error wraps both
// ErrSessionExpired and cause.
func (c *Client) expire(cause error) error {
	_ = c.tokens.Clear()
	err := fmt.Errorf("%w: %w", ErrSessionExpired, cause)
	if c.onExpired != nil {
		c.onExpired(err)
	}
	return err
}

func isAuthRoute(path string) bool {
	return strings.HasPrefix(path, "/api/auth/login") || strings.HasPrefix(path, "/api/auth/refresh")
}

// refreshGroup lets one refresh run at a time. Callers arriving while it
// runs wait for it and receive its result.
type refreshGroup struct {
	mu   sync.Mutex
	call *refreshCall
}

type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

func (g *refreshGroup) do(ctx context.Context, fn func() (string, error)) (string, error) {
	g.mu.Lock()
	if call := g.call; call != nil {
		g.mu.Unlock()
		select {
		case <-call.done:
			return call.token, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{}), err: ErrSessionExpired}
	g.call = call
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.call = nil
		g.mu.Unlock()
		close(call.done)
	}()

	call.token, call.err = fn()
	return call.token, call.err
}
