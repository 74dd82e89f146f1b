// Copyright (c) 2025 Aionda GmbH, trashmail.com
//
// Use of this source code is governed by the BSD-style license that can be
// found in the LICENSE file.

package trashmail

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Client is the high-level TrashMail client. It owns a Flow for
// authentication and remembers the single session produced by the last
// successful login; that session id is the only state it keeps.
//
// Client methods are safe for concurrent use, but the session is shared: a
// Logout invalidates it for every caller.
type Client struct {
	flow *Flow
	doer Doer
	log  *zap.Logger

	mu            sync.Mutex
	authenticated bool
	username      string
	sessionID     string
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	lang   string
	doer   Doer
	engine Engine
	log    *zap.Logger
}

// WithLang sets the lang query parameter sent with every request.
func WithLang(lang string) ClientOption {
	return func(c *clientConfig) { c.lang = lang }
}

// WithDoer replaces the HTTP transport. Mostly useful for tests.
func WithDoer(d Doer) ClientOption {
	return func(c *clientConfig) { c.doer = d }
}

// WithEngine replaces the OPAQUE engine. Mostly useful for tests; the
// production engine is the only one the real server interoperates with.
func WithEngine(e Engine) ClientOption {
	return func(c *clientConfig) { c.engine = e }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) ClientOption {
	return func(c *clientConfig) { c.log = log }
}

// NewClient returns a Client for the API at baseURL. An empty baseURL selects
// DefaultBaseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	cfg := clientConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.doer == nil {
		cfg.doer = NewTransport(baseURL, cfg.lang)
	}
	if cfg.log == nil {
		cfg.log = zap.NewNop()
	}
	return &Client{
		flow: NewFlow(cfg.doer, cfg.engine, cfg.log),
		doer: cfg.doer,
		log:  cfg.log,
	}
}

// Flow returns the underlying authentication flow, for callers that want the
// exchange result (session key, minted PAT) rather than a stored session.
func (c *Client) Flow() *Flow {
	return c.flow
}

// Login authenticates and stores the resulting session.
//
// Secrets with the PAT prefix run the token exchange. Passwords first probe
// the account's capabilities: accounts migrated to OPAQUE use the OPAQUE
// exchange, everything else falls back to the legacy login. When the probe
// itself fails the OPAQUE exchange is still attempted, matching the behavior
// of the web client.
func (c *Client) Login(ctx context.Context, username, secret string) error {
	if username == "" || secret == "" {
		return fmt.Errorf("%w: empty username or secret", ErrCredentialFormat)
	}

	if IsPATToken(secret) {
		res, err := c.flow.LoginToken(ctx, username, secret)
		if err != nil {
			return err
		}
		c.setSession(username, res.SessionID)
		return nil
	}

	methods, err := c.flow.CheckAuthMethods(ctx, username)
	if err != nil || methods.OpaqueEnabled {
		if err != nil {
			c.log.Warn("auth capability probe failed, attempting opaque login", zap.String("username", username), zap.Error(err))
		}
		res, err := c.flow.Login(ctx, username, secret)
		if err != nil {
			return err
		}
		c.setSession(username, res.SessionID)
		return nil
	}

	c.log.Info("opaque disabled for account, using legacy login", zap.String("username", username))
	return c.LegacyLogin(ctx, username, secret)
}

// LegacyLogin authenticates with the classic form login, transmitting the
// password to the server. It exists for accounts that have not migrated to
// OPAQUE; the server schedules a migration after a successful legacy login.
func (c *Client) LegacyLogin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("%w: empty username or password", ErrCredentialFormat)
	}
	var resp legacyLoginResponse
	body := legacyLoginRequest{User: username, Pass: password}
	if err := c.doer.Post(ctx, cmdLegacyLogin, body, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return apiError(ErrServerRejected, resp.envelope)
	}
	if resp.Data.Requires2FA {
		return ErrTwoFactorRequired
	}
	c.setSession(username, resp.Data.SessionID)
	return nil
}

// IsAuthenticated reports whether a login has succeeded on this Client.
func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Username returns the account name of the stored session, or "".
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// APICall runs an authenticated API command and returns its data payload.
// It fails with ErrNotAuthenticated before a successful login.
func (c *Client) APICall(ctx context.Context, cmd string, params any) (json.RawMessage, error) {
	if !c.IsAuthenticated() {
		return nil, fmt.Errorf("%w: call Login first", ErrNotAuthenticated)
	}
	var resp apiResponse
	if err := c.doer.Post(ctx, cmd, params, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, apiError(ErrServerRejected, resp.envelope)
	}
	return resp.Data, nil
}

// DEA is a disposable email address record.
type DEA struct {
	Address   string `json:"dea"`
	RealEmail string `json:"realemail,omitempty"`
	Expire    int    `json:"expire,omitempty"`
	Forwards  int    `json:"forwards,omitempty"`
}

// DEAs lists the account's disposable email addresses.
func (c *Client) DEAs(ctx context.Context) ([]DEA, error) {
	data, err := c.APICall(ctx, cmdReadDEA, struct{}{})
	if err != nil {
		return nil, err
	}
	var deas []DEA
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &deas); err != nil {
		return nil, fmt.Errorf("%w: undecodable DEA list: %s", ErrServerProtocol, err)
	}
	return deas, nil
}

// CreateDEA creates a disposable address forwarding to realEmail. Additional
// save_dea parameters (expire, forwards, ...) go in extra; it may be nil.
func (c *Client) CreateDEA(ctx context.Context, realEmail string, extra map[string]any) (*DEA, error) {
	params := map[string]any{"realemail": realEmail}
	for k, v := range extra {
		params[k] = v
	}
	data, err := c.APICall(ctx, cmdSaveDEA, params)
	if err != nil {
		return nil, err
	}
	var dea DEA
	if err := json.Unmarshal(data, &dea); err != nil {
		return nil, fmt.Errorf("%w: undecodable DEA: %s", ErrServerProtocol, err)
	}
	return &dea, nil
}

// Logout drops the stored session. Server-side logout errors are ignored:
// the local session is discarded regardless.
func (c *Client) Logout(ctx context.Context) {
	if c.IsAuthenticated() {
		if _, err := c.APICall(ctx, cmdLogout, struct{}{}); err != nil {
			c.log.Debug("logout call failed", zap.Error(err))
		}
	}
	c.mu.Lock()
	c.authenticated = false
	c.username = ""
	c.sessionID = ""
	c.mu.Unlock()
}

func (c *Client) setSession(username, sessionID string) {
	c.mu.Lock()
	c.authenticated = true
	c.username = username
	c.sessionID = sessionID
	c.mu.Unlock()
}
