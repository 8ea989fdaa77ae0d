// Package tokens is the HTTP client for the portal's token endpoints. It
// exchanges grants for tokens, revokes tokens and resolves a token's
// permission grants. The session manager and the OAuth hand-off sit on top of
// it; it never retries and never attaches a session credential of its own, so
// it is safe to call from inside the refresh protocol.
package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Client calls the token endpoints of a single accounts host.
type Client struct {
	baseURL  string
	clientID string
	http     *http.Client
	log      zerolog.Logger
}

// Option modifies a Client during construction.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (primarily for tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithClientID sets the OAuth client id sent with grant exchanges.
func WithClientID(id string) Option {
	return func(c *Client) {
		c.clientID = id
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New creates a Client for the accounts host at baseURL.
func New(baseURL string, options ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// PasswordGrant exchanges a username and password for a token.
func (c *Client) PasswordGrant(ctx context.Context, username, password string) (*Response, error) {
	form := url.Values{
		"grant_type": {string(GrantPassword)},
		"username":   {username},
		"password":   {password},
	}
	return c.grant(ctx, form)
}

// RefreshGrant exchanges a refresh token for a new token.
func (c *Client) RefreshGrant(ctx context.Context, refreshToken string) (*Response, error) {
	form := url.Values{
		"grant_type":    {string(GrantRefreshToken)},
		"refresh_token": {refreshToken},
	}
	return c.grant(ctx, form)
}

// AuthorizationCodeGrant exchanges an OAuth authorization code for a token.
func (c *Client) AuthorizationCodeGrant(ctx context.Context, code, redirectURI string) (*Response, error) {
	form := url.Values{
		"grant_type":   {string(GrantAuthorizationCode)},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	return c.grant(ctx, form)
}

func (c *Client) grant(ctx context.Context, form url.Values) (*Response, error) {
	if c.clientID != "" {
		form.Set("client_id", c.clientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tokens", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "Client.grant NewRequest")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "Client.grant Do")
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusBadRequest:
		return nil, ErrInvalidGrant
	default:
		return nil, errors.Errorf("Client.grant unexpected status %d", resp.StatusCode)
	}

	var tr Response
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, errors.Wrap(err, "Client.grant Decode")
	}
	if tr.AccessToken == "" {
		return nil, errors.New("Client.grant empty access token")
	}
	return &tr, nil
}

// Revoke deletes the token behind accessToken (explicit logout).
func (c *Client) Revoke(ctx context.Context, accessToken string) error {
	u := fmt.Sprintf("%s/tokens/%s", c.baseURL, url.PathEscape(accessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return errors.Wrap(err, "Client.Revoke NewRequest")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "Client.Revoke Do")
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return errors.Errorf("Client.Revoke unexpected status %d", resp.StatusCode)
	}
}

// Grants resolves a token id to the permission grants it carries.
func (c *Client) Grants(ctx context.Context, id, accessToken string) (*Grants, error) {
	u := fmt.Sprintf("%s/tokens/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Client.Grants NewRequest")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "Client.Grants Do")
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, errors.Errorf("Client.Grants unexpected status %d", resp.StatusCode)
	}

	var g Grants
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
		return nil, errors.Wrap(err, "Client.Grants Decode")
	}
	return &g, nil
}

// drain consumes and closes a response body so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<16))
	_ = body.Close()
}
