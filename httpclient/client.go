// Package httpclient provides the authenticated HTTP client every API call
// goes through. It attaches the session's bearer token, and when a call comes
// back 401 it joins a single in-flight token refresh and retries the call
// against the outcome, so callers never deal with tokens at all.
package httpclient

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/serandives/accounts-client/session"
	"github.com/serandives/accounts-client/tokens"
)

type contextKey struct{}

var noRetryKey contextKey

// WithoutRetry marks a context so calls carrying it bypass the 401 refresh
// protocol entirely and surface errors directly. The token exchange itself
// and callers that want to observe a 401 opt out this way.
func WithoutRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey, true)
}

func retryDisabled(ctx context.Context) bool {
	v, _ := ctx.Value(noRetryKey).(bool)
	return v
}

// refreshGate parks calls while a refresh is in flight and carries the
// outcome to them once it settles.
type refreshGate struct {
	done chan struct{}
	err  error
}

// Client is the authenticated HTTP client.
type Client struct {
	sessions *session.Manager
	http     *http.Client
	log      zerolog.Logger

	mu   sync.Mutex
	gate *refreshGate // non-nil while a refresh is in flight
}

// Option modifies a Client during construction.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New creates a Client bound to the session manager.
func New(sessions *session.Manager, options ...Option) (*Client, error) {
	if sessions == nil {
		return nil, errors.New("[New] session manager is required")
	}
	c := &Client{
		sessions: sessions,
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Do sends the request with the current bearer token attached. A call issued
// while a refresh is in flight waits for the refresh to settle before being
// sent. On a 401 the client joins a single-flight refresh and, if it
// succeeds, resends the request once with its original parameters; the caller
// sees the retried response. If the refresh fails, the call fails with the
// unauthorized error and the session manager has already broadcast the
// sign-in prompt.
//
// Requests built with http.NewRequest have a rewindable body (GetBody) and
// retry transparently; a request with a one-shot body is retried without one.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if retryDisabled(req.Context()) {
		return c.send(req)
	}

	if err := c.await(req.Context()); err != nil {
		return nil, err
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || c.sessions.Current() == nil {
		return resp, nil
	}
	_ = resp.Body.Close()

	c.log.Debug().Str("url", req.URL.String()).Msg("unauthorized, refreshing token")

	gate := c.open()
	_, err = c.sessions.Refresh(req.Context())
	c.close(gate, err)
	if err != nil {
		return nil, errors.Wrap(tokens.ErrUnauthorized, err.Error())
	}

	retry, err := redo(req)
	if err != nil {
		return nil, err
	}
	return c.send(retry)
}

// send attaches the bearer token, unless the session is absent, and performs
// the call.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	if s := c.sessions.Current(); s != nil {
		req.Header.Set("Authorization", "Bearer "+s.AccessToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "Client.send Do")
	}
	return resp, nil
}

// await blocks while a refresh is in flight, so the call is replayed against
// the refreshed token instead of racing the exchange. When the refresh fails,
// every waiting call fails with the unauthorized error rather than going out
// anonymously.
func (c *Client) await(ctx context.Context) error {
	c.mu.Lock()
	g := c.gate
	c.mu.Unlock()
	if g == nil {
		return nil
	}
	select {
	case <-g.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if g.err != nil {
		return errors.Wrap(tokens.ErrUnauthorized, g.err.Error())
	}
	return nil
}

// open marks a refresh as in flight, joining the existing one if present.
func (c *Client) open() *refreshGate {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gate == nil {
		c.gate = &refreshGate{done: make(chan struct{})}
	}
	return c.gate
}

// close settles the gate exactly once, releasing every waiting call against
// the refresh outcome.
func (c *Client) close(g *refreshGate, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gate == g {
		g.err = err
		close(g.done)
		c.gate = nil
	}
}

// redo rebuilds the request for the retry, restoring the body from GetBody
// when available.
func redo(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, errors.Wrap(err, "redo GetBody")
		}
		retry.Body = body
	}
	return retry, nil
}
