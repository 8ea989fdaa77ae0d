// Package oauth implements the third-party sign-in hand-off: building the
// authorization URI a UI should send the user to, parking the exchange
// context in the persisted store while the user is away, and completing the
// code exchange when they return.
package oauth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/serandives/accounts-client/events"
	"github.com/serandives/accounts-client/session"
	"github.com/serandives/accounts-client/storage"
	"github.com/serandives/accounts-client/tokens"
	"github.com/serandives/accounts-client/users"
	"golang.org/x/oauth2"
)

// ErrStateMismatch is returned when the state on the return leg does not
// match the pending exchange context.
var ErrStateMismatch = errors.New("oauth state mismatch")

// ErrNoPending is returned when a code arrives with no exchange in progress.
var ErrNoPending = errors.New("no pending oauth exchange")

// Pending is the exchange context persisted while the user is away at the
// authorization endpoint.
type Pending struct {
	ClientID    string `json:"client_id"`
	Type        string `json:"type"`
	Location    string `json:"location"`
	State       string `json:"state"`
	RedirectURI string `json:"redirect_uri"`
}

// AuthenticatorRequest is the payload of the user/authenticator bus event: a
// request for a login URI, answered through Reply.
type AuthenticatorRequest struct {
	Type     string
	Location string
	Reply    func(uri string, err error)
}

// Flow drives the hand-off against one authorization endpoint.
type Flow struct {
	store    storage.Store
	bus      *events.Bus
	sessions *session.Manager
	tokens   *tokens.Client
	users    *users.Client

	clientID    string
	authURL     string
	redirectURI string

	margin  time.Duration
	nowFunc func() time.Time
	log     zerolog.Logger
}

// Option modifies a Flow during construction.
type Option func(*Flow)

// WithRefreshMargin overrides the safety margin used when building the
// session from the exchanged token.
func WithRefreshMargin(margin time.Duration) Option {
	return func(f *Flow) {
		f.margin = margin
	}
}

// WithNowFunc sets the time source (primarily for testing).
func WithNowFunc(now func() time.Time) Option {
	return func(f *Flow) {
		f.nowFunc = now
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(f *Flow) {
		f.log = log
	}
}

// Config carries the required hand-off settings.
type Config struct {
	// ClientID identifies this application at the authorization endpoint.
	ClientID string
	// AuthURL is the authorization endpoint users are sent to.
	AuthURL string
	// RedirectURI is where the authorization endpoint sends users back.
	RedirectURI string
}

// NewFlow creates a Flow.
func NewFlow(cfg Config, store storage.Store, bus *events.Bus, sessions *session.Manager, tc *tokens.Client, uc *users.Client, options ...Option) (*Flow, error) {
	if cfg.ClientID == "" || cfg.AuthURL == "" || cfg.RedirectURI == "" {
		return nil, errors.New("[NewFlow] client id, auth URL and redirect URI are required")
	}
	if store == nil || bus == nil || sessions == nil || tc == nil || uc == nil {
		return nil, errors.New("[NewFlow] store, bus, session manager, token and user clients are required")
	}

	f := &Flow{
		store:       store,
		bus:         bus,
		sessions:    sessions,
		tokens:      tc,
		users:       uc,
		clientID:    cfg.ClientID,
		authURL:     cfg.AuthURL,
		redirectURI: cfg.RedirectURI,
		margin:      session.DefaultRefreshMargin,
		nowFunc:     time.Now,
		log:         zerolog.Nop(),
	}
	for _, opt := range options {
		opt(f)
	}
	return f, nil
}

// Bind subscribes the flow to authenticator requests on the bus.
func (f *Flow) Bind() {
	f.bus.On(events.ChannelUser, events.EventAuthenticator, func(payload any) {
		req, ok := payload.(*AuthenticatorRequest)
		if !ok || req.Reply == nil {
			return
		}
		uri, err := f.AuthenticatorURI(req.Type, req.Location)
		req.Reply(uri, err)
	})
}

// AuthenticatorURI builds the login URI for the given provider type and
// return location, persisting the exchange context so the return leg can be
// validated and completed after navigation.
func (f *Flow) AuthenticatorURI(typ, location string) (string, error) {
	pending := Pending{
		ClientID:    f.clientID,
		Type:        typ,
		Location:    location,
		State:       uuid.New().String(),
		RedirectURI: f.redirectURI,
	}
	b, err := json.Marshal(pending)
	if err != nil {
		return "", errors.Wrap(err, "Flow.AuthenticatorURI Marshal")
	}
	if err := f.store.Put(storage.KeyOAuth, b); err != nil {
		return "", errors.Wrap(err, "Flow.AuthenticatorURI Put")
	}

	conf := oauth2.Config{
		ClientID:    f.clientID,
		RedirectURL: f.redirectURI,
		Endpoint:    oauth2.Endpoint{AuthURL: f.authURL},
	}
	return conf.AuthCodeURL(pending.State, oauth2.SetAuthURLParam("type", typ)), nil
}

// Complete finishes the hand-off when the user returns with a code: the state
// is checked against the pending context, the code is exchanged for a token,
// the grants and profile are resolved and the session is announced as a
// login. It returns the session and the location the UI should navigate back
// to. Failures are published as login errors.
func (f *Flow) Complete(ctx context.Context, code, state string) (*session.Session, string, error) {
	pending, err := f.pending()
	if err != nil {
		return f.fail("", err)
	}
	// One shot: the context is consumed whether the exchange succeeds or not.
	if err := f.store.Delete(storage.KeyOAuth); err != nil {
		f.log.Warn().Err(err).Msg("failed to clear pending oauth context")
	}
	if pending.State != state {
		return f.fail(pending.Location, ErrStateMismatch)
	}

	r, err := f.tokens.AuthorizationCodeGrant(ctx, code, pending.RedirectURI)
	if err != nil {
		return f.fail(pending.Location, errors.Wrap(err, "Flow.Complete AuthorizationCodeGrant"))
	}
	s, err := session.FromResponse(r, f.nowFunc(), f.margin)
	if err != nil {
		return f.fail(pending.Location, errors.Wrap(err, "Flow.Complete FromResponse"))
	}
	f.resolve(ctx, s)

	if err := f.sessions.Update(s); err != nil {
		return f.fail(pending.Location, err)
	}
	f.sessions.Transition(s)
	return s, pending.Location, nil
}

// resolve fills in the permission tree and the display name. Both are
// best-effort; the session stands without them.
func (f *Flow) resolve(ctx context.Context, s *session.Session) {
	g, err := f.tokens.Grants(ctx, s.TokenID, s.AccessToken)
	if err != nil {
		f.log.Debug().Err(err).Msg("grants resolution failed")
		return
	}
	s.Permissions = g.Has
	if g.User == "" {
		return
	}
	u, err := f.users.Get(ctx, g.User, s.AccessToken)
	if err != nil {
		f.log.Debug().Err(err).Msg("profile resolution failed")
		return
	}
	s.Username = u.Name()
}

func (f *Flow) pending() (*Pending, error) {
	b, err := f.store.Get(storage.KeyOAuth)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoPending
	}
	if err != nil {
		return nil, errors.Wrap(err, "Flow.pending Get")
	}
	var p Pending
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, errors.Wrap(err, "Flow.pending Unmarshal")
	}
	return &p, nil
}

func (f *Flow) fail(location string, err error) (*session.Session, string, error) {
	f.bus.Emit(events.ChannelUser, events.EventLoginError, err)
	return nil, location, err
}
