package oauth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/serandives/accounts-client/events"
	"github.com/serandives/accounts-client/oauth"
	"github.com/serandives/accounts-client/session"
	"github.com/serandives/accounts-client/storage"
	"github.com/serandives/accounts-client/tokens"
	"github.com/serandives/accounts-client/users"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *storage.MemoryStore
	bus     *events.Bus
	manager *session.Manager
	flow    *oauth.Flow

	mu        sync.Mutex
	codesSeen []string
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{}

	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/tokens":
			_ = r.ParseForm()
			f.mu.Lock()
			f.codesSeen = append(f.codesSeen, r.PostForm.Get("code"))
			f.mu.Unlock()
			if r.PostForm.Get("code") != "good-code" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":            "t1",
				"access_token":  "access-t1",
				"refresh_token": "refresh-t1",
				"expires_in":    3600,
			})

		case r.Method == http.MethodGet && r.URL.Path == "/tokens/t1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id": "t1", "user": "u1", "has": {"children": {"autos": {"actions": ["add"]}}}}`))

		case r.Method == http.MethodGet && r.URL.Path == "/users/u1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id": "u1", "username": "jane", "email": "jane@example.com"}`))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(portal.Close)

	f.store = storage.NewMemoryStore()
	f.bus = events.NewBus()

	tc := tokens.New(portal.URL)
	m, err := session.NewManager(f.store, f.bus, tc)
	require.NoError(t, err)
	f.manager = m

	flow, err := oauth.NewFlow(oauth.Config{
		ClientID:    "web-client",
		AuthURL:     "https://id.example.com/authorize",
		RedirectURI: "https://app.example.com/auth/oauth",
	}, f.store, f.bus, m, tc, users.New(portal.URL))
	require.NoError(t, err)
	f.flow = flow
	return f
}

// pendingState reads the state parked in the store.
func (f *fixture) pendingState(t *testing.T) string {
	t.Helper()

	b, err := f.store.Get(storage.KeyOAuth)
	require.NoError(t, err)
	var p oauth.Pending
	require.NoError(t, json.Unmarshal(b, &p))
	return p.State
}

func TestAuthenticatorURIParksContextAndCarriesState(t *testing.T) {
	f := setupFixture(t)

	uri, err := f.flow.AuthenticatorURI("facebook", "/autos/999")
	require.NoError(t, err)

	u, err := url.Parse(uri)
	require.NoError(t, err)
	require.Equal(t, "id.example.com", u.Host)
	require.Equal(t, "/authorize", u.Path)

	q := u.Query()
	require.Equal(t, "web-client", q.Get("client_id"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "facebook", q.Get("type"))
	require.Equal(t, "https://app.example.com/auth/oauth", q.Get("redirect_uri"))
	require.Equal(t, f.pendingState(t), q.Get("state"))
}

func TestAuthenticatorRequestOverTheBus(t *testing.T) {
	f := setupFixture(t)
	f.flow.Bind()

	var uri string
	var replyErr error
	f.bus.Emit(events.ChannelUser, events.EventAuthenticator, &oauth.AuthenticatorRequest{
		Type:     "google",
		Location: "/vehicles",
		Reply: func(u string, err error) {
			uri, replyErr = u, err
		},
	})

	require.NoError(t, replyErr)
	require.Contains(t, uri, "type=google")
	require.Contains(t, uri, "state="+f.pendingState(t))
}

func TestCompleteExchangesCodeAndAnnouncesLogin(t *testing.T) {
	f := setupFixture(t)
	f.manager.Initialize(context.Background())

	var loggedIn bool
	f.bus.On(events.ChannelUser, events.EventLoggedIn, func(any) { loggedIn = true })

	_, err := f.flow.AuthenticatorURI("facebook", "/autos/999")
	require.NoError(t, err)
	state := f.pendingState(t)

	s, location, err := f.flow.Complete(context.Background(), "good-code", state)
	require.NoError(t, err)
	require.Equal(t, "/autos/999", location)
	require.Equal(t, "t1", s.TokenID)
	require.Equal(t, "jane", s.Username, "profile resolved for the display name")
	require.True(t, s.Can("autos", "add"))
	require.True(t, loggedIn)

	// The pending context is consumed.
	_, err = f.store.Get(storage.KeyOAuth)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// The session landed in the manager and the store.
	require.Equal(t, "t1", f.manager.Current().TokenID)
}

func TestCompleteRejectsMismatchedState(t *testing.T) {
	f := setupFixture(t)

	var loginErr bool
	f.bus.On(events.ChannelUser, events.EventLoginError, func(any) { loginErr = true })

	_, err := f.flow.AuthenticatorURI("facebook", "/home")
	require.NoError(t, err)

	_, location, err := f.flow.Complete(context.Background(), "good-code", "forged-state")
	require.ErrorIs(t, err, oauth.ErrStateMismatch)
	require.Equal(t, "/home", location)
	require.True(t, loginErr)
	require.Nil(t, f.manager.Current())

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Empty(t, f.codesSeen, "a forged state must never reach the token endpoint")
}

func TestCompleteWithoutPendingContext(t *testing.T) {
	f := setupFixture(t)

	_, _, err := f.flow.Complete(context.Background(), "good-code", "whatever")
	require.ErrorIs(t, err, oauth.ErrNoPending)
}

func TestCompleteFailedExchangePublishesLoginError(t *testing.T) {
	f := setupFixture(t)

	var loginErr bool
	f.bus.On(events.ChannelUser, events.EventLoginError, func(any) { loginErr = true })

	_, err := f.flow.AuthenticatorURI("facebook", "/home")
	require.NoError(t, err)
	state := f.pendingState(t)

	_, _, err = f.flow.Complete(context.Background(), "bad-code", state)
	require.Error(t, err)
	require.True(t, loginErr)
	require.Nil(t, f.manager.Current())
}
