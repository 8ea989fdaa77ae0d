package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/serandives/accounts-client/events"
	"github.com/serandives/accounts-client/permissions"
	"github.com/serandives/accounts-client/storage"
	"github.com/serandives/accounts-client/tokens"
	"golang.org/x/sync/singleflight"
)

// Manager is the single source of truth for who is signed in. It persists the
// session record, announces lifecycle transitions on the event bus, and keeps
// the access token fresh through its Scheduler.
//
// The record is replaced wholesale on every change; persist happens before
// the in-memory swap so a crash between the two never leaves memory ahead of
// storage.
type Manager struct {
	store  storage.Store
	bus    *events.Bus
	tokens *tokens.Client
	sched  *Scheduler

	margin  time.Duration
	nowFunc func() time.Time
	log     zerolog.Logger

	flight singleflight.Group

	mu      sync.Mutex
	current *Session
	booted  bool
	held    bool
}

// Option modifies a Manager during construction.
type Option func(*Manager)

// WithRefreshMargin overrides the safety margin subtracted from the
// server-reported token expiry.
func WithRefreshMargin(margin time.Duration) Option {
	return func(m *Manager) {
		m.margin = margin
	}
}

// WithNowFunc sets the time source (primarily for testing).
func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// NewManager creates a Manager over the given store, bus and token client.
func NewManager(store storage.Store, bus *events.Bus, tc *tokens.Client, options ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("[NewManager] store is required")
	}
	if bus == nil {
		return nil, errors.New("[NewManager] bus is required")
	}
	if tc == nil {
		return nil, errors.New("[NewManager] token client is required")
	}

	m := &Manager{
		store:   store,
		bus:     bus,
		tokens:  tc,
		margin:  DefaultRefreshMargin,
		nowFunc: time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(m)
	}

	m.sched = NewScheduler(
		func() { _, _ = m.Refresh(context.Background()) },
		WithSchedulerNowFunc(m.nowFunc),
		WithSchedulerLogger(m.log),
	)
	return m, nil
}

// Bind subscribes the manager to the bus: the boot announcement triggers
// Initialize, and external writes to the stored session record are re-emitted
// through the transition logic without a network refresh.
func (m *Manager) Bind() {
	m.bus.On(events.ChannelBoot, events.EventReady, func(any) {
		m.Initialize(context.Background())
	})
	m.bus.On(events.ChannelStored, events.EventUser, func(any) {
		m.Restore()
	})
}

// Current returns the session record held in memory, or nil when anonymous.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Can reports whether the current session grants action on the permission
// path. Anonymous grants apply when no session is held.
func (m *Manager) Can(path, action string) bool {
	return m.Current().Can(path, action)
}

// Initialize boots the manager from the persisted store. An absent or
// already-expired record yields an anonymous ready announcement with no
// network call; a live record is proactively refreshed before readiness is
// declared, and the announcement carries the refreshed session (or nil when
// the refresh failed).
func (m *Manager) Initialize(ctx context.Context) {
	stored := m.load()
	if stored == nil || stored.Expired(m.nowFunc()) {
		m.Transition(nil)
		return
	}

	m.mu.Lock()
	m.current = stored
	m.mu.Unlock()

	// Refresh announces the outcome itself: the first transition is always
	// the ready announcement, whether it carries a session or not.
	_, _ = m.Refresh(ctx)
}

// Update atomically replaces the persisted and in-memory session. A non-nil
// session is validated, persisted, swapped in and handed to the Scheduler;
// nil clears the store entry and cancels any pending refresh.
func (m *Manager) Update(s *Session) error {
	if s == nil {
		if err := m.store.Delete(storage.KeyUser); err != nil {
			return errors.Wrap(err, "Manager.Update Delete")
		}
		m.mu.Lock()
		m.current = nil
		m.mu.Unlock()
		m.sched.Cancel()
		return nil
	}

	if err := s.Validate(); err != nil {
		return errors.Wrap(err, "Manager.Update Validate")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "Manager.Update Marshal")
	}
	if err := m.store.Put(storage.KeyUser, b); err != nil {
		return errors.Wrap(err, "Manager.Update Put")
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	m.sched.Arm(s)
	return nil
}

// Transition announces a lifecycle change on the bus. The first call is
// always the one-time ready announcement, session or not. After boot, a
// session appearing is a login, a session replacing a held one is a silent
// refresh, and nil when a session was held is a logout. Nil with nothing held
// is a no-op.
func (m *Manager) Transition(s *Session) {
	m.mu.Lock()
	first := !m.booted
	m.booted = true
	had := m.held
	m.held = s != nil
	m.mu.Unlock()

	switch {
	case first:
		m.bus.Emit(events.ChannelUser, events.EventReady, s)
	case s != nil && !had:
		m.bus.Emit(events.ChannelUser, events.EventLoggedIn, s)
	case s != nil:
		m.log.Debug().Str("token", s.TokenID).Msg("session refreshed")
	case had:
		m.bus.Emit(events.ChannelUser, events.EventLoggedOut, nil)
	}
}

// Login exchanges a username and password for a session and announces it.
func (m *Manager) Login(ctx context.Context, username, password string) (*Session, error) {
	r, err := m.tokens.PasswordGrant(ctx, username, password)
	if err != nil {
		m.bus.Emit(events.ChannelUser, events.EventLoginError, err)
		return nil, errors.Wrap(err, "Manager.Login PasswordGrant")
	}

	s, err := FromResponse(r, m.nowFunc(), m.margin)
	if err != nil {
		return nil, errors.Wrap(err, "Manager.Login FromResponse")
	}
	s.Username = username
	m.resolveGrants(ctx, s, nil)

	if err := m.Update(s); err != nil {
		return nil, err
	}
	m.Transition(s)
	return s, nil
}

// Logout revokes the current token, clears the session and announces the
// logout. Revocation is best effort; the local session is cleared regardless.
func (m *Manager) Logout(ctx context.Context) error {
	cur := m.Current()
	if cur == nil {
		return nil
	}
	if err := m.tokens.Revoke(ctx, cur.AccessToken); err != nil {
		m.log.Warn().Err(err).Msg("token revocation failed")
	}
	if err := m.Update(nil); err != nil {
		return err
	}
	m.Transition(nil)
	return nil
}

// Refresh exchanges the current refresh token for a new session. Concurrent
// callers — the scheduler's timer and any number of calls that just saw a
// 401 — join a single in-flight exchange and share its outcome. A refresh
// with no session held is a no-op (a logout won the race). Failure is
// terminal for the session: the record is cleared, the logout is announced
// and a login-error event asks the UI to prompt for sign-in.
func (m *Manager) Refresh(ctx context.Context) (*Session, error) {
	v, err, _ := m.flight.Do("refresh", func() (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	s, _ := v.(*Session)
	return s, nil
}

func (m *Manager) refresh(ctx context.Context) (*Session, error) {
	cur := m.Current()
	if cur == nil {
		return nil, nil
	}

	r, err := m.tokens.RefreshGrant(ctx, cur.RefreshToken)
	if err != nil {
		m.log.Warn().Err(err).Msg("token refresh failed, clearing session")
		m.terminate(err)
		return nil, errors.Wrap(err, "Manager.Refresh RefreshGrant")
	}

	next, err := FromResponse(r, m.nowFunc(), m.margin)
	if err != nil {
		m.terminate(err)
		return nil, errors.Wrap(err, "Manager.Refresh FromResponse")
	}
	next.Username = cur.Username
	m.resolveGrants(ctx, next, cur.Permissions)

	if err := m.Update(next); err != nil {
		return nil, err
	}
	m.Transition(next)
	return next, nil
}

// terminate clears the session after a failed refresh and broadcasts the
// failure so unrelated UI can react.
func (m *Manager) terminate(cause error) {
	if err := m.Update(nil); err != nil {
		m.log.Err(err).Msg("failed to clear session")
	}
	m.Transition(nil)
	m.bus.Emit(events.ChannelUser, events.EventLoginError, cause)
}

// resolveGrants fetches the permission tree for the session's token. The
// session stays usable without it, so failures only degrade to the fallback
// tree (the previous session's grants, or nil).
func (m *Manager) resolveGrants(ctx context.Context, s *Session, fallback *permissions.Tree) {
	g, err := m.tokens.Grants(ctx, s.TokenID, s.AccessToken)
	if err != nil {
		m.log.Debug().Err(err).Msg("grants resolution failed")
		s.Permissions = fallback
		return
	}
	s.Permissions = g.Has
}

// Restore re-reads the persisted session after an external write (another
// browser context) and re-emits it through the transition logic without a
// network refresh.
func (m *Manager) Restore() {
	s := m.load()

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	if s != nil {
		m.sched.Arm(s)
	} else {
		m.sched.Cancel()
	}
	m.Transition(s)
}

// load reads the persisted session record. Absent, unreadable or incomplete
// records all count as no session.
func (m *Manager) load() *Session {
	b, err := m.store.Get(storage.KeyUser)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.log.Warn().Err(err).Msg("failed to read stored session")
		}
		return nil
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		m.log.Warn().Err(err).Msg("stored session is unreadable")
		return nil
	}
	if err := s.Validate(); err != nil {
		m.log.Warn().Err(err).Msg("stored session is incomplete")
		return nil
	}
	return &s
}
