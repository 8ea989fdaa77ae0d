package events

// Channel and event names exchanged between the session core and the rest of
// the application.
const (
	// ChannelBoot carries the application bootstrap announcement.
	ChannelBoot = "serand"
	// ChannelStored carries notifications about external writes to the
	// persisted store (another browser context, another process).
	ChannelStored = "stored"
	// ChannelUser carries session lifecycle events.
	ChannelUser = "user"

	// EventReady on ChannelBoot triggers session initialization; on
	// ChannelUser it announces boot readiness with the session (or nil).
	EventReady = "ready"
	// EventUser on ChannelStored signals that the stored session record
	// changed outside this process.
	EventUser = "user"
	// EventLoggedIn announces a new authenticated session.
	EventLoggedIn = "logged in"
	// EventLoggedOut announces the end of the authenticated session.
	EventLoggedOut = "logged out"
	// EventAuthenticator requests a third-party login URI; the payload
	// carries a reply callback.
	EventAuthenticator = "authenticator"
	// EventLoginError reports a failed login or a terminal refresh failure.
	EventLoginError = "login error"
)
