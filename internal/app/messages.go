package app

import "github.com/jwulff/whisperweb/internal/daemon"

// DaemonConnectedMsg is sent when both daemon connections are established.
type DaemonConnectedMsg struct {
	Client   *daemon.Client // for commands (start, stop, sessions, entries)
	EvClient *daemon.Client // for event subscription
}

// DaemonConnectErrorMsg is sent when the daemon connection fails.
type DaemonConnectErrorMsg struct {
	Err error
}

// DaemonEventMsg wraps a streamed event from the daemon.
type DaemonEventMsg struct {
	Event daemon.Event
}

// DaemonEventErrorMsg is sent when the event stream encounters an error.
type DaemonEventErrorMsg struct {
	Err error
}

// StatusResponseMsg carries the response to a status command.
type StatusResponseMsg struct {
	Response daemon.Response
}

// SessionsResponseMsg carries the session listing.
type SessionsResponseMsg struct {
	Response daemon.Response
}

// EntriesResponseMsg carries the entries of one session.
type EntriesResponseMsg struct {
	SessionID string
	Response  daemon.Response
}

// SettingsResponseMsg carries the display settings.
type SettingsResponseMsg struct {
	Response daemon.Response
}

// CommandResponseMsg carries the response to a user action (start, stop,
// session and entry operations, export).
type CommandResponseMsg struct {
	Cmd      string
	Response daemon.Response
}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}

// ClearNoticeMsg clears the notice bar after a timeout.
type ClearNoticeMsg struct{}

// ReconnectTickMsg triggers a reconnection attempt.
type ReconnectTickMsg struct{}
