// Package daemon provides the server, client and protocol types for
// controlling a running whisperweb over a Unix socket using NDJSON.
package daemon

import (
	"time"

	"github.com/jwulff/whisperweb/internal/session"
	"github.com/jwulff/whisperweb/internal/settings"
)

// Command names.
const (
	CmdStatus        = "status"
	CmdStart         = "start"
	CmdStop          = "stop"
	CmdSessions      = "sessions"
	CmdNewSession    = "new_session"
	CmdSelectSession = "select_session"
	CmdRenameSession = "rename_session"
	CmdDeleteSession = "delete_session"
	CmdEntries       = "entries"
	CmdDeleteEntries = "delete_entries"
	CmdCopyEntries   = "copy_entries"
	CmdExportAudio   = "export_audio"
	CmdSettings      = "settings"
	CmdSubscribe     = "subscribe"
)

// Command is sent from a client to the daemon.
type Command struct {
	Cmd       string   `json:"cmd"`
	SessionID string   `json:"sessionId,omitempty"`
	Name      string   `json:"name,omitempty"`
	EntryIDs  []string `json:"entryIds,omitempty"`
	Path      string   `json:"path,omitempty"`
	// Events filters a subscription; empty means all events.
	Events []string `json:"events,omitempty"`
}

// Response is returned by the daemon after processing a command.
type Response struct {
	OK         bool               `json:"ok"`
	SessionID  string             `json:"sessionId,omitempty"`
	Recording  *bool              `json:"recording,omitempty"`
	Processing *bool              `json:"processing,omitempty"`
	Status     string             `json:"status,omitempty"`
	Duration   string             `json:"duration,omitempty"`
	StartTime  string             `json:"startTime,omitempty"`
	Dropped    *int64             `json:"dropped,omitempty"`
	Sessions   []SessionInfo      `json:"sessions,omitempty"`
	Entries    []session.Entry    `json:"entries,omitempty"`
	Count      *int               `json:"count,omitempty"`
	Path       string             `json:"path,omitempty"`
	Text       string             `json:"text,omitempty"`
	// Settings is returned by the settings command with the API key redacted.
	Settings   *settings.Settings `json:"settings,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// SessionInfo summarizes one session in a sessions listing.
type SessionInfo struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
	Entries int       `json:"entries"`
	Active  bool      `json:"active,omitempty"`
}

// Event is streamed from the daemon to subscribed clients.
type Event struct {
	Event          string `json:"event"`
	SessionID      string `json:"sessionId,omitempty"`
	SequenceNumber *int   `json:"sequenceNumber,omitempty"`
	EntryID        string `json:"entryId,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
	Text           string `json:"text,omitempty"`
	Translation    string `json:"translation,omitempty"`
	Message        string `json:"message,omitempty"`
	Recording      *bool  `json:"recording,omitempty"`
	Processing     *bool  `json:"processing,omitempty"`
	Duration       string `json:"duration,omitempty"`
	StartTime      string `json:"startTime,omitempty"`
}

// BoolPtr returns a pointer to a bool value. Convenience for building responses.
func BoolPtr(b bool) *bool { return &b }

// IntPtr returns a pointer to an int value.
func IntPtr(n int) *int { return &n }
