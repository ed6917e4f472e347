package session

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jwulff/whisperweb/internal/db"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrBlankName       = errors.New("session name is blank")
	ErrNoActiveSession = errors.New("no active session")
)

// Registry owns all sessions and the active-session pointer. It is safe for
// concurrent use; readers receive copies.
type Registry struct {
	mu       sync.Mutex
	store    *db.Store
	logger   *slog.Logger
	sessions []Session
	activeID string
	current  *CurrentRecording
	now      func() time.Time
}

// Open loads sessions and the recording descriptor from store. The most
// recently created session becomes active; with no sessions a new one is
// created.
func Open(store *db.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		store:    store,
		logger:   logger,
		sessions: db.Load[[]Session](store, db.KeySessions, nil),
		current:  db.Load[*CurrentRecording](store, db.KeyCurrentSession, nil),
		now:      time.Now,
	}
	for i := range r.sessions {
		if r.sessions[i].Entries == nil {
			r.sessions[i].Entries = []Entry{}
		}
	}

	// A process that died mid-recording leaves isRecording set.
	if r.current != nil && r.current.IsRecording {
		r.current.IsRecording = false
		r.current.Duration = ZeroDuration
		r.saveCurrent()
	}

	if n := len(r.sessions); n > 0 {
		r.activeID = r.sessions[n-1].ID
		if r.current == nil || r.current.SessionID != r.activeID {
			r.current = r.newDescriptor(r.activeID)
			r.saveCurrent()
		}
	} else {
		r.CreateSession()
	}
	return r
}

// Snapshot loads the persisted sessions without creating or selecting
// anything. Used by read-only consumers in other processes.
func Snapshot(store *db.Store) ([]Session, *CurrentRecording) {
	sessions := db.Load[[]Session](store, db.KeySessions, nil)
	current := db.Load[*CurrentRecording](store, db.KeyCurrentSession, nil)
	return sessions, current
}

// CreateSession appends a new session named "Session N", makes it active and
// resets the recording descriptor. It returns the new id.
func (r *Registry) CreateSession() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Session{
		ID:        NewID(),
		Name:      fmt.Sprintf("Session %d", len(r.sessions)+1),
		Timestamp: r.now().UTC(),
		Entries:   []Entry{},
	}
	r.sessions = append(r.sessions, s)
	r.activeID = s.ID
	r.current = r.newDescriptor(s.ID)

	r.saveSessions()
	r.saveCurrent()
	r.logger.Info("session created", "id", s.ID, "name", s.Name)
	return s.ID
}

// AddEntry appends entry to the session. Existing entries keep their order.
func (r *Registry) AddEntry(sessionID string, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(sessionID)
	if i < 0 {
		return fmt.Errorf("add entry to %s: %w", sessionID, ErrSessionNotFound)
	}
	r.sessions[i].Entries = append(r.sessions[i].Entries, entry)
	r.saveSessions()
	return nil
}

// UpdateEntries replaces the session's entries wholesale.
func (r *Registry) UpdateEntries(sessionID string, entries []Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(sessionID)
	if i < 0 {
		return fmt.Errorf("update entries of %s: %w", sessionID, ErrSessionNotFound)
	}
	r.sessions[i].Entries = append([]Entry{}, entries...)
	r.saveSessions()
	return nil
}

// DeleteEntries removes the entries with the given ids, keeping the relative
// order of the rest. It returns how many entries were removed.
func (r *Registry) DeleteEntries(sessionID string, entryIDs []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(sessionID)
	if i < 0 {
		return 0, fmt.Errorf("delete entries of %s: %w", sessionID, ErrSessionNotFound)
	}
	before := len(r.sessions[i].Entries)
	kept := slices.DeleteFunc(append([]Entry{}, r.sessions[i].Entries...), func(e Entry) bool {
		return slices.Contains(entryIDs, e.ID)
	})
	removed := before - len(kept)
	if removed == 0 {
		return 0, nil
	}
	r.sessions[i].Entries = kept
	r.saveSessions()
	return removed, nil
}

// CopyEntries joins the transcriptions of the selected entries with newlines,
// in session order.
func (r *Registry) CopyEntries(sessionID string, entryIDs []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(sessionID)
	if i < 0 {
		return "", fmt.Errorf("copy entries of %s: %w", sessionID, ErrSessionNotFound)
	}
	var lines []string
	for _, e := range r.sessions[i].Entries {
		if slices.Contains(entryIDs, e.ID) {
			lines = append(lines, e.Transcription)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// DeleteSession removes the session. Deleting the active session clears the
// active pointer and the recording descriptor.
func (r *Registry) DeleteSession(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(sessionID)
	if i < 0 {
		return fmt.Errorf("delete %s: %w", sessionID, ErrSessionNotFound)
	}
	r.sessions = slices.Delete(r.sessions, i, i+1)
	r.saveSessions()

	if r.activeID == sessionID {
		r.activeID = ""
		r.current = nil
		r.saveCurrent()
	}
	r.logger.Info("session deleted", "id", sessionID)
	return nil
}

// RenameSession sets the session's display name. Names are trimmed; a blank
// name leaves the session unchanged and returns ErrBlankName.
func (r *Registry) RenameSession(sessionID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrBlankName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(sessionID)
	if i < 0 {
		return fmt.Errorf("rename %s: %w", sessionID, ErrSessionNotFound)
	}
	r.sessions[i].Name = name
	r.saveSessions()
	return nil
}

// SetActiveSessionID makes id the recording target. An empty id clears the
// pointer. The recording descriptor follows the active session.
func (r *Registry) SetActiveSessionID(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		r.activeID = ""
		r.current = nil
		r.saveCurrent()
		return nil
	}
	if r.indexOf(id) < 0 {
		return fmt.Errorf("select %s: %w", id, ErrSessionNotFound)
	}
	r.activeID = id
	if r.current == nil {
		r.current = r.newDescriptor(id)
	} else {
		r.current.SessionID = id
	}
	r.saveCurrent()
	return nil
}

// ActiveSessionID returns the active session id, or "" when none is set.
func (r *Registry) ActiveSessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// SessionEntries returns a copy of the session's entries in insertion order,
// or an empty slice when the session does not exist.
func (r *Registry) SessionEntries(sessionID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(sessionID)
	if i < 0 {
		return []Entry{}
	}
	return append([]Entry{}, r.sessions[i].Entries...)
}

// ActiveEntries returns the entries of the active session.
func (r *Registry) ActiveEntries() []Entry {
	return r.SessionEntries(r.ActiveSessionID())
}

// Session returns a copy of one session.
func (r *Registry) Session(sessionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(sessionID)
	if i < 0 {
		return Session{}, false
	}
	return copySession(r.sessions[i]), true
}

// Sessions returns copies of all sessions in creation order.
func (r *Registry) Sessions() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Session, len(r.sessions))
	for i, s := range r.sessions {
		out[i] = copySession(s)
	}
	return out
}

// SetRecordingState marks the descriptor as recording or idle. Starting
// stamps the start time and zeroes the duration. Recording requires an
// active session.
func (r *Registry) SetRecordingState(recording bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		if recording {
			return ErrNoActiveSession
		}
		return nil
	}
	r.current.IsRecording = recording
	r.current.Duration = ZeroDuration
	if recording {
		r.current.StartTime = r.now().UTC()
	}
	r.saveCurrent()
	return nil
}

// SetDuration records the elapsed recording time as displayed text.
func (r *Registry) SetDuration(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil || r.current.Duration == text {
		return
	}
	r.current.Duration = text
	r.saveCurrent()
}

// Current returns the recording descriptor, if any.
func (r *Registry) Current() (CurrentRecording, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return CurrentRecording{}, false
	}
	return *r.current, true
}

// indexOf must be called with mu held.
func (r *Registry) indexOf(sessionID string) int {
	if sessionID == "" {
		return -1
	}
	return slices.IndexFunc(r.sessions, func(s Session) bool { return s.ID == sessionID })
}

func (r *Registry) newDescriptor(sessionID string) *CurrentRecording {
	return &CurrentRecording{
		SessionID: sessionID,
		StartTime: r.now().UTC(),
		Duration:  ZeroDuration,
	}
}

func (r *Registry) saveSessions() {
	r.store.Save(db.KeySessions, r.sessions)
}

func (r *Registry) saveCurrent() {
	if r.current == nil {
		r.store.Delete(db.KeyCurrentSession)
		return
	}
	r.store.Save(db.KeyCurrentSession, r.current)
}

func copySession(s Session) Session {
	s.Entries = append([]Entry{}, s.Entries...)
	return s
}
