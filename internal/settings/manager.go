package settings

import (
	"log/slog"
	"sync"

	"github.com/jwulff/whisperweb/internal/db"
)

// Manager owns the live Settings and writes them to the store on every change.
type Manager struct {
	mu       sync.RWMutex
	settings Settings
	store    *db.Store
	logger   *slog.Logger
}

// Load reads settings from the store, merged over Defaults. Invalid stored
// values are replaced field-group by field-group with defaults.
func Load(store *db.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	s := db.Load(store, db.KeySettings, Defaults())
	if err := s.Validate(); err != nil {
		logger.Warn("stored settings invalid, repairing", "err", err)
		s = repair(s)
	}
	return &Manager{settings: s, store: store, logger: logger}
}

// Get returns a snapshot of the current settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Update applies fn to a copy of the settings, validates the result and, if
// valid, makes it current and persists it.
func (m *Manager) Update(fn func(*Settings)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.settings
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	m.settings = next
	m.store.Save(db.KeySettings, next)
	m.logger.Debug("settings updated")
	return nil
}

// repair keeps each group of s that validates on its own and resets the rest.
func repair(s Settings) Settings {
	out := Defaults()

	c := Defaults()
	c.View = s.View
	if c.Validate() == nil {
		out.View = s.View
	}

	c = Defaults()
	c.Whisper = s.Whisper
	if c.Validate() == nil {
		out.Whisper = s.Whisper
	}

	c = Defaults()
	c.API = s.API
	if c.Validate() == nil {
		out.API = s.API
	}
	return out
}
