// Package db provides the SQLite-backed key/value store that persists
// whisperweb settings, sessions and the current recording descriptor.
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Keys under which whisperweb persists its state. All keys share KeyPrefix so
// the table can be shared with unrelated data.
const (
	KeyPrefix         = "whisper_web_"
	KeySettings       = KeyPrefix + "settings"
	KeySessions       = KeyPrefix + "sessions"
	KeyCurrentSession = KeyPrefix + "current_session"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("key not found")

const schema = `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updatedAt REAL NOT NULL
	);
`

// Store is a durable key/value store on top of SQLite. Values are JSON.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// DefaultDir returns the directory holding the database, socket and log.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "WhisperWeb")
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	return filepath.Join(DefaultDir(), "whisperweb.sqlite")
}

// Open opens (creating if needed) the database at path with WAL.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put serializes value and writes it under key.
func (s *Store) Put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO kv (key, value, updatedAt) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = excluded.updatedAt
	`, key, string(data), unixFromTime(time.Now()))
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Save is Put for callers that treat persistence as best effort: failures
// are logged and swallowed.
func (s *Store) Save(key string, value any) {
	if err := s.Put(key, value); err != nil {
		s.logger.Error("persist failed", "key", key, "err", err)
	}
}

// Get decodes the value stored under key into dst.
func (s *Store) Get(key string, dst any) error {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// Load returns the value stored under key, or def when the key is missing or
// its value cannot be decoded. Stored fields are decoded over a copy of def,
// so struct fields absent from the stored JSON keep their default.
func Load[T any](s *Store, key string, def T) T {
	v := def
	if err := s.Get(key, &v); err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("load failed, using default", "key", key, "err", err)
		}
		return def
	}
	return v
}

// Delete removes key. Failures are logged.
func (s *Store) Delete(key string) {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		s.logger.Error("delete failed", "key", key, "err", err)
	}
}

// Clear removes every whisperweb key, leaving foreign keys untouched.
func (s *Store) Clear() {
	for _, key := range []string{KeySettings, KeySessions, KeyCurrentSession} {
		s.Delete(key)
	}
}

// UpdatedAt reports when key was last written.
func (s *Store) UpdatedAt(key string) (time.Time, error) {
	var ts float64
	err := s.db.QueryRow(`SELECT updatedAt FROM kv WHERE key = ?`, key).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read %s: %w", key, err)
	}
	return timeFromUnix(ts), nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
