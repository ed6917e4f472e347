// Package session is the authoritative registry of transcript sessions, their
// entries and the active-session pointer. Every mutation is written through to
// the persistent store before the call returns.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one transcription result, with an optional translation.
type Entry struct {
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	Transcription string `json:"transcription"`
	Translation   string `json:"translation,omitempty"`
}

// Session is a named, ordered group of entries.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Entries   []Entry   `json:"entries"`
}

// CurrentRecording describes the recording target and its progress.
type CurrentRecording struct {
	SessionID   string    `json:"sessionId"`
	StartTime   time.Time `json:"startTime"`
	Duration    string    `json:"duration"`
	IsRecording bool      `json:"isRecording"`
}

// ZeroDuration is the duration shown before recording starts.
const ZeroDuration = "00:00:00"

// NewID returns a time-ordered unique id (UUIDv7). Ids generated within the
// same millisecond still sort in generation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewEntry builds an entry stamped with the current wall-clock time.
func NewEntry(transcription string) Entry {
	return Entry{
		ID:            NewID(),
		Timestamp:     time.Now().Format("15:04:05"),
		Transcription: transcription,
	}
}

// FormatDuration renders d as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}
