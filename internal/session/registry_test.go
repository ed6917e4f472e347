package session

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jwulff/whisperweb/internal/db"
)

func openTestStore(t *testing.T) (*db.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.sqlite")
	store, err := db.Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestOpenEmptyCreatesSession(t *testing.T) {
	store, _ := openTestStore(t)

	r := Open(store, nil)

	sessions := r.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0].Name != "Session 1" {
		t.Errorf("name = %q, want %q", sessions[0].Name, "Session 1")
	}
	if r.ActiveSessionID() != sessions[0].ID {
		t.Errorf("active = %q, want %q", r.ActiveSessionID(), sessions[0].ID)
	}
	cur, ok := r.Current()
	if !ok || cur.SessionID != sessions[0].ID || cur.IsRecording || cur.Duration != ZeroDuration {
		t.Errorf("current = %+v, ok=%v", cur, ok)
	}
}

func TestOpenSelectsMostRecentSession(t *testing.T) {
	store, _ := openTestStore(t)

	r := Open(store, nil)
	r.CreateSession()
	third := r.CreateSession()
	if err := r.SetActiveSessionID(r.Sessions()[0].ID); err != nil {
		t.Fatalf("select: %v", err)
	}

	reopened := Open(store, nil)
	if reopened.ActiveSessionID() != third {
		t.Errorf("active after reload = %q, want latest %q", reopened.ActiveSessionID(), third)
	}
	if len(reopened.Sessions()) != 3 {
		t.Errorf("sessions after reload = %d, want 3", len(reopened.Sessions()))
	}
}

func TestOpenClearsStaleRecordingFlag(t *testing.T) {
	store, _ := openTestStore(t)

	r := Open(store, nil)
	if err := r.SetRecordingState(true); err != nil {
		t.Fatalf("SetRecordingState: %v", err)
	}

	reopened := Open(store, nil)
	cur, ok := reopened.Current()
	if !ok {
		t.Fatal("expected descriptor after reload")
	}
	if cur.IsRecording {
		t.Error("recording flag should not survive a reload")
	}
}

func TestCreateSessionBecomesActive(t *testing.T) {
	store, _ := openTestStore(t)
	r := Open(store, nil)

	id := r.CreateSession()

	if r.ActiveSessionID() != id {
		t.Errorf("active = %q, want %q", r.ActiveSessionID(), id)
	}
	s, ok := r.Session(id)
	if !ok {
		t.Fatal("new session not found")
	}
	if s.Name != "Session 2" {
		t.Errorf("name = %q, want Session 2", s.Name)
	}
	if len(s.Entries) != 0 {
		t.Errorf("entries = %d, want 0", len(s.Entries))
	}
}

func TestSessionIDsAreCreationOrdered(t *testing.T) {
	store, _ := openTestStore(t)
	r := Open(store, nil)

	prev := r.ActiveSessionID()
	for i := 0; i < 20; i++ {
		id := r.CreateSession()
		if id <= prev {
			t.Fatalf("id %q not after %q", id, prev)
		}
		prev = id
	}
}

func TestAddEntryPreservesOrder(t *testing.T) {
	store, _ := openTestStore(t)
	r := Open(store, nil)
	id := r.ActiveSessionID()

	for _, text := range []string{"one", "two", "three"} {
		if err := r.AddEntry(id, NewEntry(text)); err != nil {
			t.Fatalf("AddEntry: %v", err)
		}
	}

	entries := r.SessionEntries(id)
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	for i, want := range []string{"one", "two", "three"} {
		if entries[i].Transcription != want {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i].Transcription, want)
		}
	}
}

func TestAddEntryUnknownSession(t *testing.T) {
	store, _ := openTestStore(t)
	r := Open(store, nil)

	err := r.AddEntry("nope", NewEntry("lost"))
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestAddEntryIsDurable(t *testing.T) {
	store, _ := openTestStore(t)
	r := Open(store, nil)
	id := r.ActiveSessionID()

	if err := r.AddEntry(id, NewEntry("saved")); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	reopened := Open(store, nil)
	entries := reopened.SessionEntries(id)
	if len(entries) != 1 || entries[0].Transcription != "saved" {
		t.Errorf("entries after reload = %+v", entries)
	}
}

func TestReadsReturnCopies(t *testing.T) {
	store, _ := openTestStore(t)
	r := Open(store, nil)
	id := r.ActiveSessionID()
	r.AddEntry(id, NewEntry("original"))

	entries := r.SessionEntries(id)
	entries[0].Transcription = "mutated"

	if got := r.SessionEntries(id)[0].Transcription; got != "original" {
		t.Errorf("registry entry changed through copy: %q", got)
	}
}

func TestUpdateEntriesAndDeleteEntries(t *testing.T) {
	store, _ := openTestStore(t)
	r := Open(store, nil)
	id := r.ActiveSessionID()

	var ids []string
	for _, text := range []string{"a", "b", "c", "d"} {
		e := NewEntry(text)
		ids = append(ids, e.ID)
		r.AddEntry(id, e)
	}

	removed, err := r.DeleteEntries(id, []string{ids[1], ids[3]})
	if err != nil {
		t.Fatalf("DeleteEntries: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	entries := r.SessionEntries(id)
	if len(entries) != 2 || entries[0].Transcription != "a" || entries[1].Transcription != "c" {
		t.Errorf("survivors = %+v, want [a c]", entries)
	}

	if err := r.UpdateEntries(id, nil); err != nil {
		t.Fatalf("UpdateEntries: %v", err)
	}
	if n := len(r.SessionEntries(id)); n != 0 {
		t.Errorf("entries after clear = %d", n)
	}

	if err := r.UpdateEntries("nope", nil); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("UpdateEntries unknown err = %v", err)
	}
}

func TestCopyEntries(t *testing.T) {
	store, _ := openTestStore(t)
	r := Open(store, nil)
	id := r.ActiveSessionID()

	first, second, third := NewEntry("hello"), NewEntry("skip"), NewEntry("world")
	r.AddEntry(id, first)
	r.AddEntry(id, second)
	r.AddEntry(id, third)

	text, err := r.CopyEntries(id, []string{third.ID, first.ID})
	if err != nil {
		t.Fatalf("CopyEntries: %v", err)
	}
	if text != "hello\nworld" {
		t.Errorf("text = %q, want %q", text, "hello\nworld")
	}
}

func TestDeleteActiveSessionClearsPointer(t *testing.T) {
	store, _ := openTestStore(t)
	r := Open(store, nil)
	id := r.ActiveSessionID()

	if err := r.DeleteSession(id); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if r.ActiveSessionID() != "" {
		t.Errorf("active = %q, want empty", r.ActiveSessionID())
	}
	if _, ok := r.Current(); ok {
		t.Error("descriptor should be cleared")
	}
	if err := r.SetRecordingState(true); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("SetRecordingState err = %v, want ErrNoActiveSession", err)
	}
	if got := r.ActiveEntries(); len(got) != 0 {
		t.Errorf("ActiveEntries = %v, want empty", got)
	}

	newID := r.CreateSession()
	if r.ActiveSessionID() != newID {
		t.Errorf("new session should become active")
	}
}

func TestDeleteInactiveSessionKeepsPointer(t *testing.T) {
	store, _ := openTestStore(t)
	r := Open(store, nil)
	first := r.ActiveSessionID()
	second := r.CreateSession()

	if err := r.DeleteSession(first); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if r.ActiveSessionID() != second {
		t.Errorf("active = %q, want %q", r.ActiveSessionID(), second)
	}
	if err := r.DeleteSession(first); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestRenameSession(t *testing.T) {
	store, _ := openTestStore(t)
	r := Open(store, nil)
	id := r.ActiveSessionID()

	if err := r.RenameSession(id, "  Standup  "); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	s, _ := r.Session(id)
	if s.Name != "Standup" {
		t.Errorf("name = %q, want Standup", s.Name)
	}

	if err := r.RenameSession(id, "   "); !errors.Is(err, ErrBlankName) {
		t.Errorf("blank rename err = %v, want ErrBlankName", err)
	}
	s, _ = r.Session(id)
	if s.Name != "Standup" {
		t.Errorf("blank rename changed name to %q", s.Name)
	}
}

func TestSetActiveSessionID(t *testing.T) {
	store, _ := openTestStore(t)
	r := Open(store, nil)
	first := r.ActiveSessionID()
	r.CreateSession()

	if err := r.SetActiveSessionID(first); err != nil {
		t.Fatalf("select: %v", err)
	}
	if r.ActiveSessionID() != first {
		t.Errorf("active = %q, want %q", r.ActiveSessionID(), first)
	}
	cur, _ := r.Current()
	if cur.SessionID != first {
		t.Errorf("descriptor session = %q, want %q", cur.SessionID, first)
	}

	if err := r.SetActiveSessionID("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("select missing err = %v", err)
	}
	if r.ActiveSessionID() != first {
		t.Error("failed select should keep the previous session")
	}
}

func TestRecordingStateAndDuration(t *testing.T) {
	store, _ := openTestStore(t)
	r := Open(store, nil)
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return start }

	if err := r.SetRecordingState(true); err != nil {
		t.Fatalf("SetRecordingState: %v", err)
	}
	r.SetDuration("00:00:07")

	cur, _ := r.Current()
	if !cur.IsRecording || !cur.StartTime.Equal(start) || cur.Duration != "00:00:07" {
		t.Errorf("current = %+v", cur)
	}

	r.SetRecordingState(false)
	cur, _ = r.Current()
	if cur.IsRecording || cur.Duration != ZeroDuration {
		t.Errorf("after stop current = %+v", cur)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{59 * time.Second, "00:00:59"},
		{time.Hour + 2*time.Minute + 3*time.Second, "01:02:03"},
		{-time.Second, "00:00:00"},
	}
	for _, tc := range cases {
		if got := FormatDuration(tc.in); got != tc.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSnapshotDoesNotCreate(t *testing.T) {
	store, _ := openTestStore(t)

	sessions, current := Snapshot(store)
	if len(sessions) != 0 || current != nil {
		t.Errorf("Snapshot on empty store = %v, %v", sessions, current)
	}
}
