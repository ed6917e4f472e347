package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jwulff/whisperweb/internal/db"
	"github.com/jwulff/whisperweb/internal/engine"
	"github.com/jwulff/whisperweb/internal/recorder"
	"github.com/jwulff/whisperweb/internal/session"
	"github.com/jwulff/whisperweb/internal/settings"
	"github.com/jwulff/whisperweb/internal/transcribe"
)

// silentDevice yields a stream that never produces audio until closed.
type silentDevice struct{}

func (silentDevice) Open(ctx context.Context, f recorder.Format) (io.ReadCloser, error) {
	r, _ := io.Pipe()
	return r, nil
}

type echoService struct{}

func (echoService) Transcribe(ctx context.Context, req transcribe.TranscriptionRequest) (string, error) {
	return "hello", nil
}

func (echoService) Translate(ctx context.Context, req transcribe.TranslationRequest) (string, error) {
	return req.Text, nil
}

// startServer runs an engine and a control server on a temp socket. Seeded
// sessions are stored before the engine loads, the last one becoming active.
func startServer(t *testing.T, seed ...session.Session) (*engine.Engine, string) {
	t.Helper()
	dir := t.TempDir()

	store, err := db.Open(filepath.Join(dir, "test.sqlite"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if len(seed) > 0 {
		if err := store.Put(db.KeySessions, seed); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	e, err := engine.New(engine.Deps{
		Store:  store,
		Device: silentDevice{},
		PipelineOptions: []transcribe.Option{
			transcribe.WithService(func(settings.API) transcribe.Service { return echoService{} }),
		},
		Clipboard: func(string) error { return nil },
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	sockPath := filepath.Join(dir, "ww.sock")
	srv, err := Listen(sockPath, e, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ctx); err != nil {
			t.Errorf("serve: %v", err)
		}
	}()

	t.Cleanup(func() {
		cancel()
		wg.Wait()
		e.Close()
		store.Close()
	})
	return e, sockPath
}

func dial(t *testing.T, sockPath string) *Client {
	t.Helper()
	c, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServerStatusStartStop(t *testing.T) {
	e, sockPath := startServer(t)
	c := dial(t, sockPath)

	resp, err := c.Call(Command{Cmd: CmdStatus})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if resp.Status != "idle" || resp.Recording == nil || *resp.Recording {
		t.Errorf("initial status = %+v", resp)
	}
	if resp.SessionID != e.ActiveSessionID() {
		t.Errorf("sessionId = %q, want %q", resp.SessionID, e.ActiveSessionID())
	}

	resp, err = c.Call(Command{Cmd: CmdStart})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.Status != "recording" || resp.Recording == nil || !*resp.Recording {
		t.Errorf("after start = %+v", resp)
	}
	if resp.StartTime == "" {
		t.Error("startTime empty while recording")
	}

	// Starting again is a no-op.
	if _, err := c.Call(Command{Cmd: CmdStart}); err != nil {
		t.Fatalf("second start: %v", err)
	}

	resp, err = c.Call(Command{Cmd: CmdStop})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if resp.Recording == nil || *resp.Recording {
		t.Errorf("after stop recording = %v", resp.Recording)
	}
	if e.Recording() {
		t.Error("engine still recording")
	}
}

func TestServerSessionCommands(t *testing.T) {
	e, sockPath := startServer(t)
	c := dial(t, sockPath)
	first := e.ActiveSessionID()

	resp, err := c.Call(Command{Cmd: CmdNewSession})
	if err != nil {
		t.Fatalf("new_session: %v", err)
	}
	second := resp.SessionID
	if second == "" || second == first {
		t.Fatalf("new session id = %q", second)
	}

	if _, err := c.Call(Command{Cmd: CmdRenameSession, SessionID: first, Name: "Standup"}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := c.Call(Command{Cmd: CmdRenameSession, SessionID: first, Name: "   "}); err == nil {
		t.Error("blank rename should fail")
	}

	resp, err = c.Call(Command{Cmd: CmdSessions})
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(resp.Sessions) != 2 {
		t.Fatalf("sessions len = %d, want 2", len(resp.Sessions))
	}
	if resp.Sessions[0].Name != "Standup" || resp.Sessions[0].Active {
		t.Errorf("sessions[0] = %+v", resp.Sessions[0])
	}
	if !resp.Sessions[1].Active {
		t.Errorf("sessions[1] should be active: %+v", resp.Sessions[1])
	}

	if _, err := c.Call(Command{Cmd: CmdSelectSession, SessionID: first}); err != nil {
		t.Fatalf("select: %v", err)
	}
	if e.ActiveSessionID() != first {
		t.Errorf("active = %q, want %q", e.ActiveSessionID(), first)
	}
	if _, err := c.Call(Command{Cmd: CmdSelectSession}); err == nil {
		t.Error("select without id should fail")
	}

	if _, err := c.Call(Command{Cmd: CmdDeleteSession, SessionID: first}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if e.ActiveSessionID() != "" {
		t.Errorf("active after deleting it = %q, want empty", e.ActiveSessionID())
	}
	if _, err := c.Call(Command{Cmd: CmdDeleteSession, SessionID: first}); err == nil {
		t.Error("deleting a missing session should fail")
	}
}

func TestServerEntryCommands(t *testing.T) {
	alpha, beta := session.NewEntry("alpha"), session.NewEntry("beta")
	seeded := session.Session{
		ID:        session.NewID(),
		Name:      "Session 1",
		Timestamp: time.Now().UTC(),
		Entries:   []session.Entry{alpha, beta},
	}
	e, sockPath := startServer(t, seeded)
	c := dial(t, sockPath)

	resp, err := c.Call(Command{Cmd: CmdEntries})
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if resp.SessionID != seeded.ID || len(resp.Entries) != 2 {
		t.Fatalf("entries = %+v", resp)
	}

	resp, err = c.Call(Command{Cmd: CmdCopyEntries, EntryIDs: []string{beta.ID, alpha.ID}})
	if err != nil {
		t.Fatalf("copy_entries: %v", err)
	}
	if resp.Text != "alpha\nbeta" {
		t.Errorf("copied = %q, want session order", resp.Text)
	}

	resp, err = c.Call(Command{Cmd: CmdDeleteEntries, EntryIDs: []string{alpha.ID}})
	if err != nil {
		t.Fatalf("delete_entries: %v", err)
	}
	if resp.Count == nil || *resp.Count != 1 {
		t.Errorf("count = %v, want 1", resp.Count)
	}
	if got := e.Entries(seeded.ID); len(got) != 1 || got[0].Transcription != "beta" {
		t.Errorf("remaining = %+v", got)
	}

	if _, err := c.Call(Command{Cmd: CmdDeleteEntries}); err == nil {
		t.Error("delete_entries without ids should fail")
	}
}

func TestServerSettingsRedactsKey(t *testing.T) {
	e, sockPath := startServer(t)
	if err := e.UpdateSettings(func(s *settings.Settings) { s.API.APIKey = "sk-secret" }); err != nil {
		t.Fatalf("update: %v", err)
	}
	c := dial(t, sockPath)

	resp, err := c.Call(Command{Cmd: CmdSettings})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if resp.Settings == nil {
		t.Fatal("settings missing from response")
	}
	if resp.Settings.API.APIKey == "sk-secret" {
		t.Error("api key should be redacted")
	}
	if resp.Settings.Whisper.RequestInterval != settings.DefaultRequestInterval {
		t.Errorf("interval = %d", resp.Settings.Whisper.RequestInterval)
	}
}

func TestServerExportAudioWithoutRecording(t *testing.T) {
	_, sockPath := startServer(t)
	c := dial(t, sockPath)

	_, err := c.Call(Command{Cmd: CmdExportAudio, Path: filepath.Join(t.TempDir(), "x.wav")})
	if err == nil {
		t.Fatal("expected error exporting before any recording")
	}
}

func TestServerUnknownAndInvalidCommands(t *testing.T) {
	_, sockPath := startServer(t)
	c := dial(t, sockPath)

	if _, err := c.conn.Write([]byte("{not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !c.scanner.Scan() {
		t.Fatal("no response to invalid command")
	}

	// The connection stays usable after a bad line.
	resp, err := c.SendCommand(Command{Cmd: "dance"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.OK || resp.Error != `unknown command "dance"` {
		t.Errorf("unknown command response = %+v", resp)
	}
}

func TestServerSubscribeStreamsEvents(t *testing.T) {
	e, sockPath := startServer(t)
	c := dial(t, sockPath)
	if err := c.Subscribe("notice", "sessions"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	id := e.NewSession()
	if err := e.DeleteSession(id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	want := []string{"sessions", "notice", "sessions"}
	for i, w := range want {
		ev, err := c.ReadEvent()
		if err != nil {
			t.Fatalf("read event %d: %v", i, err)
		}
		if ev.Event != w {
			t.Errorf("event %d = %q, want %q", i, ev.Event, w)
		}
		if ev.Event == "notice" && ev.Message != engine.MsgSessionDeleted {
			t.Errorf("notice = %q", ev.Message)
		}
	}
}

func TestListenRefusesLiveSocketAndReplacesStale(t *testing.T) {
	e, sockPath := startServer(t)
	if _, err := Listen(sockPath, e, nil); err != ErrDaemonRunning {
		t.Errorf("second Listen err = %v, want ErrDaemonRunning", err)
	}

	stale := filepath.Join(t.TempDir(), "stale.sock")
	if err := os.WriteFile(stale, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	srv, err := Listen(stale, e, nil)
	if err != nil {
		t.Fatalf("listen over stale socket: %v", err)
	}
	srv.Close()
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("socket file not removed on Close")
	}
}
