package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/jwulff/whisperweb/internal/engine"
	"github.com/jwulff/whisperweb/internal/session"
	"github.com/jwulff/whisperweb/internal/settings"
)

// Controller is the application surface the server exposes. *engine.Engine
// implements it.
type Controller interface {
	Status() engine.Status
	StartRecording(ctx context.Context) error
	StopRecording() error
	Sessions() []session.Session
	ActiveSessionID() string
	NewSession() string
	SelectSession(id string) error
	RenameSession(id, name string) error
	DeleteSession(id string) error
	Entries(sessionID string) []session.Entry
	DeleteEntries(sessionID string, entryIDs []string) (int, error)
	CopyEntries(sessionID string, entryIDs []string) (string, error)
	ExportAudio(path string) (string, error)
	Settings() settings.Settings
	Subscribe() *engine.Subscription
}

// ErrDaemonRunning is returned by Listen when another process serves the socket.
var ErrDaemonRunning = errors.New("another whisperweb is already listening")

// Server accepts NDJSON commands on a Unix socket.
type Server struct {
	ctl    Controller
	logger *slog.Logger
	ln     net.Listener
	path   string

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Listen binds the socket at path. A stale socket file left by a crashed
// process is removed; a live one yields ErrDaemonRunning.
func Listen(path string, ctl Controller, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if conn, err := net.DialTimeout("unix", path, 500*time.Millisecond); err == nil {
			conn.Close()
			return nil, ErrDaemonRunning
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	return &Server{
		ctl:    ctl,
		logger: logger,
		ln:     ln,
		path:   path,
		conns:  make(map[net.Conn]struct{}),
	}, nil
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handle(ctx, conn)
		}()
	}
}

// Close stops accepting, closes open connections and removes the socket.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.ln.Close()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	os.Remove(s.path)
	return err
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			if err := enc.Encode(Response{Error: "invalid command: " + err.Error()}); err != nil {
				return
			}
			continue
		}

		s.logger.Debug("command", "cmd", cmd.Cmd)
		if cmd.Cmd == CmdSubscribe {
			s.stream(conn, scanner, enc, cmd.Events)
			return
		}
		if err := enc.Encode(s.dispatch(ctx, cmd)); err != nil {
			s.logger.Debug("write response", "err", err)
			return
		}
	}
}

// stream sends events until the client hangs up or the engine closes.
func (s *Server) stream(conn net.Conn, scanner *bufio.Scanner, enc *json.Encoder, filter []string) {
	sub := s.ctl.Subscribe()
	defer sub.Close()

	if err := enc.Encode(Response{OK: true}); err != nil {
		return
	}

	hangup := make(chan struct{})
	go func() {
		defer close(hangup)
		for scanner.Scan() {
		}
	}()

	for {
		select {
		case <-hangup:
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			out := toEvent(ev)
			if len(filter) > 0 && !slices.Contains(filter, out.Event) {
				continue
			}
			if err := enc.Encode(out); err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, cmd Command) Response {
	switch cmd.Cmd {
	case CmdStatus:
		return statusResponse(s.ctl.Status())

	case CmdStart:
		if err := s.ctl.StartRecording(ctx); err != nil {
			return errorResponse(err)
		}
		return statusResponse(s.ctl.Status())

	case CmdStop:
		if err := s.ctl.StopRecording(); err != nil {
			return errorResponse(err)
		}
		return statusResponse(s.ctl.Status())

	case CmdSessions:
		active := s.ctl.ActiveSessionID()
		sessions := s.ctl.Sessions()
		infos := make([]SessionInfo, len(sessions))
		for i, sess := range sessions {
			infos[i] = SessionInfo{
				ID:      sess.ID,
				Name:    sess.Name,
				Created: sess.Timestamp,
				Entries: len(sess.Entries),
				Active:  sess.ID == active,
			}
		}
		return Response{OK: true, SessionID: active, Sessions: infos}

	case CmdNewSession:
		return Response{OK: true, SessionID: s.ctl.NewSession()}

	case CmdSelectSession:
		if cmd.SessionID == "" {
			return Response{Error: "sessionId is required"}
		}
		if err := s.ctl.SelectSession(cmd.SessionID); err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, SessionID: cmd.SessionID}

	case CmdRenameSession:
		if err := s.ctl.RenameSession(cmd.SessionID, cmd.Name); err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, SessionID: cmd.SessionID}

	case CmdDeleteSession:
		if cmd.SessionID == "" {
			return Response{Error: "sessionId is required"}
		}
		if err := s.ctl.DeleteSession(cmd.SessionID); err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, SessionID: cmd.SessionID}

	case CmdEntries:
		id := cmd.SessionID
		if id == "" {
			id = s.ctl.ActiveSessionID()
		}
		entries := s.ctl.Entries(id)
		return Response{OK: true, SessionID: id, Entries: entries, Count: IntPtr(len(entries))}

	case CmdDeleteEntries:
		if len(cmd.EntryIDs) == 0 {
			return Response{Error: "entryIds is required"}
		}
		n, err := s.ctl.DeleteEntries(cmd.SessionID, cmd.EntryIDs)
		if err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, SessionID: cmd.SessionID, Count: IntPtr(n)}

	case CmdCopyEntries:
		if len(cmd.EntryIDs) == 0 {
			return Response{Error: "entryIds is required"}
		}
		text, err := s.ctl.CopyEntries(cmd.SessionID, cmd.EntryIDs)
		if err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, SessionID: cmd.SessionID, Text: text}

	case CmdSettings:
		st := s.ctl.Settings()
		if st.API.APIKey != "" {
			st.API.APIKey = redacted
		}
		return Response{OK: true, Settings: &st}

	case CmdExportAudio:
		path, err := s.ctl.ExportAudio(cmd.Path)
		if err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, Path: path}

	default:
		return Response{Error: fmt.Sprintf("unknown command %q", cmd.Cmd)}
	}
}

const redacted = "********"

func errorResponse(err error) Response {
	return Response{Error: err.Error()}
}

func statusResponse(st engine.Status) Response {
	resp := Response{
		OK:         true,
		SessionID:  st.SessionID,
		Recording:  BoolPtr(st.Recording),
		Processing: BoolPtr(st.Processing),
		Status:     "idle",
		Duration:   st.Duration,
		Dropped:    &st.Dropped,
	}
	if st.Recording {
		resp.Status = "recording"
		resp.StartTime = st.StartTime.Local().Format("15:04:05")
	}
	return resp
}

func toEvent(ev engine.Event) Event {
	out := Event{
		Event:     string(ev.Kind),
		SessionID: ev.SessionID,
		Message:   ev.Message,
	}
	if ev.Seq > 0 {
		out.SequenceNumber = IntPtr(ev.Seq)
	}
	if ev.Entry != nil {
		out.EntryID = ev.Entry.ID
		out.Timestamp = ev.Entry.Timestamp
		out.Text = ev.Entry.Transcription
		out.Translation = ev.Entry.Translation
	}
	if ev.Status != nil {
		out.Recording = BoolPtr(ev.Status.Recording)
		out.Processing = BoolPtr(ev.Status.Processing)
		out.Duration = ev.Status.Duration
		if ev.Status.Recording {
			out.StartTime = ev.Status.StartTime.Local().Format("15:04:05")
		}
	}
	return out
}
