// Package engine is the application context. It owns the settings, the
// session registry, the recorder and the transcription pipeline, routes
// segments and results between them, and publishes events for the UI
// surfaces (TUI, control socket).
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/jwulff/whisperweb/internal/db"
	"github.com/jwulff/whisperweb/internal/recorder"
	"github.com/jwulff/whisperweb/internal/session"
	"github.com/jwulff/whisperweb/internal/settings"
	"github.com/jwulff/whisperweb/internal/transcribe"
)

// User-visible messages.
const (
	MsgSessionDeleted = "Session deleted successfully"
	MsgEntriesDeleted = "Entries deleted successfully"
	MsgEntriesCopied  = "Selected entries copied to clipboard"
)

// Deps are the collaborators of an Engine.
type Deps struct {
	Store  *db.Store
	Device recorder.Device
	Logger *slog.Logger

	RecorderOptions []recorder.Option
	PipelineOptions []transcribe.Option

	// Clipboard receives copied text. Defaults to the system clipboard.
	Clipboard func(string) error
	// DurationTick paces duration updates while recording. Defaults to 1s.
	DurationTick time.Duration
}

// Status is the recording status shown by the UI surfaces.
type Status struct {
	Recording   bool
	SessionID   string
	SessionName string
	// StartTime is zero when not recording.
	StartTime  time.Time
	Duration   string
	Processing bool
	Dropped    int64
	Interval   int
}

// Engine wires the components together. All methods are safe for concurrent
// use.
type Engine struct {
	settings *settings.Manager
	registry *session.Registry
	recorder *recorder.Recorder
	pipeline *transcribe.Pipeline
	events   *broadcaster
	logger   *slog.Logger

	clipboard func(string) error
	tick      time.Duration

	// mu serializes recording transitions with the session operations that
	// depend on them.
	mu     sync.Mutex
	closed bool
}

// New loads settings and sessions from the store and builds the recorder and
// pipeline. Nothing is started until StartRecording and Run.
func New(d Deps) (*Engine, error) {
	if d.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if d.Device == nil {
		return nil, errors.New("engine: capture device is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		settings:  settings.Load(d.Store, logger.With("component", "settings")),
		registry:  session.Open(d.Store, logger.With("component", "registry")),
		events:    newBroadcaster(),
		logger:    logger,
		clipboard: d.Clipboard,
		tick:      d.DurationTick,
	}
	if e.clipboard == nil {
		e.clipboard = clipboard.WriteAll
	}
	if e.tick <= 0 {
		e.tick = time.Second
	}

	popts := append([]transcribe.Option{transcribe.WithLogger(logger.With("component", "pipeline"))}, d.PipelineOptions...)
	e.pipeline = transcribe.NewPipeline(e.settings, popts...)

	ropts := append([]recorder.Option{
		recorder.WithLogger(logger.With("component", "recorder")),
		recorder.WithErrorHandler(e.onDeviceError),
	}, d.RecorderOptions...)
	e.recorder = recorder.New(d.Device, e.onSegment, ropts...)

	return e, nil
}

// Subscribe returns a subscription to engine events.
func (e *Engine) Subscribe() *Subscription {
	return e.events.subscribe(64)
}

// Settings returns the current settings.
func (e *Engine) Settings() settings.Settings {
	return e.settings.Get()
}

// UpdateSettings validates and persists a settings change. A new segment
// interval applies from the next recording.
func (e *Engine) UpdateSettings(fn func(*settings.Settings)) error {
	if err := e.settings.Update(fn); err != nil {
		return err
	}
	e.publishStatus()
	return nil
}

// StartRecording begins capturing into the active session, creating one when
// none is active. On device failure the recording state is rolled back and
// an error event is published.
func (e *Engine) StartRecording(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.New("engine closed")
	}
	if e.recorder.Recording() {
		return nil
	}

	if e.registry.ActiveSessionID() == "" {
		e.registry.CreateSession()
		e.publish(Event{Kind: EventSessions})
	}
	if err := e.registry.SetRecordingState(true); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}

	interval := time.Duration(e.settings.Get().Whisper.RequestInterval) * time.Second
	if err := e.recorder.Start(ctx, interval); err != nil {
		if rerr := e.registry.SetRecordingState(false); rerr != nil {
			e.logger.Error("roll back recording state", "err", rerr)
		}
		e.logger.Warn("recording failed to start", "err", err)
		e.publishError(fmt.Sprintf("Failed to start recording: %v", err))
		e.publishStatus()
		return err
	}

	e.publishStatus()
	return nil
}

// StopRecording stops capturing. In-flight transcriptions still complete.
func (e *Engine) StopRecording() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked()
}

// ToggleRecording starts or stops recording and reports the new state.
func (e *Engine) ToggleRecording(ctx context.Context) (bool, error) {
	if e.recorder.Recording() {
		return false, e.StopRecording()
	}
	err := e.StartRecording(ctx)
	return err == nil, err
}

func (e *Engine) stopLocked() error {
	wasRecording := e.recorder.Recording()
	err := e.recorder.Stop()
	if serr := e.registry.SetRecordingState(false); serr != nil {
		e.logger.Error("clear recording state", "err", serr)
	}
	if wasRecording {
		e.publishStatus()
	}
	return err
}

// Recording reports whether the recorder is armed.
func (e *Engine) Recording() bool {
	return e.recorder.Recording()
}

// Status returns the recording status.
func (e *Engine) Status() Status {
	st := Status{
		Recording:  e.recorder.Recording(),
		Duration:   session.ZeroDuration,
		Processing: e.pipeline.Busy(),
		Dropped:    e.pipeline.Dropped(),
		Interval:   e.settings.Get().Whisper.RequestInterval,
	}
	if cur, ok := e.registry.Current(); ok {
		st.SessionID = cur.SessionID
		st.Duration = cur.Duration
		if cur.IsRecording {
			st.StartTime = cur.StartTime
		}
	}
	if s, ok := e.registry.Session(st.SessionID); ok {
		st.SessionName = s.Name
	}
	return st
}

// Sessions returns all sessions in creation order.
func (e *Engine) Sessions() []session.Session {
	return e.registry.Sessions()
}

// Session returns one session.
func (e *Engine) Session(id string) (session.Session, bool) {
	return e.registry.Session(id)
}

// ActiveSessionID returns the recording target, or "".
func (e *Engine) ActiveSessionID() string {
	return e.registry.ActiveSessionID()
}

// Entries returns the entries of a session; "" means the active session.
func (e *Engine) Entries(sessionID string) []session.Entry {
	return e.registry.SessionEntries(e.resolve(sessionID))
}

// NewSession creates a session and makes it the recording target. A running
// recording continues into the new session.
func (e *Engine) NewSession() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.registry.CreateSession()
	if e.recorder.Recording() {
		if err := e.registry.SetRecordingState(true); err != nil {
			e.logger.Error("carry recording state", "err", err)
		}
	}
	e.publish(Event{Kind: EventSessions, SessionID: id})
	e.publishStatus()
	return id
}

// SelectSession makes id the recording target.
func (e *Engine) SelectSession(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.registry.SetActiveSessionID(id); err != nil {
		return err
	}
	e.publish(Event{Kind: EventSessions, SessionID: id})
	e.publishStatus()
	return nil
}

// RenameSession renames a session; "" means the active session. Blank names
// are rejected.
func (e *Engine) RenameSession(id, name string) error {
	id = e.resolve(id)
	if err := e.registry.RenameSession(id, name); err != nil {
		return err
	}
	e.publish(Event{Kind: EventSessions, SessionID: id})
	return nil
}

// DeleteSession removes a session. Deleting the recording target stops the
// recording first, since recording requires an active session.
func (e *Engine) DeleteSession(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id = e.resolve(id)
	if id == e.registry.ActiveSessionID() && e.recorder.Recording() {
		if err := e.stopLocked(); err != nil {
			e.logger.Warn("stop before delete", "err", err)
		}
	}
	if err := e.registry.DeleteSession(id); err != nil {
		return err
	}
	e.publishNotice(MsgSessionDeleted)
	e.publish(Event{Kind: EventSessions, SessionID: id})
	e.publishStatus()
	return nil
}

// DeleteEntries removes entries from a session; "" means the active session.
func (e *Engine) DeleteEntries(sessionID string, entryIDs []string) (int, error) {
	sessionID = e.resolve(sessionID)
	n, err := e.registry.DeleteEntries(sessionID, entryIDs)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.publishNotice(MsgEntriesDeleted)
		e.publish(Event{Kind: EventSessions, SessionID: sessionID})
	}
	return n, nil
}

// CopyEntries puts the selected transcriptions on the clipboard, one per
// line, and returns the copied text.
func (e *Engine) CopyEntries(sessionID string, entryIDs []string) (string, error) {
	text, err := e.registry.CopyEntries(e.resolve(sessionID), entryIDs)
	if err != nil {
		return "", err
	}
	if err := e.clipboard(text); err != nil {
		e.publishError(fmt.Sprintf("Copy failed: %v", err))
		return "", fmt.Errorf("write clipboard: %w", err)
	}
	e.publishNotice(MsgEntriesCopied)
	return text, nil
}

// ExportAudio writes everything recorded since the last start as one WAV
// file. An empty path means recording-<time>.wav in the working directory.
// It returns the path written.
func (e *Engine) ExportAudio(path string) (string, error) {
	wav, err := e.recorder.Export()
	if err != nil {
		return "", err
	}
	if path == "" {
		path = AudioFilename(time.Now())
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create export dir: %w", err)
		}
	}
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	e.publishNotice("Audio saved to " + path)
	return path, nil
}

// AudioFilename is the default export name for a recording made at t.
func AudioFilename(t time.Time) string {
	return "recording-" + t.Format("2006-01-02T15-04-05") + ".wav"
}

// Run routes pipeline results into the registry and keeps the recording
// duration current. It returns when ctx is cancelled or the engine is closed.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	completions := e.pipeline.Completions()
	failures := e.pipeline.Failures()
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-completions:
			if !ok {
				return nil
			}
			e.handleCompletion(c)
		case f, ok := <-failures:
			if !ok {
				return nil
			}
			e.handleFailure(f)
		case now := <-ticker.C:
			e.updateDuration(now)
		}
	}
}

// Close stops recording, waits for the in-flight segment and ends all
// subscriptions.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	err := e.stopLocked()
	e.mu.Unlock()

	e.pipeline.Close()
	e.events.close()
	return err
}

// onSegment runs on the recorder's delivery goroutine. It must not take mu:
// Stop waits for delivery to finish while mu is held.
func (e *Engine) onSegment(seg recorder.Segment) {
	sessionID := e.registry.ActiveSessionID()
	err := e.pipeline.Submit(seg, sessionID)
	switch {
	case errors.Is(err, transcribe.ErrBusy):
		e.publish(Event{Kind: EventDropped, SessionID: sessionID, Seq: seg.Seq})
	case err != nil:
		e.logger.Warn("segment not submitted", "seq", seg.Seq, "err", err)
	}
}

// onDeviceError stops the recording that failed. A late error from an
// earlier recording leaves the current one running.
func (e *Engine) onDeviceError(recording uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.recorder.Recording() || e.recorder.RecordingID() != recording {
		e.logger.Debug("device error from a finished recording", "recording", recording, "err", err)
		return
	}
	e.logger.Warn("capture device failed", "recording", recording, "err", err)
	if serr := e.stopLocked(); serr != nil {
		e.logger.Debug("stop after device failure", "err", serr)
	}
	e.publishError(fmt.Sprintf("Recording stopped: %v", err))
}

func (e *Engine) handleCompletion(c transcribe.Completion) {
	if err := e.registry.AddEntry(c.SessionID, c.Entry); err != nil {
		e.logger.Warn("transcription discarded", "session", c.SessionID, "seq", c.Seq, "err", err)
		e.publishError("Transcription discarded: its session no longer exists")
		return
	}
	entry := c.Entry
	e.publish(Event{Kind: EventEntry, SessionID: c.SessionID, Seq: c.Seq, Entry: &entry})
}

func (e *Engine) handleFailure(f transcribe.Failure) {
	if errors.Is(f.Err, transcribe.ErrNoText) {
		e.logger.Debug("segment had no speech", "seq", f.Seq)
		return
	}
	e.publishError("Transcription failed: " + transcribe.Describe(f.Err))
}

func (e *Engine) updateDuration(now time.Time) {
	cur, ok := e.registry.Current()
	if !ok || !cur.IsRecording || !e.recorder.Recording() {
		return
	}
	e.registry.SetDuration(session.FormatDuration(now.Sub(cur.StartTime)))
	e.publishStatus()
}

// resolve maps "" to the active session.
func (e *Engine) resolve(id string) string {
	if id == "" {
		return e.registry.ActiveSessionID()
	}
	return id
}

func (e *Engine) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if missed := e.events.publish(ev); missed > 0 {
		e.logger.Debug("slow subscribers missed event", "kind", ev.Kind, "missed", missed)
	}
}

func (e *Engine) publishStatus() {
	st := e.Status()
	e.publish(Event{Kind: EventStatus, SessionID: st.SessionID, Status: &st})
}

func (e *Engine) publishError(msg string) {
	e.publish(Event{Kind: EventError, Message: msg})
}

func (e *Engine) publishNotice(msg string) {
	e.publish(Event{Kind: EventNotice, Message: msg})
}
