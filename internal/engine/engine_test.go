package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jwulff/whisperweb/internal/db"
	"github.com/jwulff/whisperweb/internal/recorder"
	"github.com/jwulff/whisperweb/internal/session"
	"github.com/jwulff/whisperweb/internal/settings"
	"github.com/jwulff/whisperweb/internal/transcribe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeStream struct {
	*io.PipeReader
	w *io.PipeWriter
}

type fakeDevice struct {
	mu      sync.Mutex
	err     error
	streams []*pipeStream
}

func (d *fakeDevice) Open(ctx context.Context, f recorder.Format) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	r, w := io.Pipe()
	s := &pipeStream{PipeReader: r, w: w}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) write(t *testing.T, pcm []byte) {
	t.Helper()
	d.mu.Lock()
	s := d.streams[len(d.streams)-1]
	d.mu.Unlock()
	_, err := s.w.Write(pcm)
	require.NoError(t, err)
}

// stubService answers transcriptions with queued texts; when gated, each
// request waits for a value on gate.
type stubService struct {
	mu    sync.Mutex
	texts []string
	err   error
	gate  chan struct{}
	calls int
}

func (s *stubService) Transcribe(ctx context.Context, req transcribe.TranscriptionRequest) (string, error) {
	s.mu.Lock()
	s.calls++
	gate, err := s.gate, s.err
	text := ""
	if len(s.texts) > 0 {
		text, s.texts = s.texts[0], s.texts[1:]
	}
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return text, err
}

func (s *stubService) Translate(ctx context.Context, req transcribe.TranslationRequest) (string, error) {
	return "", errors.New("no translation backend")
}

func (s *stubService) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type harness struct {
	engine *Engine
	store  *db.Store
	device *fakeDevice
	svc    *stubService
	ticks  chan time.Time
	events *Subscription
	copied []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "test.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{
		store:  store,
		device: &fakeDevice{},
		svc:    &stubService{},
		ticks:  make(chan time.Time),
	}
	e, err := New(Deps{
		Store:  store,
		Device: h.device,
		RecorderOptions: []recorder.Option{
			recorder.WithTicker(func(time.Duration) (<-chan time.Time, func()) { return h.ticks, func() {} }),
		},
		PipelineOptions: []transcribe.Option{
			transcribe.WithService(func(settings.API) transcribe.Service { return h.svc }),
		},
		Clipboard: func(s string) error {
			h.copied = append(h.copied, s)
			return nil
		},
		DurationTick: time.Hour,
	})
	require.NoError(t, err)
	h.engine = e
	h.events = e.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		e.Close()
	})
	return h
}

// segment feeds pcm and fires one segmentation tick.
func (h *harness) segment(t *testing.T, pcm ...byte) {
	t.Helper()
	rec := h.engine.recorder
	require.Eventually(t, func() bool { return rec.Buffered() == 0 }, 2*time.Second, 5*time.Millisecond)
	h.device.write(t, pcm)
	require.Eventually(t, func() bool { return rec.Buffered() >= len(pcm) }, 2*time.Second, 5*time.Millisecond)
	select {
	case h.ticks <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("tick not accepted")
	}
}

// next returns the next event of the given kind, skipping others.
func (h *harness) next(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-h.events.C:
			require.True(t, ok, "subscription closed")
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestStartStopRecording(t *testing.T) {
	h := newHarness(t)
	e := h.engine

	require.NoError(t, e.StartRecording(context.Background()))
	assert.True(t, e.Recording())
	st := h.next(t, EventStatus).Status
	require.NotNil(t, st)
	assert.True(t, st.Recording)
	assert.Equal(t, e.ActiveSessionID(), st.SessionID)
	assert.Equal(t, "Session 1", st.SessionName)
	assert.False(t, st.StartTime.IsZero())

	cur, ok := e.registry.Current()
	require.True(t, ok)
	assert.True(t, cur.IsRecording)

	require.NoError(t, e.StopRecording())
	assert.False(t, e.Recording())
	cur, _ = e.registry.Current()
	assert.False(t, cur.IsRecording)
	assert.Equal(t, session.ZeroDuration, cur.Duration)
	require.NoError(t, e.StopRecording())
}

func TestStartFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.device.err = errors.New("permission denied")

	err := h.engine.StartRecording(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, recorder.ErrDevice)
	assert.False(t, h.engine.Recording())

	cur, ok := h.engine.registry.Current()
	require.True(t, ok)
	assert.False(t, cur.IsRecording)

	ev := h.next(t, EventError)
	assert.Contains(t, ev.Message, "permission denied")
	n, ok := ev.Notification()
	require.True(t, ok)
	assert.Equal(t, "error", n.Level)
}

func TestStartWithoutActiveSessionCreatesOne(t *testing.T) {
	h := newHarness(t)
	e := h.engine
	first := e.ActiveSessionID()
	require.NoError(t, e.DeleteSession(first))
	assert.Empty(t, e.ActiveSessionID())

	require.NoError(t, e.StartRecording(context.Background()))
	assert.NotEmpty(t, e.ActiveSessionID())
	assert.NotEqual(t, first, e.ActiveSessionID())
	assert.Len(t, e.Sessions(), 1)
}

func TestSegmentBecomesEntry(t *testing.T) {
	h := newHarness(t)
	h.svc.texts = []string{"hello"}
	e := h.engine
	active := e.ActiveSessionID()

	require.NoError(t, e.StartRecording(context.Background()))
	h.segment(t, 1, 2, 3, 4)

	ev := h.next(t, EventEntry)
	assert.Equal(t, active, ev.SessionID)
	require.NotNil(t, ev.Entry)
	assert.Equal(t, "hello", ev.Entry.Transcription)
	assert.Empty(t, ev.Entry.Translation)

	entries := e.Entries("")
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Transcription)

	// The entry is durable before the event is published.
	sessions, _ := session.Snapshot(h.store)
	require.Len(t, sessions, 1)
	assert.Len(t, sessions[0].Entries, 1)
}

func TestSegmentDroppedWhileTranscribing(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.svc.gate = gate
	h.svc.texts = []string{"hello", "world"}
	e := h.engine

	require.NoError(t, e.StartRecording(context.Background()))
	h.segment(t, 1, 1)
	require.Eventually(t, func() bool { return h.svc.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.segment(t, 2, 2)
	dropped := h.next(t, EventDropped)
	assert.Equal(t, 2, dropped.Seq)

	gate <- struct{}{}
	assert.Equal(t, "hello", h.next(t, EventEntry).Entry.Transcription)

	require.Eventually(t, func() bool { return !e.pipeline.Busy() }, 2*time.Second, 5*time.Millisecond)
	h.segment(t, 3, 3)
	gate <- struct{}{}
	ev := h.next(t, EventEntry)
	assert.Equal(t, "world", ev.Entry.Transcription)
	assert.Equal(t, 3, ev.Seq)

	assert.Len(t, e.Entries(""), 2)
	assert.Equal(t, 2, h.svc.callCount())
	assert.Equal(t, int64(1), e.Status().Dropped)
}

func TestResultAttachesToSubmittingSession(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.svc.gate = gate
	h.svc.texts = []string{"first"}
	e := h.engine
	original := e.ActiveSessionID()

	require.NoError(t, e.StartRecording(context.Background()))
	h.segment(t, 1, 1)
	require.Eventually(t, func() bool { return h.svc.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	newer := e.NewSession()
	assert.True(t, e.Recording(), "recording continues into the new session")
	gate <- struct{}{}

	ev := h.next(t, EventEntry)
	assert.Equal(t, original, ev.SessionID)
	assert.Len(t, e.Entries(original), 1)
	assert.Empty(t, e.Entries(newer))
}

func TestResultForDeletedSessionIsReported(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.svc.gate = gate
	h.svc.texts = []string{"orphan"}
	e := h.engine
	original := e.ActiveSessionID()

	require.NoError(t, e.StartRecording(context.Background()))
	h.segment(t, 1, 1)
	require.Eventually(t, func() bool { return h.svc.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, e.DeleteSession(original))
	assert.False(t, e.Recording(), "deleting the recording target stops recording")
	gate <- struct{}{}

	ev := h.next(t, EventError)
	assert.Contains(t, ev.Message, "discarded")
	for _, s := range e.Sessions() {
		assert.Empty(t, s.Entries)
	}
}

func TestTranscriptionFailureNotifies(t *testing.T) {
	h := newHarness(t)
	h.svc.err = errors.New("connection refused")

	require.NoError(t, h.engine.StartRecording(context.Background()))
	h.segment(t, 1, 1)

	ev := h.next(t, EventError)
	assert.Contains(t, ev.Message, "Transcription failed: ")
	assert.Contains(t, ev.Message, "connection refused")
	assert.Empty(t, h.engine.Entries(""))
	assert.True(t, h.engine.Recording(), "failures do not stop recording")
}

func TestDurationUpdates(t *testing.T) {
	h := newHarness(t)
	e := h.engine

	// Not recording: nothing changes.
	e.updateDuration(time.Now().Add(time.Hour))
	cur, _ := e.registry.Current()
	assert.Equal(t, session.ZeroDuration, cur.Duration)

	require.NoError(t, e.StartRecording(context.Background()))
	cur, _ = e.registry.Current()
	e.updateDuration(cur.StartTime.Add(65 * time.Second))

	cur, _ = e.registry.Current()
	assert.Equal(t, "00:01:05", cur.Duration)
	assert.Equal(t, "00:01:05", e.Status().Duration)

	require.NoError(t, e.StopRecording())
	assert.Equal(t, session.ZeroDuration, e.Status().Duration)
	assert.True(t, e.Status().StartTime.IsZero())
}

func TestSessionOperations(t *testing.T) {
	h := newHarness(t)
	e := h.engine
	first := e.ActiveSessionID()

	second := e.NewSession()
	assert.Equal(t, second, e.ActiveSessionID())
	require.NoError(t, e.SelectSession(first))
	assert.Equal(t, first, e.ActiveSessionID())

	require.NoError(t, e.RenameSession(first, "  Standup  "))
	s, ok := e.Session(first)
	require.True(t, ok)
	assert.Equal(t, "Standup", s.Name)

	assert.ErrorIs(t, e.RenameSession(first, "   "), session.ErrBlankName)
	s, _ = e.Session(first)
	assert.Equal(t, "Standup", s.Name)

	assert.ErrorIs(t, e.SelectSession("missing"), session.ErrSessionNotFound)

	require.NoError(t, e.DeleteSession(second))
	assert.Equal(t, MsgSessionDeleted, h.next(t, EventNotice).Message)
	assert.Len(t, e.Sessions(), 1)
}

func TestRenameActiveSessionEventNamesSession(t *testing.T) {
	h := newHarness(t)
	e := h.engine
	active := e.ActiveSessionID()

	require.NoError(t, e.RenameSession("", "Retro"))
	ev := h.next(t, EventSessions)
	assert.Equal(t, active, ev.SessionID)
	s, _ := e.Session(active)
	assert.Equal(t, "Retro", s.Name)
}

func TestStaleDeviceErrorKeepsCurrentRecording(t *testing.T) {
	h := newHarness(t)
	e := h.engine
	ctx := context.Background()

	require.NoError(t, e.StartRecording(ctx))
	old := e.recorder.RecordingID()
	require.NoError(t, e.StopRecording())
	require.NoError(t, e.StartRecording(ctx))

	e.onDeviceError(old, fmt.Errorf("%w: unplugged", recorder.ErrDevice))
	assert.True(t, e.Recording(), "an error from the previous recording must not stop this one")

	e.onDeviceError(e.recorder.RecordingID(), fmt.Errorf("%w: unplugged", recorder.ErrDevice))
	assert.False(t, e.Recording())
	assert.Contains(t, h.next(t, EventError).Message, "unplugged")
}

func TestEntryDeleteAndCopy(t *testing.T) {
	h := newHarness(t)
	e := h.engine
	id := e.ActiveSessionID()
	a, b, c := session.NewEntry("alpha"), session.NewEntry("beta"), session.NewEntry("gamma")
	for _, en := range []session.Entry{a, b, c} {
		require.NoError(t, e.registry.AddEntry(id, en))
	}

	text, err := e.CopyEntries("", []string{c.ID, a.ID})
	require.NoError(t, err)
	assert.Equal(t, "alpha\ngamma", text)
	assert.Equal(t, []string{"alpha\ngamma"}, h.copied)
	assert.Equal(t, MsgEntriesCopied, h.next(t, EventNotice).Message)

	n, err := e.DeleteEntries(id, []string{b.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, MsgEntriesDeleted, h.next(t, EventNotice).Message)

	entries := e.Entries(id)
	require.Len(t, entries, 2)
	assert.Equal(t, "alpha", entries[0].Transcription)
	assert.Equal(t, "gamma", entries[1].Transcription)
}

func TestExportAudio(t *testing.T) {
	h := newHarness(t)
	e := h.engine

	_, err := e.ExportAudio(filepath.Join(t.TempDir(), "none.wav"))
	assert.ErrorIs(t, err, recorder.ErrNothingRecorded)

	require.NoError(t, e.StartRecording(context.Background()))
	h.device.write(t, []byte{1, 2, 3, 4})
	require.Eventually(t, func() bool { return e.recorder.Buffered() == 4 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, e.StopRecording())

	path := filepath.Join(t.TempDir(), "out", "rec.wav")
	got, err := e.ExportAudio(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, pcm, err := recorder.DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, pcm)
}

func TestAudioFilename(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	assert.Equal(t, "recording-2024-03-09T14-05-06.wav", AudioFilename(ts))
}

func TestUpdateSettings(t *testing.T) {
	h := newHarness(t)
	e := h.engine

	require.NoError(t, e.UpdateSettings(func(s *settings.Settings) { s.Whisper.RequestInterval = 5 }))
	assert.Equal(t, 5, e.Settings().Whisper.RequestInterval)
	assert.Equal(t, 5, e.Status().Interval)

	err := e.UpdateSettings(func(s *settings.Settings) { s.Whisper.RequestInterval = 0 })
	assert.ErrorIs(t, err, settings.ErrInvalid)
	assert.Equal(t, 5, e.Settings().Whisper.RequestInterval)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.StartRecording(context.Background()))
	require.NoError(t, h.engine.Close())
	assert.False(t, h.engine.Recording())

	for range h.events.C {
	}
	assert.Error(t, h.engine.StartRecording(context.Background()))
}
