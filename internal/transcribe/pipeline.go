package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jwulff/whisperweb/internal/recorder"
	"github.com/jwulff/whisperweb/internal/session"
	"github.com/jwulff/whisperweb/internal/settings"
)

// TranslationFailed replaces the translation when the translation call fails.
const TranslationFailed = "Translation failed"

var (
	// ErrBusy is returned by Submit when a segment is already in flight.
	ErrBusy = errors.New("pipeline busy")
	// ErrNoText means the endpoint recognized no speech in the segment.
	ErrNoText = errors.New("no speech recognized")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("pipeline closed")
)

// SettingsSource provides the settings snapshot used for each segment.
type SettingsSource interface {
	Get() settings.Settings
}

// Completion is a produced entry bound to the session that was active when
// its segment was submitted.
type Completion struct {
	SessionID string
	Seq       int
	Entry     session.Entry
}

// Failure is a segment whose transcription failed.
type Failure struct {
	SessionID string
	Seq       int
	Err       error
}

// Pipeline processes at most one segment at a time. Segments submitted while
// one is in flight are dropped, not queued.
type Pipeline struct {
	settings   SettingsSource
	newService func(settings.API) Service
	logger     *slog.Logger
	timeout    time.Duration

	busy    atomic.Bool
	dropped atomic.Int64

	completions chan Completion
	failures    chan Failure

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithService replaces the OpenAI client factory.
func WithService(fn func(settings.API) Service) Option {
	return func(p *Pipeline) { p.newService = fn }
}

// WithHTTPClient sets the HTTP client used by the default OpenAI service.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) {
		p.newService = func(api settings.API) Service { return NewOpenAI(api, c) }
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithTimeout bounds one segment's transcription plus translation.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// NewPipeline creates an idle pipeline reading settings from src.
func NewPipeline(src SettingsSource, opts ...Option) *Pipeline {
	p := &Pipeline{
		settings:    src,
		newService:  func(api settings.API) Service { return NewOpenAI(api, nil) },
		logger:      slog.Default(),
		timeout:     2 * time.Minute,
		completions: make(chan Completion, 16),
		failures:    make(chan Failure, 16),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Completions delivers produced entries. Closed by Close.
func (p *Pipeline) Completions() <-chan Completion { return p.completions }

// Failures delivers failed segments. Closed by Close.
func (p *Pipeline) Failures() <-chan Failure { return p.failures }

// Busy reports whether a segment is in flight.
func (p *Pipeline) Busy() bool { return p.busy.Load() }

// Dropped is the number of segments discarded because the pipeline was busy.
func (p *Pipeline) Dropped() int64 { return p.dropped.Load() }

// Submit starts processing seg on behalf of sessionID and returns
// immediately. It returns ErrBusy, dropping the segment, when another segment
// is in flight.
func (p *Pipeline) Submit(seg recorder.Segment, sessionID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if !p.busy.CompareAndSwap(false, true) {
		p.dropped.Add(1)
		p.logger.Debug("segment dropped, pipeline busy", "seq", seg.Seq, "session", sessionID)
		return ErrBusy
	}

	s := p.settings.Get()
	p.wg.Add(1)
	go p.run(seg, sessionID, s)
	return nil
}

func (p *Pipeline) run(seg recorder.Segment, sessionID string, s settings.Settings) {
	defer p.wg.Done()
	defer p.busy.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	entry, err := p.Process(ctx, seg.Audio, s)
	if err != nil {
		p.logger.Warn("segment failed", "seq", seg.Seq, "session", sessionID, "err", err)
		select {
		case p.failures <- Failure{SessionID: sessionID, Seq: seg.Seq, Err: err}:
		case <-p.done:
		}
		return
	}

	p.logger.Debug("segment transcribed", "seq", seg.Seq, "session", sessionID, "took", time.Since(start))
	select {
	case p.completions <- Completion{SessionID: sessionID, Seq: seg.Seq, Entry: entry}:
	case <-p.done:
	}
}

// Process transcribes audio and, when enabled, translates the result. A
// translation failure still yields an entry, with Translation set to
// TranslationFailed.
func (p *Pipeline) Process(ctx context.Context, audio []byte, s settings.Settings) (session.Entry, error) {
	svc := p.newService(s.API)

	text, err := svc.Transcribe(ctx, TranscriptionRequest{
		Audio:    audio,
		Model:    s.API.ResolvedModel(),
		Language: s.Whisper.RecognitionLanguage,
	})
	if err != nil {
		return session.Entry{}, fmt.Errorf("transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return session.Entry{}, ErrNoText
	}

	entry := session.NewEntry(text)
	if !s.Whisper.EnableTranslation {
		return entry, nil
	}

	translated, err := svc.Translate(ctx, TranslationRequest{
		Text:           text,
		TargetLanguage: s.Whisper.TargetLanguage,
		Model:          s.API.ResolvedTranslationModel(),
	})
	if err != nil {
		p.logger.Warn("translation failed", "target", s.Whisper.TargetLanguage, "err", err)
		entry.Translation = TranslationFailed
		return entry, nil
	}
	entry.Translation = translated
	return entry, nil
}

// Close stops accepting segments, waits for the in-flight one and closes the
// result channels. Results not yet received are discarded.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.completions)
	close(p.failures)
}
