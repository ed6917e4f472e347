// Package recorder owns the microphone and slices its PCM stream into
// contiguous, non-overlapping WAV segments on a fixed cadence.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrDevice wraps every failure to acquire the capture device.
	ErrDevice = errors.New("audio device unavailable")
	// ErrNothingRecorded is returned by Export before any audio was captured.
	ErrNothingRecorded = errors.New("nothing recorded")
)

// State is the recorder's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateCapturing
	// StateFinalizing is held while one segment is closed and the next opened.
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateCapturing:
		return "capturing"
	case StateFinalizing:
		return "finalizing"
	default:
		return "idle"
	}
}

// Segment is one bounded slice of captured audio.
type Segment struct {
	// Recording identifies the Start call the segment belongs to.
	Recording uint64
	// Seq numbers segments from 1 within a recording, in finalize order.
	Seq       int
	StartedAt time.Time
	EndedAt   time.Time
	// Audio is a complete WAV file.
	Audio []byte
}

// Sink receives finalized segments. It must not block for long: the
// recorder hands segments over in order from a single goroutine.
type Sink func(Segment)

// Recorder captures from a Device while armed. Start and Stop may be called
// from any goroutine.
type Recorder struct {
	device    Device
	format    Format
	sink      Sink
	onError   func(uint64, error)
	logger    *slog.Logger
	newTicker func(time.Duration) (<-chan time.Time, func())
	now       func() time.Time

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu        sync.Mutex
	state     State
	gen       uint64
	seq       int
	stream    io.ReadCloser
	stop      chan struct{}
	buf       []byte
	bufStart  time.Time
	captured  [][]byte
	startedAt time.Time

	wg sync.WaitGroup
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithFormat sets the PCM format requested from the device.
func WithFormat(f Format) Option {
	return func(r *Recorder) { r.format = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithTicker replaces the segmentation clock. The returned func stops it.
func WithTicker(fn func(time.Duration) (<-chan time.Time, func())) Option {
	return func(r *Recorder) { r.newTicker = fn }
}

// WithErrorHandler is called when the device stream fails mid-recording,
// with the RecordingID of the recording that failed.
func WithErrorHandler(fn func(recording uint64, err error)) Option {
	return func(r *Recorder) { r.onError = fn }
}

// New creates an idle recorder that delivers segments to sink.
func New(device Device, sink Sink, opts ...Option) *Recorder {
	r := &Recorder{
		device:    device,
		format:    DefaultFormat,
		sink:      sink,
		onError:   func(uint64, error) {},
		logger:    slog.Default(),
		newTicker: realTicker,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Start acquires the device and begins emitting a segment every interval.
// Calling Start while already recording is a no-op. On failure the recorder
// stays idle and the error wraps ErrDevice.
func (r *Recorder) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("segment interval must be positive, got %v", interval)
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.State() != StateIdle {
		return nil
	}

	stream, err := r.device.Open(ctx, r.format)
	if err != nil {
		if stream != nil {
			stream.Close()
		}
		return fmt.Errorf("%w: %w", ErrDevice, err)
	}

	now := r.now()
	stop := make(chan struct{})
	out := make(chan Segment, 8)

	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.seq = 0
	r.stream = stream
	r.stop = stop
	r.buf = nil
	r.bufStart = now
	r.captured = nil
	r.startedAt = now
	r.state = StateCapturing
	r.mu.Unlock()

	ticks, stopTicker := r.newTicker(interval)

	r.wg.Add(3)
	go r.capture(stream, gen)
	go r.segment(ticks, stopTicker, stop, out, gen)
	go r.deliver(out, gen)

	r.logger.Info("recording started", "recording", gen, "interval", interval)
	return nil
}

// Stop cancels segmentation and releases the device. It is idempotent. The
// in-progress buffer is not delivered but is kept for Export.
func (r *Recorder) Stop() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	if r.state == StateIdle {
		r.mu.Unlock()
		return nil
	}
	r.state = StateIdle
	stream := r.stream
	r.stream = nil
	close(r.stop)
	if len(r.buf) > 0 {
		r.captured = append(r.captured, r.buf)
		r.buf = nil
	}
	gen := r.gen
	r.mu.Unlock()

	var err error
	if stream != nil {
		if cerr := stream.Close(); cerr != nil {
			err = fmt.Errorf("release device: %w", cerr)
		}
	}
	r.wg.Wait()

	r.logger.Info("recording stopped", "recording", gen)
	return err
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Recording reports whether the recorder is armed.
func (r *Recorder) Recording() bool {
	return r.State() != StateIdle
}

// RecordingID identifies the current or last Start. It matches
// Segment.Recording.
func (r *Recorder) RecordingID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

// StartedAt returns when the current or last recording started.
func (r *Recorder) StartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt
}

// Buffered returns the number of PCM bytes in the in-progress segment.
func (r *Recorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Export assembles all audio captured since the last Start into one WAV.
// It does not interrupt an ongoing recording.
func (r *Recorder) Export() ([]byte, error) {
	r.mu.Lock()
	size := len(r.buf)
	for _, p := range r.captured {
		size += len(p)
	}
	pcm := make([]byte, 0, size)
	for _, p := range r.captured {
		pcm = append(pcm, p...)
	}
	pcm = append(pcm, r.buf...)
	r.mu.Unlock()

	pcm = pcm[:len(pcm)-len(pcm)%r.format.frameSize()]
	if len(pcm) == 0 {
		return nil, ErrNothingRecorded
	}
	return EncodeWAV(r.format, pcm), nil
}

// capture copies device PCM into the in-progress buffer until the stream ends.
func (r *Recorder) capture(stream io.Reader, gen uint64) {
	defer r.wg.Done()

	chunk := make([]byte, 4096)
	for {
		n, err := stream.Read(chunk)
		if n > 0 {
			r.mu.Lock()
			if r.gen == gen && r.state != StateIdle {
				r.buf = append(r.buf, chunk[:n]...)
			}
			r.mu.Unlock()
		}
		if err != nil {
			if r.isActive(gen) {
				r.logger.Warn("capture stream ended", "recording", gen, "err", err)
				go r.onError(gen, fmt.Errorf("%w: %w", ErrDevice, err))
			}
			return
		}
	}
}

// segment finalizes one segment per tick and queues it for delivery.
func (r *Recorder) segment(ticks <-chan time.Time, stopTicker func(), stop <-chan struct{}, out chan<- Segment, gen uint64) {
	defer r.wg.Done()
	defer close(out)
	defer stopTicker()

	for {
		select {
		case <-stop:
			return
		case <-ticks:
			seg, ok := r.finalize(gen)
			if !ok {
				continue
			}
			select {
			case out <- seg:
			case <-stop:
				return
			}
		}
	}
}

// finalize swaps the in-progress buffer for a fresh one in a single critical
// section, so no frame lands in two segments. Segments hold whole frames only.
func (r *Recorder) finalize(gen uint64) (Segment, bool) {
	r.mu.Lock()
	if r.gen != gen || r.state != StateCapturing {
		r.mu.Unlock()
		return Segment{}, false
	}
	r.state = StateFinalizing
	now := r.now()
	pcm := r.buf
	started := r.bufStart
	r.buf = nil
	// A partial frame at the boundary opens the next segment.
	if rem := len(pcm) % r.format.frameSize(); rem > 0 {
		r.buf = append([]byte(nil), pcm[len(pcm)-rem:]...)
		pcm = pcm[:len(pcm)-rem]
	}
	r.bufStart = now
	if len(pcm) > 0 {
		r.captured = append(r.captured, pcm)
		r.seq++
	}
	seq := r.seq
	r.state = StateCapturing
	r.mu.Unlock()

	if len(pcm) == 0 {
		return Segment{}, false
	}
	return Segment{
		Recording: gen,
		Seq:       seq,
		StartedAt: started,
		EndedAt:   now,
		Audio:     EncodeWAV(r.format, pcm),
	}, true
}

// deliver hands segments to the sink in finalize order. The active check
// happens here, at delivery time, so nothing is delivered after Stop.
func (r *Recorder) deliver(out <-chan Segment, gen uint64) {
	defer r.wg.Done()

	for seg := range out {
		if !r.isActive(gen) {
			r.logger.Debug("segment suppressed after stop", "recording", gen, "seq", seg.Seq)
			continue
		}
		r.sink(seg)
	}
}

func (r *Recorder) isActive(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen == gen && r.state != StateIdle
}
