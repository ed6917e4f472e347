package recorder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Device opens a stream of raw little-endian PCM in the requested format.
type Device interface {
	Open(ctx context.Context, f Format) (io.ReadCloser, error)
}

// ErrPermissionDenied is reported when the OS refuses microphone access.
var ErrPermissionDenied = errors.New("microphone permission denied")

// FFmpegDevice captures from the system microphone by running ffmpeg and
// reading s16le PCM from its stdout.
type FFmpegDevice struct {
	// Binary is the ffmpeg executable. Defaults to "ffmpeg" on PATH.
	Binary string
	// InputFormat is the ffmpeg demuxer, e.g. "avfoundation" or "pulse".
	InputFormat string
	// Input is the device name passed to -i.
	Input string
	// StartTimeout bounds the wait for the first audio bytes.
	StartTimeout time.Duration
}

// DefaultFFmpegDevice returns the platform's default microphone source.
func DefaultFFmpegDevice() *FFmpegDevice {
	d := &FFmpegDevice{Binary: "ffmpeg", StartTimeout: 5 * time.Second}
	switch runtime.GOOS {
	case "darwin":
		d.InputFormat, d.Input = "avfoundation", ":0"
	case "windows":
		d.InputFormat, d.Input = "dshow", "audio=default"
	default:
		d.InputFormat, d.Input = "pulse", "default"
	}
	return d
}

// Args returns the ffmpeg command line for format f.
func (d *FFmpegDevice) Args(f Format) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", d.InputFormat,
		"-i", d.Input,
		"-ac", strconv.Itoa(f.Channels),
		"-ar", strconv.Itoa(f.SampleRate),
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"pipe:1",
	}
}

// Open starts ffmpeg and waits until it produces audio, so a denied or
// missing device fails here rather than mid-recording.
func (d *FFmpegDevice) Open(ctx context.Context, f Format) (io.ReadCloser, error) {
	if f.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported sample size %d", f.BitsPerSample)
	}
	bin := d.Binary
	if bin == "" {
		bin = "ffmpeg"
	}

	// Not bound to ctx: the process lives until Close, not until Open returns.
	cmd := exec.Command(bin, d.Args(f)...)
	cmd.WaitDelay = 2 * time.Second
	var stderr lockedBuffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	s := &ffmpegStream{cmd: cmd, r: bufio.NewReaderSize(stdout, 64*1024)}

	timeout := d.StartTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ready := make(chan error, 1)
	go func() {
		_, err := s.r.Peek(1)
		ready <- err
	}()

	select {
	case err := <-ready:
		if err != nil {
			s.Close()
			return nil, classify(stderr.String(), err)
		}
		return s, nil
	case <-time.After(timeout):
		s.Close()
		return nil, fmt.Errorf("no audio from %s within %v", d.Input, timeout)
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}

// classify turns ffmpeg's stderr into a readable error.
func classify(stderr string, err error) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "permission") || strings.Contains(lower, "not authorized") {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
	}
	if msg != "" {
		return errors.New(msg)
	}
	if errors.Is(err, io.EOF) {
		return errors.New("capture process exited without audio")
	}
	return err
}

type ffmpegStream struct {
	cmd  *exec.Cmd
	r    *bufio.Reader
	once sync.Once
	err  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

// Close stops ffmpeg and reaps it.
func (s *ffmpegStream) Close() error {
	s.once.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		// Wait reports the kill signal; that is the expected outcome.
		var exitErr *exec.ExitError
		if err := s.cmd.Wait(); err != nil && !errors.As(err, &exitErr) {
			s.err = err
		}
	})
	return s.err
}

// lockedBuffer is written by the exec copier goroutine and read by Open.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
