package daemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/jwulff/whisperweb/internal/db"
)

const (
	dialTimeout = 2 * time.Second
	// maxLine bounds one NDJSON line; entries listings are the largest.
	maxLine = 16 << 20
)

// ErrClosed is returned once the daemon hangs up.
var ErrClosed = errors.New("connection closed")

// ResponseError is a command the daemon answered with ok=false.
type ResponseError struct {
	Cmd     string
	Message string
}

func (e *ResponseError) Error() string {
	return e.Cmd + ": " + e.Message
}

// SocketPath returns the default daemon socket path.
func SocketPath() string {
	return filepath.Join(db.DefaultDir(), "whisperweb.sock")
}

// Client holds one connection to a running whisperweb. A connection carries
// either commands or, after Subscribe, an event stream, never both.
type Client struct {
	conn       net.Conn
	scanner    *bufio.Scanner
	enc        *json.Encoder
	mu         sync.Mutex
	subscribed bool
}

// Connect dials the control socket.
func Connect(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	return &Client{conn: conn, scanner: scanner, enc: json.NewEncoder(conn)}, nil
}

// Close shuts down the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// SendCommand sends cmd and returns the reply. A rejected command is still a
// reply, with OK false; Call turns it into an error.
func (c *Client) SendCommand(cmd Command) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subscribed {
		return Response{}, fmt.Errorf("%s: connection is an event stream", cmd.Cmd)
	}
	var resp Response
	if err := c.roundTrip(cmd, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Call is SendCommand with rejections returned as *ResponseError.
func (c *Client) Call(cmd Command) (Response, error) {
	resp, err := c.SendCommand(cmd)
	if err == nil && !resp.OK {
		err = &ResponseError{Cmd: cmd.Cmd, Message: resp.Error}
	}
	return resp, err
}

// Subscribe turns the connection into an event stream, optionally limited to
// the named events. Read events with ReadEvent.
func (c *Client) Subscribe(events ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resp Response
	if err := c.roundTrip(Command{Cmd: CmdSubscribe, Events: events}, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return &ResponseError{Cmd: CmdSubscribe, Message: resp.Error}
	}
	c.subscribed = true
	return nil
}

// ReadEvent blocks for the next event after Subscribe. It returns an error
// wrapping ErrClosed when the daemon ends the stream.
func (c *Client) ReadEvent() (Event, error) {
	var ev Event
	if err := c.readLine(&ev); err != nil {
		return Event{}, fmt.Errorf("read event: %w", err)
	}
	return ev, nil
}

func (c *Client) roundTrip(cmd Command, resp *Response) error {
	// Encode terminates the line.
	if err := c.enc.Encode(cmd); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	if err := c.readLine(resp); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	return nil
}

// readLine decodes the next NDJSON line into dst.
func (c *Client) readLine(dst any) error {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return err
		}
		return ErrClosed
	}
	return json.Unmarshal(c.scanner.Bytes(), dst)
}
