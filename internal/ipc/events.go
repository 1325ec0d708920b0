package ipc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/EvanSunde/Sinodragon/internal/state"
	"github.com/EvanSunde/Sinodragon/internal/util"
)

const activeWindowEvent = "activewindow"

// ConnectError reports a failed dial of the compositor socket.
type ConnectError struct {
	Path string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect event socket %s: %v", e.Path, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// EventConn is one live subscription to the compositor event stream.
type EventConn struct {
	conn   net.Conn
	reader *bufio.Reader
	logger *util.Logger
	path   string
}

// Connect dials the event socket at path.
func Connect(path string, logger *util.Logger) (*EventConn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, &ConnectError{Path: path, Err: err}
	}
	if logger == nil {
		logger = util.NewLogger(util.LevelInfo)
	}
	return &EventConn{conn: conn, reader: bufio.NewReader(conn), logger: logger, path: path}, nil
}

// Path returns the socket the connection was opened on.
func (c *EventConn) Path() string { return c.path }

// NextEvent blocks until the next focus change. Other event kinds are
// skipped; lines that are not events at all are logged and discarded.
func (c *EventConn) NextEvent() (state.WindowFocus, error) {
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			return state.Blank, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			kind, payload, ok := strings.Cut(line, ">>")
			switch {
			case !ok:
				c.logger.Warnf("discarding malformed event line %q", line)
			case kind == activeWindowEvent:
				return ParseActiveWindow(payload), nil
			default:
				c.logger.Tracef("skipping event %s", kind)
			}
		}
		if err != nil {
			return state.Blank, err
		}
	}
}

// Close releases the connection. It unblocks a pending NextEvent.
func (c *EventConn) Close() error {
	return c.conn.Close()
}

// ParseActiveWindow decodes an activewindow payload of the form CLASS,TITLE.
// The title may itself contain commas. An empty or malformed payload means
// no window is focused.
func ParseActiveWindow(payload string) state.WindowFocus {
	class, title, ok := strings.Cut(payload, ",")
	if !ok {
		return state.Blank
	}
	class = strings.TrimSpace(class)
	if class == "" {
		return state.Blank
	}
	return state.WindowFocus{AppClass: class, Title: title}
}
