package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strings"

	"github.com/EvanSunde/Sinodragon/internal/state"
)

// QueryStrategy selects how the active window is queried.
type QueryStrategy string

const (
	// QueryStrategySocket writes requests to the compositor command socket.
	QueryStrategySocket QueryStrategy = "socket"
	// QueryStrategyHyprctl shells out to the hyprctl binary.
	QueryStrategyHyprctl QueryStrategy = "hyprctl"
)

// FocusQuerier reports the currently focused window.
type FocusQuerier interface {
	ActiveWindow(ctx context.Context) (state.WindowFocus, error)
}

// NewQuerier returns a querier for strategy. commandSocket is only used by
// the socket strategy.
func NewQuerier(strategy QueryStrategy, commandSocket string) (FocusQuerier, error) {
	switch strategy {
	case "", QueryStrategySocket:
		return &SocketQuerier{Path: commandSocket}, nil
	case QueryStrategyHyprctl:
		return NewHyprctl(), nil
	default:
		return nil, fmt.Errorf("unknown query strategy %q", strategy)
	}
}

type activeWindowPayload struct {
	Class string `json:"class"`
	Title string `json:"title"`
}

func decodeActiveWindow(data []byte) (state.WindowFocus, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return state.Blank, nil
	}
	var payload activeWindowPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return state.Blank, fmt.Errorf("decode activewindow: %w", err)
	}
	if strings.TrimSpace(payload.Class) == "" {
		return state.Blank, nil
	}
	return state.WindowFocus{AppClass: payload.Class, Title: payload.Title}, nil
}

// SocketQuerier issues j/activewindow on the command socket.
type SocketQuerier struct {
	Path string
}

func (q *SocketQuerier) ActiveWindow(ctx context.Context) (state.WindowFocus, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", q.Path)
	if err != nil {
		return state.Blank, fmt.Errorf("connect command socket: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := conn.Write([]byte("j/activewindow")); err != nil {
		return state.Blank, fmt.Errorf("write activewindow request: %w", err)
	}
	data, err := io.ReadAll(conn)
	if err != nil {
		return state.Blank, fmt.Errorf("read activewindow reply: %w", err)
	}
	return decodeActiveWindow(data)
}

// Hyprctl wraps hyprctl shell-outs.
type Hyprctl struct {
	Binary string
}

// NewHyprctl returns a client using the binary on PATH.
func NewHyprctl() *Hyprctl {
	return &Hyprctl{Binary: "hyprctl"}
}

func (c *Hyprctl) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("hyprctl %s: %v: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (c *Hyprctl) ActiveWindow(ctx context.Context) (state.WindowFocus, error) {
	data, err := c.run(ctx, "-j", "activewindow")
	if err != nil {
		return state.Blank, err
	}
	return decodeActiveWindow(data)
}
