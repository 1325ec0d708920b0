// Package sink delivers lighting frames to the hardware layer.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/EvanSunde/Sinodragon/internal/state"
	"github.com/EvanSunde/Sinodragon/internal/util"
)

// Frame is one complete lighting assignment. Applying the same frame twice
// leaves the keyboard unchanged.
type Frame struct {
	Seq   uint64        `json:"seq"`
	State string        `json:"state"`
	Keys  state.Mapping `json:"keys"`
}

// Sink renders frames. Calls are made from a single goroutine, in order.
type Sink interface {
	Apply(ctx context.Context, frame Frame) error
}

// LogSink writes frames to the log instead of the device.
type LogSink struct {
	Logger *util.Logger
}

func (s LogSink) Apply(ctx context.Context, frame Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Logger == nil {
		return nil
	}
	keys := frame.Keys.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + frame.Keys[k].Hex()
	}
	s.Logger.Infof("[dry-run] frame %d %s: %s", frame.Seq, frame.State, strings.Join(parts, " "))
	return nil
}

// DefaultDialTimeout bounds SocketSink dials when ctx has no deadline.
const DefaultDialTimeout = time.Second

// SocketSink writes each frame as one JSON line to a unix socket served by
// the device driver process.
type SocketSink struct {
	Path string
}

func (s SocketSink) Apply(ctx context.Context, frame Frame) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultDialTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", s.Path)
	if err != nil {
		return fmt.Errorf("connect led socket: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("set led socket deadline: %w", err)
		}
	}
	if frame.Keys == nil {
		frame.Keys = state.Mapping{}
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// New picks the sink for the configuration: a socket sink when path is set
// and dry-run is off, the log sink otherwise.
func New(path string, dryRun bool, logger *util.Logger) Sink {
	if dryRun || path == "" {
		return LogSink{Logger: logger}
	}
	return SocketSink{Path: path}
}
