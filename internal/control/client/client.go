package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/EvanSunde/Sinodragon/internal/control"
	"github.com/EvanSunde/Sinodragon/internal/state"
)

const (
	// defaultTimeout is used when the caller does not provide a context deadline.
	defaultTimeout = 3 * time.Second
)

// Client talks to the running daemon over its control socket.
type Client struct {
	socketPath string
}

type (
	// EngineStatus describes the engine's current state and lighting.
	EngineStatus = control.EngineStatus
	// Transition mirrors one entry of the engine's transition history.
	Transition = control.Transition
	// InspectorState captures the daemon's inspector payload.
	InspectorState = control.InspectorSnapshot
	// MetricsSnapshot is the daemon's counter view.
	MetricsSnapshot = control.MetricsSnapshot
)

// New creates a client that connects to the provided socket path. When path is
// empty, the default runtime path is used.
func New(path string) (*Client, error) {
	if path == "" {
		var err error
		path, err = control.DefaultSocketPath()
		if err != nil {
			return nil, err
		}
	}
	return &Client{socketPath: path}, nil
}

// State retrieves the engine's current state.
func (c *Client) State(ctx context.Context) (EngineStatus, error) {
	var status EngineStatus
	if err := c.do(ctx, control.Request{Action: control.ActionStateGet}, &status); err != nil {
		return EngineStatus{}, err
	}
	return status, nil
}

// Inspect retrieves the engine status along with recent transitions.
func (c *Client) Inspect(ctx context.Context) (InspectorState, error) {
	var snapshot InspectorState
	if err := c.do(ctx, control.Request{Action: control.ActionInspect}, &snapshot); err != nil {
		return InspectorState{}, err
	}
	return snapshot, nil
}

// Root fires the root trigger, restoring the focused app's default lighting.
func (c *Client) Root(ctx context.Context) error {
	return c.do(ctx, control.Request{Action: control.ActionRoot}, nil)
}

// Modifier injects a modifier press or release into the engine.
func (c *Client) Modifier(ctx context.Context, m state.Modifier, pressed bool) error {
	req := control.Request{
		Action: control.ActionModifier,
		Params: map[string]any{"modifier": m.String(), "pressed": pressed},
	}
	return c.do(ctx, req, nil)
}

// Apply asks the engine to re-resolve its lighting, replacing the baseline
// when one is given.
func (c *Client) Apply(ctx context.Context, baseline state.Mapping) error {
	req := control.Request{Action: control.ActionApply}
	if baseline != nil {
		encoded := make(map[string]any, len(baseline))
		for key, color := range baseline {
			encoded[key] = color.Hex()
		}
		req.Params = map[string]any{"baseline": encoded}
	}
	return c.do(ctx, req, nil)
}

// Invalidate drops the cached profile for app; an empty app drops all profiles.
func (c *Client) Invalidate(ctx context.Context, app string) error {
	req := control.Request{Action: control.ActionInvalidate}
	if app != "" {
		req.Params = map[string]any{"app": app}
	}
	return c.do(ctx, req, nil)
}

// Reload asks the daemon to reload its configuration.
func (c *Client) Reload(ctx context.Context) error {
	return c.do(ctx, control.Request{Action: control.ActionReload}, nil)
}

// Metrics retrieves the daemon's counters.
func (c *Client) Metrics(ctx context.Context) (MetricsSnapshot, error) {
	var snap MetricsSnapshot
	if err := c.do(ctx, control.Request{Action: control.ActionMetricsGet}, &snap); err != nil {
		return MetricsSnapshot{}, err
	}
	return snap, nil
}

func (c *Client) do(ctx context.Context, req control.Request, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("dial control socket: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	var resp control.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != control.StatusOK {
		if resp.Error == "" {
			resp.Error = "unknown control error"
		}
		return errors.New(resp.Error)
	}
	if out == nil || resp.Data == nil {
		return nil
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
