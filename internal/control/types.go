package control

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/EvanSunde/Sinodragon/internal/state"
)

const (
	// SocketFileName is the filename of the control socket within the runtime dir.
	SocketFileName = "control.sock"

	// Action names supported by the control protocol.
	ActionStateGet   = "state.get"
	ActionInspect    = "inspect"
	ActionRoot       = "root"
	ActionModifier   = "modifier"
	ActionApply      = "apply"
	ActionInvalidate = "invalidate"
	ActionReload     = "reload"
	ActionMetricsGet = "metrics.get"

	// Response statuses.
	StatusOK    = "ok"
	StatusError = "error"
)

// Request represents a control API request.
type Request struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Response represents a control API response.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// EngineStatus describes the engine's current state and lighting.
type EngineStatus struct {
	State           string            `json:"state"`
	Kind            string            `json:"kind"`
	AppID           string            `json:"appId,omitempty"`
	Combo           string            `json:"combo,omitempty"`
	Held            string            `json:"held,omitempty"`
	Focus           state.WindowFocus `json:"focus"`
	Keys            state.Mapping     `json:"keys"`
	FrameSeq        uint64            `json:"frameSeq"`
	BridgeAvailable bool              `json:"bridgeAvailable"`
	QueueDepth      int               `json:"queueDepth"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Transition mirrors one entry of the engine's transition history.
type Transition struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Emitted   bool      `json:"emitted"`
	Seq       uint64    `json:"seq,omitempty"`
}

// InspectorSnapshot bundles the engine status with recent transitions.
type InspectorSnapshot struct {
	Status  EngineStatus `json:"status"`
	History []Transition `json:"history,omitempty"`
}

// MetricsSnapshot is the counter view returned by metrics.get.
type MetricsSnapshot struct {
	Started  time.Time          `json:"started"`
	Counters map[string]float64 `json:"counters"`
}

// DefaultSocketPath returns the expected location of the control socket.
func DefaultSocketPath() (string, error) {
	if env := os.Getenv("SINODRAGON_CONTROL_SOCKET"); env != "" {
		return env, nil
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	base := runtimeDir
	if base == "" {
		base = os.TempDir()
		if base == "" {
			return "", errors.New("no runtime directory available")
		}
	}
	return filepath.Join(base, "sinodragon", SocketFileName), nil
}
