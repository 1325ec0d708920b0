package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/EvanSunde/Sinodragon/internal/engine"
	"github.com/EvanSunde/Sinodragon/internal/metrics"
	"github.com/EvanSunde/Sinodragon/internal/state"
	"github.com/EvanSunde/Sinodragon/internal/util"
)

// Engine is the subset of the lighting engine the control server drives.
// Every mutation goes through Submit so it is ordered with other input.
type Engine interface {
	Submit(ev engine.Event) error
	Snapshot() engine.Snapshot
	History() []engine.Transition
}

// Server hosts the control socket and serves requests.
type Server struct {
	engine     Engine
	metrics    *metrics.Collector
	logger     *util.Logger
	reload     func(reason string) error
	socketPath string

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a control server. An empty socketPath uses DefaultSocketPath.
func NewServer(eng Engine, m *metrics.Collector, logger *util.Logger, reload func(reason string) error, socketPath string) (*Server, error) {
	if socketPath == "" {
		var err error
		socketPath, err = DefaultSocketPath()
		if err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = util.NewLogger(util.LevelInfo)
	}
	return &Server{
		engine:     eng,
		metrics:    m,
		logger:     logger,
		reload:     reload,
		socketPath: socketPath,
	}, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

// Serve listens on the control socket until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.prepareSocket(); err != nil {
		return err
	}
	s.logger.Infof("control server listening on %s", s.socketPath)
	defer s.cleanup()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := s.accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			s.logger.Errorf("control accept error: %v", err)
			continue
		}
		go s.handle(conn)
	}
}

func (s *Server) accept(ctx context.Context) (net.Conn, error) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return nil, context.Canceled
	}
	conn, err := listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

func (s *Server) prepareSocket() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create control dir: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("chmod control socket: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

func (s *Server) cleanup() {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()
	if listener != nil {
		listener.Close()
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warnf("remove control socket: %v", err)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	var req Request
	if err := dec.Decode(&req); err != nil {
		s.writeError(conn, fmt.Errorf("decode request: %w", err))
		return
	}
	s.logger.Debugf("control request %s", req.Action)
	switch req.Action {
	case ActionStateGet:
		s.writeOK(conn, statusFromSnapshot(s.engine.Snapshot()))
	case ActionInspect:
		s.handleInspect(conn)
	case ActionRoot:
		s.submit(conn, engine.RootEvent("control"))
	case ActionModifier:
		s.handleModifier(conn, req.Params)
	case ActionApply:
		s.handleApply(conn, req.Params)
	case ActionInvalidate:
		app, _ := req.Params["app"].(string)
		s.submit(conn, engine.InvalidateEvent(app))
	case ActionReload:
		s.handleReload(conn)
	case ActionMetricsGet:
		snap := s.metrics.Snapshot()
		s.writeOK(conn, MetricsSnapshot{Started: snap.Started, Counters: snap.Counters})
	default:
		s.writeError(conn, fmt.Errorf("unknown action %q", req.Action))
	}
}

func (s *Server) submit(conn net.Conn, ev engine.Event) {
	if err := s.engine.Submit(ev); err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, nil)
}

func (s *Server) handleInspect(conn net.Conn) {
	snapshot := InspectorSnapshot{Status: statusFromSnapshot(s.engine.Snapshot())}
	history := s.engine.History()
	if len(history) > 0 {
		snapshot.History = make([]Transition, 0, len(history))
		for _, entry := range history {
			snapshot.History = append(snapshot.History, Transition{
				Timestamp: entry.Timestamp,
				Event:     entry.Event,
				From:      entry.From,
				To:        entry.To,
				Emitted:   entry.Emitted,
				Seq:       entry.Seq,
			})
		}
	}
	s.writeOK(conn, snapshot)
}

// handleModifier injects a modifier transition as if the helper sent it.
func (s *Server) handleModifier(conn net.Conn, params map[string]any) {
	name, _ := params["modifier"].(string)
	m, err := state.ParseModifier(name)
	if err != nil {
		s.writeError(conn, err)
		return
	}
	pressed, ok := params["pressed"].(bool)
	if !ok {
		s.writeError(conn, errors.New("pressed must be true or false"))
		return
	}
	ev := engine.ModifierEvent(state.ModifierEvent{Modifier: m, Pressed: pressed})
	ev.Source = "control"
	s.submit(conn, ev)
}

// handleApply accepts an optional baseline of key -> colour strings.
func (s *Server) handleApply(conn net.Conn, params map[string]any) {
	var baseline state.Mapping
	if raw, ok := params["baseline"]; ok && raw != nil {
		entries, ok := raw.(map[string]any)
		if !ok {
			s.writeError(conn, errors.New("baseline must be a mapping of key to colour"))
			return
		}
		baseline = make(state.Mapping, len(entries))
		for key, v := range entries {
			text, ok := v.(string)
			if !ok {
				s.writeError(conn, fmt.Errorf("baseline %s: colour must be a string", key))
				return
			}
			c, err := state.ParseColor(text)
			if err != nil {
				s.writeError(conn, fmt.Errorf("baseline %s: %w", key, err))
				return
			}
			baseline[key] = c
		}
	}
	s.submit(conn, engine.ApplyEvent(baseline))
}

func (s *Server) handleReload(conn net.Conn) {
	if s.reload == nil {
		s.writeError(conn, errors.New("reload not supported"))
		return
	}
	if err := s.reload("control request"); err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, nil)
}

func statusFromSnapshot(snap engine.Snapshot) EngineStatus {
	return EngineStatus{
		State:           snap.State,
		Kind:            snap.Kind,
		AppID:           snap.AppID,
		Combo:           snap.Combo,
		Held:            snap.Held,
		Focus:           snap.Focus,
		Keys:            snap.Keys,
		FrameSeq:        snap.FrameSeq,
		BridgeAvailable: snap.BridgeAvailable,
		QueueDepth:      snap.QueueDepth,
		UpdatedAt:       snap.UpdatedAt,
	}
}

func (s *Server) writeOK(conn net.Conn, data any) {
	resp := Response{Status: StatusOK}
	if data != nil {
		resp.Data = data
	}
	_ = json.NewEncoder(conn).Encode(resp)
}

func (s *Server) writeError(conn net.Conn, err error) {
	resp := Response{Status: StatusError}
	if err != nil {
		resp.Error = err.Error()
	}
	_ = json.NewEncoder(conn).Encode(resp)
}
