package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/EvanSunde/Sinodragon/internal/engine"
	"github.com/EvanSunde/Sinodragon/internal/metrics"
	"github.com/EvanSunde/Sinodragon/internal/state"
	"github.com/EvanSunde/Sinodragon/internal/util"
)

type fakeEngine struct {
	mu        sync.Mutex
	submitted []engine.Event
	err       error
	snapshot  engine.Snapshot
	history   []engine.Transition
}

func (f *fakeEngine) Submit(ev engine.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, ev)
	return nil
}

func (f *fakeEngine) Snapshot() engine.Snapshot    { return f.snapshot }
func (f *fakeEngine) History() []engine.Transition { return f.history }

func (f *fakeEngine) events() []engine.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Event(nil), f.submitted...)
}

func roundTrip(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	go srv.handle(serverConn)
	if err := json.NewEncoder(clientConn).Encode(req); err != nil {
		t.Fatalf("encode request: %v", err)
	}
	var resp Response
	if err := json.NewDecoder(clientConn).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func newTestServer(t *testing.T, eng Engine, reload func(string) error) *Server {
	t.Helper()
	logger := util.NewLoggerWithWriter(util.LevelError, io.Discard)
	srv, err := NewServer(eng, metrics.NewCollector(nil), logger, reload, filepath.Join(t.TempDir(), "control.sock"))
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	return srv
}

func TestHandleStateGet(t *testing.T) {
	eng := &fakeEngine{snapshot: engine.Snapshot{State: "AppDefault(code)", Kind: "app-default", AppID: "code"}}
	srv := newTestServer(t, eng, nil)
	resp := roundTrip(t, srv, Request{Action: ActionStateGet})
	if resp.Status != StatusOK {
		t.Fatalf("unexpected status %+v", resp)
	}
	data, _ := resp.Data.(map[string]any)
	if data["appId"] != "code" || data["state"] != "AppDefault(code)" {
		t.Fatalf("unexpected data %v", resp.Data)
	}
}

func TestMutatingActionsAreQueued(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(t, eng, nil)

	if resp := roundTrip(t, srv, Request{Action: ActionRoot}); resp.Status != StatusOK {
		t.Fatalf("root: %+v", resp)
	}
	if resp := roundTrip(t, srv, Request{Action: ActionInvalidate, Params: map[string]any{"app": "code"}}); resp.Status != StatusOK {
		t.Fatalf("invalidate: %+v", resp)
	}
	baseline := map[string]any{"Esc": "#ff0000"}
	if resp := roundTrip(t, srv, Request{Action: ActionApply, Params: map[string]any{"baseline": baseline}}); resp.Status != StatusOK {
		t.Fatalf("apply: %+v", resp)
	}

	events := eng.events()
	if len(events) != 3 {
		t.Fatalf("expected 3 queued events, got %d", len(events))
	}
	if events[0].Kind != engine.EventRoot || events[1].Kind != engine.EventInvalidate || events[1].AppID != "code" {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[2].Kind != engine.EventApply || events[2].Baseline["Esc"] != (state.Color{R: 255}) {
		t.Fatalf("unexpected apply event %+v", events[2])
	}
}

func TestApplyRejectsBadColour(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(t, eng, nil)
	resp := roundTrip(t, srv, Request{Action: ActionApply, Params: map[string]any{"baseline": map[string]any{"Esc": "fuchsia-ish"}}})
	if resp.Status != StatusError {
		t.Fatalf("expected error, got %+v", resp)
	}
	if len(eng.events()) != 0 {
		t.Fatalf("invalid apply must not reach the engine")
	}
}

func TestSubmitErrorSurfaces(t *testing.T) {
	eng := &fakeEngine{err: engine.ErrQueueFull}
	srv := newTestServer(t, eng, nil)
	resp := roundTrip(t, srv, Request{Action: ActionRoot})
	if resp.Status != StatusError || resp.Error != engine.ErrQueueFull.Error() {
		t.Fatalf("expected queue full error, got %+v", resp)
	}
}

func TestHandleModifier(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(t, eng, nil)
	if resp := roundTrip(t, srv, Request{Action: ActionModifier, Params: map[string]any{"modifier": "super", "pressed": true}}); resp.Status != StatusOK {
		t.Fatalf("press: %+v", resp)
	}
	if resp := roundTrip(t, srv, Request{Action: ActionModifier, Params: map[string]any{"modifier": "Win", "pressed": false}}); resp.Status != StatusOK {
		t.Fatalf("release: %+v", resp)
	}
	events := eng.events()
	if len(events) != 2 {
		t.Fatalf("expected 2 queued events, got %d", len(events))
	}
	want := []state.ModifierEvent{{Modifier: state.Win, Pressed: true}, {Modifier: state.Win}}
	for i, ev := range events {
		if ev.Kind != engine.EventModifier || ev.Modifier != want[i] || ev.Source != "control" {
			t.Fatalf("event %d = %+v", i, ev)
		}
	}
}

func TestHandleModifierRejectsBadParams(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(t, eng, nil)
	for _, params := range []map[string]any{
		nil,
		{"modifier": "CapsLock", "pressed": true},
		{"modifier": "Ctrl"},
		{"modifier": "Ctrl", "pressed": "yes"},
	} {
		if resp := roundTrip(t, srv, Request{Action: ActionModifier, Params: params}); resp.Status != StatusError {
			t.Fatalf("params %v accepted: %+v", params, resp)
		}
	}
	if n := len(eng.events()); n != 0 {
		t.Fatalf("rejected requests queued %d events", n)
	}
}

func TestHandleReload(t *testing.T) {
	var reasons []string
	srv := newTestServer(t, &fakeEngine{}, func(reason string) error {
		reasons = append(reasons, reason)
		if len(reasons) > 1 {
			return errors.New("bad config")
		}
		return nil
	})
	if resp := roundTrip(t, srv, Request{Action: ActionReload}); resp.Status != StatusOK {
		t.Fatalf("reload: %+v", resp)
	}
	if resp := roundTrip(t, srv, Request{Action: ActionReload}); resp.Status != StatusError || resp.Error != "bad config" {
		t.Fatalf("expected reload error, got %+v", resp)
	}
	if len(reasons) != 2 || reasons[0] != "control request" {
		t.Fatalf("unexpected reasons %v", reasons)
	}

	noReload := newTestServer(t, &fakeEngine{}, nil)
	if resp := roundTrip(t, noReload, Request{Action: ActionReload}); resp.Status != StatusError {
		t.Fatalf("expected unsupported reload error")
	}
}

func TestUnknownAction(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	if resp := roundTrip(t, srv, Request{Action: "mode.set"}); resp.Status != StatusError {
		t.Fatalf("expected error for unknown action")
	}
}

func TestServeOverSocket(t *testing.T) {
	now := time.Now().UTC().Round(time.Second)
	eng := &fakeEngine{
		snapshot: engine.Snapshot{State: "Baseline", Kind: "baseline"},
		history:  []engine.Transition{{Timestamp: now, Event: "focus(blank)", From: "AppDefault(x)", To: "Baseline", Emitted: true, Seq: 4}},
	}
	srv := newTestServer(t, eng, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	var conn net.Conn
	deadline := time.Now().Add(2 * time.Second)
	for {
		var err error
		conn, err = net.Dial("unix", srv.SocketPath())
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial control socket: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := json.NewEncoder(conn).Encode(Request{Action: ActionInspect}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var resp struct {
		Status string            `json:"status"`
		Data   InspectorSnapshot `json:"data"`
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	conn.Close()
	if resp.Status != StatusOK || len(resp.Data.History) != 1 || resp.Data.History[0].Seq != 4 {
		t.Fatalf("unexpected inspect response %+v", resp)
	}
	if !resp.Data.History[0].Timestamp.Equal(now) {
		t.Fatalf("timestamp mismatch")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not stop")
	}
}

func TestDefaultSocketPathEnvOverride(t *testing.T) {
	t.Setenv("SINODRAGON_CONTROL_SOCKET", "/run/custom.sock")
	path, err := DefaultSocketPath()
	if err != nil || path != "/run/custom.sock" {
		t.Fatalf("DefaultSocketPath = %q, %v", path, err)
	}
	t.Setenv("SINODRAGON_CONTROL_SOCKET", "")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	path, _ = DefaultSocketPath()
	if path != "/run/user/1000/sinodragon/control.sock" {
		t.Fatalf("DefaultSocketPath = %q", path)
	}
}
