package tui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/EvanSunde/Sinodragon/internal/control/client"
	"github.com/EvanSunde/Sinodragon/internal/state"
)

type stubInspector struct {
	snapshot client.InspectorState
	err      error
}

func (s stubInspector) Inspect(context.Context) (client.InspectorState, error) {
	return s.snapshot, s.err
}

func TestRenderSnapshot(t *testing.T) {
	snap := client.InspectorState{
		Status: client.EngineStatus{
			State:           "ComboActive(code, Ctrl)",
			Focus:           state.WindowFocus{AppClass: "Code", Title: "main.go"},
			Held:            "Ctrl",
			Keys:            state.Mapping{"C": {R: 255}, "V": {B: 255}},
			FrameSeq:        7,
			BridgeAvailable: true,
		},
		History: []client.Transition{
			{Timestamp: time.Now(), Event: "focus(Code)", From: "Baseline", To: "AppDefault(code)", Emitted: true, Seq: 6},
			{Timestamp: time.Now(), Event: "press Ctrl", From: "AppDefault(code)", To: "ComboActive(code, Ctrl)", Emitted: true, Seq: 7},
		},
	}
	out := Render(snap)
	for _, want := range []string{"ComboActive(code, Ctrl)", "Code - main.go", "connected", "#ff0000", "#0000ff", "press Ctrl", "#7"} {
		if !strings.Contains(out, want) {
			t.Fatalf("render output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "press Ctrl") > strings.Index(out, "focus(Code)") {
		t.Fatalf("expected newest transition first:\n%s", out)
	}
}

func TestRenderEmpty(t *testing.T) {
	out := Render(client.InspectorState{Status: client.EngineStatus{State: "Baseline"}})
	if !strings.Contains(out, "Focus:") || !strings.Contains(out, "(none)") || !strings.Contains(out, "disconnected") {
		t.Fatalf("unexpected empty render:\n%s", out)
	}
}

func TestRendererShowsErrors(t *testing.T) {
	var buf bytes.Buffer
	r := New(stubInspector{err: errors.New("dial control socket: no such file")}, &buf)
	r.render(context.Background())
	if !strings.Contains(buf.String(), "error: dial control socket") {
		t.Fatalf("expected error in output, got %q", buf.String())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	r := New(stubInspector{}, &buf)
	r.Interactive = true
	r.Refresh = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v", err)
	}
}

func TestNonInteractivePrintsOnce(t *testing.T) {
	var buf bytes.Buffer
	r := New(stubInspector{snapshot: client.InspectorState{Status: client.EngineStatus{State: "Baseline"}}}, &buf)
	if r.Interactive {
		t.Fatalf("a buffer is not a terminal")
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Contains(buf.String(), "\033[") || !strings.Contains(buf.String(), "Baseline") {
		t.Fatalf("expected one plain snapshot, got %q", buf.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("abc", 4); got != "abc" {
		t.Fatalf("truncate = %q", got)
	}
}
