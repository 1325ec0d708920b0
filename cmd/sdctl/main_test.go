package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/EvanSunde/Sinodragon/internal/control/client"
	"github.com/EvanSunde/Sinodragon/internal/state"
)

type fakeController struct {
	status      client.EngineStatus
	metrics     client.MetricsSnapshot
	err         error
	applied     state.Mapping
	invalidated []string
	modifiers   []state.ModifierEvent
	roots       int
	reloads     int
}

func (f *fakeController) State(context.Context) (client.EngineStatus, error) { return f.status, f.err }
func (f *fakeController) Inspect(context.Context) (client.InspectorState, error) {
	return client.InspectorState{Status: f.status}, f.err
}
func (f *fakeController) Root(context.Context) error { f.roots++; return f.err }
func (f *fakeController) Modifier(_ context.Context, m state.Modifier, pressed bool) error {
	f.modifiers = append(f.modifiers, state.ModifierEvent{Modifier: m, Pressed: pressed})
	return f.err
}
func (f *fakeController) Apply(_ context.Context, baseline state.Mapping) error {
	f.applied = baseline
	return f.err
}
func (f *fakeController) Invalidate(_ context.Context, app string) error {
	f.invalidated = append(f.invalidated, app)
	return f.err
}
func (f *fakeController) Reload(context.Context) error { f.reloads++; return f.err }
func (f *fakeController) Metrics(context.Context) (client.MetricsSnapshot, error) {
	return f.metrics, f.err
}

func execute(t *testing.T, fake *fakeController, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(func(string) (controller, error) { return fake, nil }, &stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTempFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestStateCommand(t *testing.T) {
	fake := &fakeController{status: client.EngineStatus{
		State: "ComboActive(code, Ctrl)",
		Focus: state.WindowFocus{AppClass: "Code"},
		Held:  "Ctrl",
		Keys:  state.Mapping{"C": {R: 255}},
	}}
	out, _, err := execute(t, fake, "state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	for _, want := range []string{"ComboActive(code, Ctrl)", "Code", "Ctrl", "#ff0000"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}

	out, _, err = execute(t, fake, "state", "--json")
	if err != nil {
		t.Fatalf("state --json: %v", err)
	}
	if !strings.Contains(out, `"appClass": "Code"`) {
		t.Fatalf("unexpected json output:\n%s", out)
	}
}

func TestMutatingCommands(t *testing.T) {
	fake := &fakeController{}
	if _, _, err := execute(t, fake, "root"); err != nil || fake.roots != 1 {
		t.Fatalf("root: err=%v roots=%d", err, fake.roots)
	}
	if _, _, err := execute(t, fake, "reload"); err != nil || fake.reloads != 1 {
		t.Fatalf("reload: err=%v reloads=%d", err, fake.reloads)
	}
	if _, _, err := execute(t, fake, "invalidate", "code"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, _, err := execute(t, fake, "invalidate"); err != nil {
		t.Fatalf("invalidate all: %v", err)
	}
	if diff := cmp.Diff([]string{"code", ""}, fake.invalidated); diff != "" {
		t.Fatalf("invalidations mismatch (-want +got):\n%s", diff)
	}
	if _, _, err := execute(t, fake, "apply", "--key", "Esc=#ff0000", "--key", "Tab=blue"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := state.Mapping{"Esc": {R: 255}, "Tab": {B: 255}}
	if diff := cmp.Diff(want, fake.applied); diff != "" {
		t.Fatalf("baseline mismatch (-want +got):\n%s", diff)
	}
}

func TestModifierCommand(t *testing.T) {
	fake := &fakeController{}
	out, _, err := execute(t, fake, "modifier", "super", "press")
	if err != nil {
		t.Fatalf("modifier press: %v", err)
	}
	if !strings.Contains(out, "press Win") {
		t.Fatalf("unexpected output %q", out)
	}
	if _, _, err := execute(t, fake, "modifier", "ctrl", "release"); err != nil {
		t.Fatalf("modifier release: %v", err)
	}
	want := []state.ModifierEvent{{Modifier: state.Win, Pressed: true}, {Modifier: state.Ctrl}}
	if diff := cmp.Diff(want, fake.modifiers); diff != "" {
		t.Fatalf("modifiers mismatch (-want +got):\n%s", diff)
	}
	for _, args := range [][]string{{"modifier", "capslock", "press"}, {"modifier", "ctrl", "tap"}, {"modifier", "ctrl"}} {
		if _, _, err := execute(t, fake, args...); err == nil {
			t.Fatalf("%v: expected error", args)
		}
	}
	if len(fake.modifiers) != 2 {
		t.Fatalf("rejected commands reached the daemon: %v", fake.modifiers)
	}
}

func TestApplyRejectsMalformedKey(t *testing.T) {
	fake := &fakeController{}
	if _, _, err := execute(t, fake, "apply", "--key", "Esc"); err == nil {
		t.Fatalf("expected error for entry without colour")
	}
	if fake.applied != nil {
		t.Fatalf("malformed apply must not reach the daemon")
	}
}

func TestDaemonErrorPropagates(t *testing.T) {
	fake := &fakeController{err: errors.New("engine event queue full")}
	if _, _, err := execute(t, fake, "root"); err == nil || !strings.Contains(err.Error(), "queue full") {
		t.Fatalf("expected daemon error, got %v", err)
	}
}

func TestMetricsCommand(t *testing.T) {
	fake := &fakeController{metrics: client.MetricsSnapshot{Counters: map[string]float64{
		"frames_total{result=emitted}": 3,
		"bridge_available":             1,
	}}}
	out, _, err := execute(t, fake, "metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if strings.Index(out, "bridge_available") > strings.Index(out, "frames_total") {
		t.Fatalf("counters should be sorted:\n%s", out)
	}
	if !strings.Contains(out, "frames_total{result=emitted}  3") {
		t.Fatalf("unexpected metrics output:\n%s", out)
	}
}

func TestRunCheckSuccess(t *testing.T) {
	path := writeTempFile(t, t.TempDir(), "config.yaml", "baseline:\n  Esc: \"#ffffff\"\n")
	var stdout, stderr bytes.Buffer
	if err := runCheck(path, &stdout, &stderr); err != nil {
		t.Fatalf("runCheck returned error: %v", err)
	}
	if strings.TrimSpace(stdout.String()) != "Configuration OK" {
		t.Fatalf("unexpected stdout: %q", stdout.String())
	}
	if strings.TrimSpace(stderr.String()) != "" {
		t.Fatalf("expected no stderr, got %q", stderr.String())
	}
}

func TestRunCheckFailure(t *testing.T) {
	cfg := `logLevel: loud
compositor:
  query: dbus
backoff:
  factor: 0.5
`
	path := writeTempFile(t, t.TempDir(), "config.yaml", cfg)
	var stdout, stderr bytes.Buffer
	err := runCheck(path, &stdout, &stderr)
	if err == nil {
		t.Fatalf("expected error from runCheck")
	}
	if strings.TrimSpace(stdout.String()) != "" {
		t.Fatalf("expected no stdout, got %q", stdout.String())
	}
	output := stderr.String()
	for _, want := range []string{
		"Configuration has 3 issue(s)",
		`logLevel: unknown level "loud"`,
		`compositor.query: must be socket or hyprctl, got "dbus"`,
		"backoff.factor: must be >= 1",
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("missing %q in %q", want, output)
		}
	}
}

func TestRunResolve(t *testing.T) {
	dir := t.TempDir()
	profiles := filepath.Join(dir, "profiles")
	if err := os.Mkdir(profiles, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeTempFile(t, profiles, "editor.yaml", `
color: "#00ff00"
defaultKeys: [F5]
combos:
  Ctrl:
    S: "#ff0000"
`)
	writeTempFile(t, profiles, "global.yaml", "defaultKeys: [Esc]\n")
	cfgPath := writeTempFile(t, dir, "config.yaml", `profilesDir: `+profiles+`
baseline:
  Space: "#0000ff"
aliases:
  editor: [Code]
`)

	cases := []struct {
		name, class, mods string
		want              []string
	}{
		{name: "combo", class: "Code", mods: "Ctrl", want: []string{"App: editor", "Source: combo Ctrl", "S  #ff0000"}},
		{name: "default", class: "Code", want: []string{"Source: default", "F5  #00ff00"}},
		{name: "missing combo keeps default", class: "Code", mods: "Alt", want: []string{"no combo for Alt", "F5"}},
		{name: "global fallback", class: "kitty", want: []string{"App: kitty", "Source: default", "Esc  #ffa500"}},
		{name: "blank", class: "", want: []string{"App: (none)", "Source: baseline", "Space  #0000ff"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := runResolve(cfgPath, tc.class, tc.mods, &out); err != nil {
				t.Fatalf("runResolve: %v", err)
			}
			for _, want := range tc.want {
				if !strings.Contains(out.String(), want) {
					t.Fatalf("output missing %q:\n%s", want, out.String())
				}
			}
		})
	}
}
