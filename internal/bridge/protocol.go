// Package bridge talks to the privileged input helper that watches the
// keyboard device. Only modifier transitions and the reserved root chord
// ever cross the socket.
package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/EvanSunde/Sinodragon/internal/state"
)

// DefaultSocketPath is where the helper listens by default.
const DefaultSocketPath = "/tmp/sinodragon_keymon.sock"

// EventKind discriminates helper events.
type EventKind int

const (
	// EventModifier carries a modifier press or release.
	EventModifier EventKind = iota
	// EventRoot reports the reserved Win+Delete chord.
	EventRoot
)

func (k EventKind) String() string {
	switch k {
	case EventModifier:
		return "modifier"
	case EventRoot:
		return "root"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one decoded helper message.
type Event struct {
	Kind     EventKind
	Modifier state.ModifierEvent
}

func (e Event) String() string {
	if e.Kind == EventRoot {
		return "root"
	}
	return e.Modifier.String()
}

// wireEvent is the JSON line written by the helper. Either the evdev form
// (event + key_code) or the direct form (modifier + pressed) is accepted.
type wireEvent struct {
	Event     string  `json:"event"`
	KeyCode   string  `json:"key_code"`
	Modifier  string  `json:"modifier"`
	Pressed   *bool   `json:"pressed"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

var keyCodes = map[string]state.Modifier{
	"KEY_LEFTCTRL":   state.Ctrl,
	"KEY_RIGHTCTRL":  state.Ctrl,
	"KEY_LEFTSHIFT":  state.Shift,
	"KEY_RIGHTSHIFT": state.Shift,
	"KEY_LEFTALT":    state.Alt,
	"KEY_RIGHTALT":   state.Alt,
	"KEY_LEFTMETA":   state.Win,
	"KEY_RIGHTMETA":  state.Win,
}

// rootKeyCode pressed while Win is held forms the root chord.
const rootKeyCode = "KEY_DELETE"

// ErrNotModifier reports a message about a key outside the modifier set.
type ErrNotModifier struct {
	Key     string
	Pressed bool
}

func (e *ErrNotModifier) Error() string {
	return fmt.Sprintf("key %q is not a modifier", e.Key)
}

// ModifierForKeyCode folds left/right evdev key codes into a Modifier.
func ModifierForKeyCode(code string) (state.Modifier, bool) {
	m, ok := keyCodes[strings.ToUpper(strings.TrimSpace(code))]
	return m, ok
}

// Decode parses one helper line.
func Decode(line []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return Event{}, fmt.Errorf("decode helper event: %w", err)
	}
	kind := strings.ToLower(strings.TrimSpace(w.Event))
	if kind == "root" {
		return Event{Kind: EventRoot}, nil
	}
	if w.Modifier != "" {
		m, err := state.ParseModifier(w.Modifier)
		if err != nil {
			return Event{}, &ErrNotModifier{Key: w.Modifier}
		}
		pressed := kind == "press"
		if w.Pressed != nil {
			pressed = *w.Pressed
		} else if kind != "press" && kind != "release" {
			return Event{}, fmt.Errorf("helper event for %s lacks pressed state", m)
		}
		return Event{Kind: EventModifier, Modifier: state.ModifierEvent{Modifier: m, Pressed: pressed}}, nil
	}
	if kind != "press" && kind != "release" {
		return Event{}, fmt.Errorf("unknown helper event %q", w.Event)
	}
	m, ok := ModifierForKeyCode(w.KeyCode)
	if !ok {
		return Event{}, &ErrNotModifier{Key: strings.ToUpper(strings.TrimSpace(w.KeyCode)), Pressed: kind == "press"}
	}
	return Event{Kind: EventModifier, Modifier: state.ModifierEvent{Modifier: m, Pressed: kind == "press"}}, nil
}

// Encode renders an event in the direct form, used by test helpers and dry runs.
func Encode(e Event) ([]byte, error) {
	var w wireEvent
	if e.Kind == EventRoot {
		w.Event = "root"
	} else {
		pressed := e.Modifier.Pressed
		w.Modifier = e.Modifier.Modifier.String()
		w.Pressed = &pressed
		if pressed {
			w.Event = "press"
		} else {
			w.Event = "release"
		}
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
