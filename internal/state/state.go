// Package state holds the lighting domain model shared by the ingestion
// clients, the profile store and the engine.
package state

import "fmt"

// WindowFocus describes the window currently holding input focus as reported
// by the compositor. The zero value is the blank focus: no window focused.
type WindowFocus struct {
	AppClass string `json:"appClass"`
	Title    string `json:"title,omitempty"`
}

// Blank is the sentinel for "no focused window".
var Blank = WindowFocus{}

// IsBlank reports whether no window is focused.
func (f WindowFocus) IsBlank() bool {
	return f.AppClass == ""
}

// ModifierEvent is a press or release of a single modifier.
type ModifierEvent struct {
	Modifier Modifier `json:"modifier"`
	Pressed  bool     `json:"pressed"`
}

func (e ModifierEvent) String() string {
	verb := "release"
	if e.Pressed {
		verb = "press"
	}
	return fmt.Sprintf("%s %s", verb, e.Modifier)
}

// Kind discriminates the EngineState variants.
type Kind int

const (
	KindBaseline Kind = iota
	KindAppDefault
	KindComboActive
)

func (k Kind) String() string {
	switch k {
	case KindBaseline:
		return "baseline"
	case KindAppDefault:
		return "app-default"
	case KindComboActive:
		return "combo-active"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// EngineState is the tagged union Baseline | AppDefault(app) | ComboActive(app, set).
// Construct values through the helpers below so the fields always agree with Kind.
type EngineState struct {
	Kind  Kind
	AppID string
	Combo ModifierSet
}

// Baseline returns the baseline state.
func Baseline() EngineState {
	return EngineState{Kind: KindBaseline}
}

// AppDefault returns the default state for appID.
func AppDefault(appID string) EngineState {
	return EngineState{Kind: KindAppDefault, AppID: appID}
}

// ComboActive returns the combo state for appID with the given chord.
func ComboActive(appID string, set ModifierSet) EngineState {
	return EngineState{Kind: KindComboActive, AppID: appID, Combo: set}
}

func (s EngineState) String() string {
	switch s.Kind {
	case KindBaseline:
		return "Baseline"
	case KindAppDefault:
		return fmt.Sprintf("AppDefault(%s)", s.AppID)
	case KindComboActive:
		return fmt.Sprintf("ComboActive(%s, %s)", s.AppID, s.Combo)
	default:
		return s.Kind.String()
	}
}
