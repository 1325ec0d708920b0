package engine

import (
	"fmt"

	"github.com/EvanSunde/Sinodragon/internal/state"
)

// EventKind discriminates engine events.
type EventKind int

const (
	EventFocus EventKind = iota
	EventModifier
	EventRoot
	EventApply
	EventInvalidate
)

func (k EventKind) String() string {
	switch k {
	case EventFocus:
		return "focus"
	case EventModifier:
		return "modifier"
	case EventRoot:
		return "root"
	case EventApply:
		return "apply"
	case EventInvalidate:
		return "invalidate"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// AppResolver maps a window class to a profile id.
type AppResolver interface {
	AppID(class string) string
}

// Event is the single queued input type. Only the fields matching Kind are set.
type Event struct {
	Kind     EventKind
	Focus    state.WindowFocus
	Modifier state.ModifierEvent
	// Baseline replaces the baseline mapping on Apply when non-nil.
	Baseline state.Mapping
	// Resolver replaces the class-to-profile mapping on Apply when non-nil.
	Resolver AppResolver
	// AppID names the profile dropped on Invalidate; empty drops every profile.
	AppID string
	// Source labels where the event came from, for metrics and logs.
	Source string
}

// FocusEvent reports a compositor focus change.
func FocusEvent(f state.WindowFocus) Event {
	return Event{Kind: EventFocus, Focus: f, Source: "compositor"}
}

// ModifierEvent reports a modifier press or release.
func ModifierEvent(m state.ModifierEvent) Event {
	return Event{Kind: EventModifier, Modifier: m, Source: "bridge"}
}

// RootEvent reports the reserved Win+Delete chord.
func RootEvent(source string) Event {
	return Event{Kind: EventRoot, Source: source}
}

// ApplyEvent asks for a full re-resolution, optionally with a new baseline.
func ApplyEvent(baseline state.Mapping) Event {
	return Event{Kind: EventApply, Baseline: baseline.Clone(), Source: "control"}
}

// InvalidateEvent drops a cached profile and re-resolves.
func InvalidateEvent(appID string) Event {
	return Event{Kind: EventInvalidate, AppID: appID, Source: "control"}
}

func (e Event) String() string {
	switch e.Kind {
	case EventFocus:
		if e.Focus.IsBlank() {
			return "focus(blank)"
		}
		return fmt.Sprintf("focus(%s)", e.Focus.AppClass)
	case EventModifier:
		return e.Modifier.String()
	case EventInvalidate:
		if e.AppID == "" {
			return "invalidate(all)"
		}
		return fmt.Sprintf("invalidate(%s)", e.AppID)
	default:
		return e.Kind.String()
	}
}
