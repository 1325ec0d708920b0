package state

import (
	"fmt"
	"strings"
)

// Modifier is one of the four modifier keys tracked by the daemon.
type Modifier uint8

const (
	Ctrl Modifier = 1 << iota
	Shift
	Alt
	Win
)

// canonicalOrder is the order used when rendering a ModifierSet.
var canonicalOrder = []Modifier{Ctrl, Shift, Alt, Win}

var modifierNames = map[Modifier]string{
	Ctrl:  "Ctrl",
	Shift: "Shift",
	Alt:   "Alt",
	Win:   "Win",
}

var modifierAliases = map[string]Modifier{
	"ctrl":    Ctrl,
	"control": Ctrl,
	"shift":   Shift,
	"alt":     Alt,
	"win":     Win,
	"super":   Win,
	"meta":    Win,
	"cmd":     Win,
}

func (m Modifier) String() string {
	if name, ok := modifierNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Modifier(%d)", uint8(m))
}

// Valid reports whether m is exactly one of the supported modifiers.
func (m Modifier) Valid() bool {
	_, ok := modifierNames[m]
	return ok
}

// ParseModifier resolves a modifier name case-insensitively, accepting common aliases.
func ParseModifier(name string) (Modifier, error) {
	if m, ok := modifierAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return m, nil
	}
	return 0, fmt.Errorf("unknown modifier %q", name)
}

// ModifierSet is an unordered set of held modifiers. Equal sets compare equal
// regardless of the order the keys were pressed, so it can key combo maps directly.
type ModifierSet uint8

// NewModifierSet builds a set from the given modifiers.
func NewModifierSet(mods ...Modifier) ModifierSet {
	var s ModifierSet
	for _, m := range mods {
		s = s.With(m)
	}
	return s
}

func (s ModifierSet) With(m Modifier) ModifierSet    { return s | ModifierSet(m) }
func (s ModifierSet) Without(m Modifier) ModifierSet { return s &^ ModifierSet(m) }
func (s ModifierSet) Has(m Modifier) bool            { return s&ModifierSet(m) != 0 }
func (s ModifierSet) Empty() bool                    { return s == 0 }

// Len returns the number of held modifiers.
func (s ModifierSet) Len() int {
	n := 0
	for _, m := range canonicalOrder {
		if s.Has(m) {
			n++
		}
	}
	return n
}

// Modifiers returns the members in canonical order.
func (s ModifierSet) Modifiers() []Modifier {
	out := make([]Modifier, 0, 4)
	for _, m := range canonicalOrder {
		if s.Has(m) {
			out = append(out, m)
		}
	}
	return out
}

// String renders the set as a chord in canonical order, e.g. "Ctrl+Shift".
func (s ModifierSet) String() string {
	mods := s.Modifiers()
	if len(mods) == 0 {
		return ""
	}
	parts := make([]string, len(mods))
	for i, m := range mods {
		parts[i] = m.String()
	}
	return strings.Join(parts, "+")
}

// ParseModifierSet parses a chord such as "Shift+Ctrl". Order and case are ignored.
func ParseModifierSet(chord string) (ModifierSet, error) {
	chord = strings.TrimSpace(chord)
	if chord == "" {
		return 0, fmt.Errorf("empty modifier chord")
	}
	var s ModifierSet
	for _, part := range strings.Split(chord, "+") {
		m, err := ParseModifier(part)
		if err != nil {
			return 0, fmt.Errorf("chord %q: %w", chord, err)
		}
		s = s.With(m)
	}
	return s, nil
}

func (s ModifierSet) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ModifierSet) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		*s = 0
		return nil
	}
	parsed, err := ParseModifierSet(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
