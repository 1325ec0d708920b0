package state

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Color is an 8-bit RGB value.
type Color struct {
	R, G, B uint8
}

var namedColors = map[string]Color{
	"black":  {0, 0, 0},
	"white":  {255, 255, 255},
	"red":    {255, 0, 0},
	"green":  {0, 255, 0},
	"blue":   {0, 0, 255},
	"yellow": {255, 255, 0},
	"cyan":   {0, 255, 255},
	"purple": {128, 0, 255},
	"orange": {255, 165, 0},
}

// Hex renders the color as "#rrggbb".
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c Color) String() string { return c.Hex() }

// ParseColor accepts "#rrggbb", "rrggbb" or one of the named colors.
func ParseColor(s string) (Color, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[raw]; ok {
		return c, nil
	}
	raw = strings.TrimPrefix(raw, "#")
	if len(raw) != 6 {
		return Color{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

func (c *Color) UnmarshalText(text []byte) error {
	parsed, err := ParseColor(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// UnmarshalYAML accepts either a color string or an [r, g, b] sequence.
func (c *Color) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return c.UnmarshalText([]byte(value.Value))
	case yaml.SequenceNode:
		var parts []int
		if err := value.Decode(&parts); err != nil {
			return fmt.Errorf("line %d: color: %w", value.Line, err)
		}
		if len(parts) != 3 {
			return fmt.Errorf("line %d: color must have 3 components, got %d", value.Line, len(parts))
		}
		for _, p := range parts {
			if p < 0 || p > 255 {
				return fmt.Errorf("line %d: color component %d out of range", value.Line, p)
			}
		}
		*c = Color{R: uint8(parts[0]), G: uint8(parts[1]), B: uint8(parts[2])}
		return nil
	default:
		return fmt.Errorf("line %d: color must be a string or [r, g, b]", value.Line)
	}
}

// Mapping assigns a color to each lit key. Keys absent from the mapping are off.
type Mapping map[string]Color

// Clone returns an independent copy; nil stays nil.
func (m Mapping) Clone() Mapping {
	if m == nil {
		return nil
	}
	out := make(Mapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Equal compares two mappings by value. A nil mapping equals an empty one.
func (m Mapping) Equal(other Mapping) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Keys returns the key ids in sorted order.
func (m Mapping) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
