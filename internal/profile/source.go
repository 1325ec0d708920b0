package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/EvanSunde/Sinodragon/internal/state"
)

// DefaultHighlight colours keys listed without an explicit colour.
var DefaultHighlight = state.Color{R: 255, G: 165, B: 0}

// Extensions are tried in order when locating a profile file.
var Extensions = []string{".yaml", ".yml", ".json"}

// DirSource reads one profile file per application from Dir.
type DirSource struct {
	Dir string
}

// Path returns the first existing profile file for appID.
func (d DirSource) Path(appID string) (string, error) {
	if err := validID(appID); err != nil {
		return "", err
	}
	for _, ext := range Extensions {
		path := filepath.Join(d.Dir, appID+ext)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return "", ErrNotFound
}

// Load reads and decodes the profile for appID.
func (d DirSource) Load(appID string) (*Profile, error) {
	path, err := d.Path(appID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", appID, ErrNotFound)
		}
		return nil, &LoadError{AppID: appID, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", appID, ErrNotFound)
		}
		return nil, &LoadError{AppID: appID, Err: err}
	}
	p, err := Decode(appID, data)
	if err != nil {
		return nil, &LoadError{AppID: appID, Err: fmt.Errorf("%s: %w", path, err)}
	}
	return p, nil
}

// AppIDForPath maps a profile file path back to its app id.
func AppIDForPath(path string) (string, bool) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	for _, known := range Extensions {
		if ext == known {
			id := strings.TrimSuffix(base, ext)
			return id, id != ""
		}
	}
	return "", false
}

func validID(appID string) error {
	if appID == "" || appID == "." || appID == ".." || strings.ContainsAny(appID, `/\`) {
		return fmt.Errorf("invalid profile id %q", appID)
	}
	return nil
}

// keyList is either a key -> colour map or a bare list of keys.
type keyList struct {
	colors state.Mapping
	keys   []string
}

func (k *keyList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		return value.Decode(&k.keys)
	case yaml.MappingNode:
		return value.Decode(&k.colors)
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			return nil
		}
		var key string
		if err := value.Decode(&key); err != nil {
			return err
		}
		k.keys = []string{key}
		return nil
	default:
		return fmt.Errorf("line %d: expected key list or key map", value.Line)
	}
}

func (k keyList) mapping(color state.Color) state.Mapping {
	if len(k.colors) == 0 && len(k.keys) == 0 {
		return nil
	}
	out := make(state.Mapping, len(k.colors)+len(k.keys))
	for _, key := range k.keys {
		out[key] = color
	}
	for key, c := range k.colors {
		out[key] = c
	}
	return out
}

// Decode parses a profile document. Besides the structured form
//
//	color: "#00ff00"
//	defaultKeys: [W, A, S, D]
//	combos:
//	  Ctrl+Shift: {P: "#ff0000"}
//
// it accepts flat documents where chord names sit next to default_keys.
func Decode(appID string, data []byte) (*Profile, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	color := DefaultHighlight
	if node, ok := doc["color"]; ok {
		if err := node.Decode(&color); err != nil {
			return nil, fmt.Errorf("color: %w", err)
		}
	}
	p := &Profile{AppID: appID, Combos: map[state.ModifierSet]state.Mapping{}}
	addCombo := func(chord string, node *yaml.Node) error {
		set, err := state.ParseModifierSet(chord)
		if err != nil {
			return fmt.Errorf("combo %q: %w", chord, err)
		}
		if set.Empty() {
			return fmt.Errorf("combo %q: empty modifier set", chord)
		}
		if _, dup := p.Combos[set]; dup {
			return fmt.Errorf("combo %q duplicates %s", chord, set)
		}
		var list keyList
		if err := node.Decode(&list); err != nil {
			return fmt.Errorf("combo %q: %w", chord, err)
		}
		if m := list.mapping(color); len(m) > 0 {
			p.Combos[set] = m
		}
		return nil
	}
	for key, node := range doc {
		node := node
		switch key {
		case "color":
		case "defaultKeys", "default_keys":
			var list keyList
			if err := node.Decode(&list); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			if len(p.DefaultKeys) > 0 {
				return nil, fmt.Errorf("%s: default keys defined twice", key)
			}
			p.DefaultKeys = list.mapping(color)
		case "combos":
			var combos map[string]yaml.Node
			if err := node.Decode(&combos); err != nil {
				return nil, fmt.Errorf("combos: %w", err)
			}
			for chord, cn := range combos {
				cn := cn
				if err := addCombo(chord, &cn); err != nil {
					return nil, err
				}
			}
		default:
			if err := addCombo(key, &node); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}
