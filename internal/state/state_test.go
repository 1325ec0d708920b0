package state

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestModifierSetCanonicalOrder(t *testing.T) {
	a := NewModifierSet(Shift, Ctrl)
	b := NewModifierSet(Ctrl, Shift)
	if a != b {
		t.Fatalf("sets built in different order differ: %v vs %v", a, b)
	}
	if got := a.String(); got != "Ctrl+Shift" {
		t.Fatalf("String() = %q, want Ctrl+Shift", got)
	}
	all := NewModifierSet(Win, Alt, Shift, Ctrl)
	if got := all.String(); got != "Ctrl+Shift+Alt+Win" {
		t.Fatalf("String() = %q", got)
	}
	if all.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", all.Len())
	}
}

func TestParseModifierSet(t *testing.T) {
	tests := map[string]ModifierSet{
		"Ctrl+Shift":  NewModifierSet(Ctrl, Shift),
		"shift+ctrl":  NewModifierSet(Ctrl, Shift),
		"Super":       NewModifierSet(Win),
		" alt + win ": NewModifierSet(Alt, Win),
	}
	for input, want := range tests {
		got, err := ParseModifierSet(input)
		if err != nil {
			t.Fatalf("ParseModifierSet(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseModifierSet(%q) = %v, want %v", input, got, want)
		}
	}
	if _, err := ParseModifierSet("Ctrl+Q"); err == nil {
		t.Fatalf("expected error for non-modifier member")
	}
	if _, err := ParseModifierSet(""); err == nil {
		t.Fatalf("expected error for empty chord")
	}
}

func TestModifierSetWithout(t *testing.T) {
	s := NewModifierSet(Ctrl, Shift).Without(Shift)
	if s != NewModifierSet(Ctrl) {
		t.Fatalf("Without(Shift) = %v", s)
	}
	if !s.Without(Ctrl).Empty() {
		t.Fatalf("expected empty set")
	}
	if s.Without(Alt) != s {
		t.Fatalf("removing absent modifier changed the set")
	}
}

func TestColorDecoding(t *testing.T) {
	var doc struct {
		Hex   Color `yaml:"hex"`
		Name  Color `yaml:"name"`
		Tuple Color `yaml:"tuple"`
	}
	data := []byte("hex: \"#0080ff\"\nname: red\ntuple: [1, 2, 3]\n")
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Hex != (Color{0, 128, 255}) {
		t.Fatalf("hex = %+v", doc.Hex)
	}
	if doc.Name != (Color{255, 0, 0}) {
		t.Fatalf("name = %+v", doc.Name)
	}
	if doc.Tuple != (Color{1, 2, 3}) {
		t.Fatalf("tuple = %+v", doc.Tuple)
	}
	if err := yaml.Unmarshal([]byte("hex: [1, 2, 300]\n"), &doc); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestMappingEqual(t *testing.T) {
	a := Mapping{"F1": {255, 0, 0}, "P": {0, 0, 255}}
	b := a.Clone()
	if !a.Equal(b) {
		t.Fatalf("clone should be equal")
	}
	b["P"] = Color{0, 0, 254}
	if a.Equal(b) {
		t.Fatalf("mappings with different colors reported equal")
	}
	if !Mapping(nil).Equal(Mapping{}) {
		t.Fatalf("nil and empty mappings should be equal")
	}
}

func TestEngineStateString(t *testing.T) {
	if got := ComboActive("code", NewModifierSet(Shift, Ctrl)).String(); got != "ComboActive(code, Ctrl+Shift)" {
		t.Fatalf("unexpected string %q", got)
	}
	if !Blank.IsBlank() || (WindowFocus{AppClass: "firefox"}).IsBlank() {
		t.Fatalf("IsBlank mismatch")
	}
}
