// Package profile loads per-application lighting profiles and resolves them
// against the reserved global fallback profile.
package profile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/EvanSunde/Sinodragon/internal/state"
)

// GlobalID names the reserved fallback profile.
const GlobalID = "global"

// ErrNotFound reports that no profile exists for an application.
var ErrNotFound = errors.New("profile not found")

// Profile is an immutable snapshot of one application's lighting. Edits
// produce a new snapshot; cached values are never mutated.
type Profile struct {
	AppID       string
	DefaultKeys state.Mapping
	Combos      map[state.ModifierSet]state.Mapping
}

// Combo returns the mapping bound to set, if any.
func (p *Profile) Combo(set state.ModifierSet) (state.Mapping, bool) {
	if p == nil || len(p.Combos) == 0 {
		return nil, false
	}
	m, ok := p.Combos[set]
	return m, ok
}

// Source is the profile collaborator the store reads through.
type Source interface {
	// Load returns the profile for appID or an error wrapping ErrNotFound.
	Load(appID string) (*Profile, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(appID string) (*Profile, error)

func (f SourceFunc) Load(appID string) (*Profile, error) { return f(appID) }

// LoadError wraps an I/O or decode failure reading a profile.
type LoadError struct {
	AppID string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load profile %q: %v", e.AppID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Resolver maps compositor window classes to profile ids.
type Resolver struct {
	aliases map[string]string
}

// NewResolver builds a resolver from profile id -> window classes.
func NewResolver(aliases map[string][]string) *Resolver {
	r := &Resolver{aliases: make(map[string]string)}
	for id, classes := range aliases {
		for _, class := range classes {
			r.aliases[strings.ToLower(class)] = id
		}
	}
	return r
}

// AppID returns the profile id for a window class. Unaliased classes are lower-cased.
func (r *Resolver) AppID(class string) string {
	key := strings.ToLower(strings.TrimSpace(class))
	if r != nil {
		if id, ok := r.aliases[key]; ok {
			return id
		}
	}
	return key
}
