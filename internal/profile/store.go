package profile

import (
	"errors"

	"github.com/EvanSunde/Sinodragon/internal/metrics"
	"github.com/EvanSunde/Sinodragon/internal/state"
	"github.com/EvanSunde/Sinodragon/internal/util"
)

// Store resolves lighting for applications, falling back to the global
// profile. It is owned by the engine goroutine and is not safe for
// concurrent use.
type Store struct {
	source  Source
	apps    *appCache
	global  globalCell
	logger  *util.Logger
	metrics *metrics.Collector
}

// NewStore returns a store reading through src with the given per-app capacity.
func NewStore(src Source, capacity int, logger *util.Logger, m *metrics.Collector) *Store {
	if logger == nil {
		logger = util.NewLogger(util.LevelInfo)
	}
	s := &Store{source: src, logger: logger, metrics: m}
	s.apps = newAppCache(capacity, func(appID string) {
		s.logger.Debugf("profile cache evicted %s", appID)
		s.metrics.RecordProfile(metrics.ProfileEvicted)
	})
	return s
}

// ResolveDefaultKeys returns the default mapping for appID. An app profile
// without default keys falls back to the global default keys; an empty
// result means the caller should use the baseline.
func (s *Store) ResolveDefaultKeys(appID string) state.Mapping {
	if appID != GlobalID {
		if p := s.app(appID); p != nil && len(p.DefaultKeys) > 0 {
			return p.DefaultKeys
		}
	}
	if g := s.globalProfile(); g != nil && len(g.DefaultKeys) > 0 {
		return g.DefaultKeys
	}
	return nil
}

// ResolveCombo returns the mapping bound to the exact modifier set, looking
// at the app profile first and the global profile second.
func (s *Store) ResolveCombo(appID string, set state.ModifierSet) (state.Mapping, bool) {
	if set.Empty() {
		return nil, false
	}
	if appID != GlobalID {
		if m, ok := s.app(appID).Combo(set); ok {
			return m, true
		}
	}
	return s.globalProfile().Combo(set)
}

// Invalidate drops appID from the cache so the next access reloads it.
func (s *Store) Invalidate(appID string) {
	if appID == GlobalID {
		s.global.clear()
		return
	}
	s.apps.remove(appID)
}

// InvalidateAll drops every cached profile including global.
func (s *Store) InvalidateAll() {
	s.apps.clear()
	s.global.clear()
}

// Len returns the number of cached per-app entries.
func (s *Store) Len() int { return s.apps.len() }

func (s *Store) app(appID string) *Profile {
	if appID == "" {
		return nil
	}
	if entry, ok := s.apps.get(appID); ok {
		s.metrics.RecordProfile(metrics.ProfileHit)
		return entry.Profile
	}
	s.metrics.RecordProfile(metrics.ProfileMiss)
	p, ok := s.load(appID)
	if !ok {
		return nil
	}
	return s.apps.put(appID, p).Profile
}

func (s *Store) globalProfile() *Profile {
	if entry, ok := s.global.get(); ok {
		return entry.Profile
	}
	p, ok := s.load(GlobalID)
	if !ok {
		return nil
	}
	return s.global.set(p).Profile
}

// load reads one profile. ok is false when the result must not be cached.
func (s *Store) load(appID string) (*Profile, bool) {
	if s.source == nil {
		return nil, true
	}
	p, err := s.source.Load(appID)
	switch {
	case err == nil:
		s.logger.Debugf("loaded profile %s (%d default keys, %d combos)", appID, len(p.DefaultKeys), len(p.Combos))
		return p, true
	case errors.Is(err, ErrNotFound):
		s.logger.Tracef("no profile for %s", appID)
		return nil, true
	default:
		s.logger.Warnf("profile %s unavailable: %v", appID, err)
		s.metrics.RecordProfile(metrics.ProfileError)
		return nil, false
	}
}
