package memory

import (
	"context"
	"sync"
	"time"

	"levelbot/core"
)

// Store is a concurrent in-memory profile and group-flag store. Profiles are
// listed in insertion order.
type Store struct {
	mu       sync.RWMutex
	profiles map[core.UserID]core.Profile
	order    []core.UserID
	features map[core.GroupID]map[string]bool
}

func New() *Store {
	return &Store{
		profiles: map[core.UserID]core.Profile{},
		features: map[core.GroupID]map[string]bool{},
	}
}

// Seed stores p verbatim, bypassing merge semantics. Intended for fixtures.
func (s *Store) Seed(p core.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.profiles[p.ID] = p.Clone()
}

func (s *Store) GetProfile(_ context.Context, user core.UserID) (core.Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[user]
	if !ok {
		return core.Profile{}, false, nil
	}
	return p.Clone(), true, nil
}

func (s *Store) SetProfile(_ context.Context, user core.UserID, patch core.ProfilePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[user]
	if !ok {
		p = core.NewProfile(user)
		s.order = append(s.order, user)
	}
	p.Apply(patch)
	p.Updated = time.Now().UTC()
	s.profiles[user] = p
	return nil
}

func (s *Store) ListProfiles(_ context.Context) ([]core.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Profile, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.profiles[id].Clone())
	}
	return out, nil
}

func (s *Store) IsFeatureEnabled(_ context.Context, group core.GroupID, feature string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.features[group][feature]; ok {
		return v, nil
	}
	return true, nil
}

func (s *Store) SetFeature(_ context.Context, group core.GroupID, feature string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.features[group] == nil {
		s.features[group] = map[string]bool{}
	}
	s.features[group][feature] = enabled
	return nil
}

var _ interface {
	GetProfile(context.Context, core.UserID) (core.Profile, bool, error)
	SetProfile(context.Context, core.UserID, core.ProfilePatch) error
	ListProfiles(context.Context) ([]core.Profile, error)
	IsFeatureEnabled(context.Context, core.GroupID, string) (bool, error)
	SetFeature(context.Context, core.GroupID, string, bool) error
} = (*Store)(nil)
