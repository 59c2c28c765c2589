package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"levelbot/core"
)

const (
	UsersFile  = "users.json"
	GroupsFile = "groups.json"
)

// Store persists profiles and group flags as two JSON documents in a
// directory. Every write rewrites the affected file atomically.
// Suitable for demos and small deployments.
type Store struct {
	dir string
	mu  sync.Mutex
	// in-memory copy of the files, profiles kept in file order
	profiles map[core.UserID]core.Profile
	order    []core.UserID
	groups   map[core.GroupID]map[string]bool
}

// New opens the store in dir, loading existing files. Missing files start
// empty.
func New(dir string) (*Store, error) {
	s := &Store{
		dir:      dir,
		profiles: map[core.UserID]core.Profile{},
		groups:   map[core.GroupID]map[string]bool{},
	}
	if err := s.loadUsers(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", UsersFile, err)
	}
	if err := s.loadGroups(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", GroupsFile, err)
	}
	return s, nil
}

// loadUsers walks the top-level object token by token so file order survives.
// A record that is not an object becomes a default profile.
func (s *Store) loadUsers() error {
	b, err := os.ReadFile(filepath.Join(s.dir, UsersFile))
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return fmt.Errorf("expected object at top level")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id := core.UserID(tok.(string))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var p core.Profile
		if err := json.Unmarshal(raw, &p); err != nil {
			p = core.NewProfile(id)
		}
		p.ID = id
		if _, seen := s.profiles[id]; !seen {
			s.order = append(s.order, id)
		}
		s.profiles[id] = p
	}
	return nil
}

func (s *Store) loadGroups() error {
	b, err := os.ReadFile(filepath.Join(s.dir, GroupsFile))
	if err != nil {
		return err
	}
	var raw map[string]map[string]bool
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		s.groups[core.GroupID(k)] = v
	}
	return nil
}

func (s *Store) persistUsers() error {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(string(id))
		if err != nil {
			return err
		}
		v, err := json.Marshal(s.profiles[id])
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return err
	}
	return s.writeFile(UsersFile, out.Bytes())
}

func (s *Store) persistGroups() error {
	raw := make(map[string]map[string]bool, len(s.groups))
	for k, v := range s.groups {
		raw[string(k)] = v
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	return s.writeFile(GroupsFile, b)
}

func (s *Store) writeFile(name string, b []byte) error {
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) GetProfile(_ context.Context, user core.UserID) (core.Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	if err := s.persistUsers(); err != nil {
		return fmt.Errorf("persist profiles: %w", err)
	}
	return nil
}

func (s *Store) ListProfiles(_ context.Context) ([]core.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Profile, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.profiles[id].Clone())
	}
	return out, nil
}

func (s *Store) IsFeatureEnabled(_ context.Context, group core.GroupID, feature string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.groups[group][feature]; ok {
		return v, nil
	}
	return true, nil
}

func (s *Store) SetFeature(_ context.Context, group core.GroupID, feature string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groups[group] == nil {
		s.groups[group] = map[string]bool{}
	}
	s.groups[group][feature] = enabled
	if err := s.persistGroups(); err != nil {
		return fmt.Errorf("persist groups: %w", err)
	}
	return nil
}
