package engine

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"levelbot/cardcache"
	"levelbot/core"
	"levelbot/leaderboard"
)

// Options tunes a Service. Zero values use defaults.
type Options struct {
	Groups         GroupStore
	Renderer       CardRenderer
	GlobalCooldown time.Duration
	GroupCooldown  time.Duration
	CacheSize      int
	CacheTTL       time.Duration
	Roller         core.Roller
	Logger         *slog.Logger
	Now            func() time.Time
	// OnCardEvict runs for every level card leaving the cache, typically to
	// delete the rendered file.
	OnCardEvict func(user core.UserID, e cardcache.Entry)
}

// Service is the leveling engine: XP awards, progress, leaderboard and level
// cards. Operations used by the message pipeline never fail; they fall back
// to safe defaults and log the cause.
type Service struct {
	profiles  ProfileStore
	groups    GroupStore
	renderer  CardRenderer
	bus       *EventBus
	cooldowns *Cooldowns
	cards     *cardcache.Cache
	roller    core.Roller
	log       *slog.Logger
	now       func() time.Time
	locks     userLocks
}

func NewService(profiles ProfileStore, bus *EventBus, opts Options) *Service {
	if profiles == nil || bus == nil {
		panic("NewService requires non-nil profiles and bus")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Roller == nil {
		opts.Roller = newSeededRoller()
	}
	return &Service{
		profiles:  profiles,
		groups:    opts.Groups,
		renderer:  opts.Renderer,
		bus:       bus,
		cooldowns: NewCooldowns(opts.GlobalCooldown, opts.GroupCooldown, opts.Now),
		cards: cardcache.New(cardcache.Options{
			MaxEntries: opts.CacheSize,
			TTL:        opts.CacheTTL,
			Now:        opts.Now,
			OnEvict:    opts.OnCardEvict,
		}),
		roller: opts.Roller,
		log:    opts.Logger.With("component", "leveling"),
		now:    opts.Now,
	}
}

// lockedRoller makes a *rand.Rand safe for concurrent awards.
type lockedRoller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (l *lockedRoller) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.IntN(n)
}

func newSeededRoller() core.Roller {
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		seed = [16]byte{}
	}
	return &lockedRoller{rng: rand.New(rand.NewPCG(
		binary.BigEndian.Uint64(seed[:8]),
		binary.BigEndian.Uint64(seed[8:]),
	))}
}

// Subscribe convenience method.
func (s *Service) Subscribe(typ core.EventType, handler Handler) func() {
	return s.bus.Subscribe(typ, handler)
}

// SubscribeAll registers handler for every event type.
func (s *Service) SubscribeAll(handler Handler) func() {
	return s.bus.SubscribeAll(handler)
}

// Reset clears cooldowns and cached cards.
func (s *Service) Reset() {
	s.cooldowns.Reset()
	s.cards.Reset()
}

func (s *Service) Close() { s.bus.Close() }

// loadProfile reads and normalizes a profile, creating a default one in
// memory when the user is unknown.
func (s *Service) loadProfile(ctx context.Context, user core.UserID) (core.Profile, bool, error) {
	p, found, err := s.profiles.GetProfile(ctx, user)
	if err != nil {
		return core.Profile{}, false, err
	}
	if !found {
		return core.NewProfile(user), false, nil
	}
	if p.ID == "" {
		p.ID = user
	}
	if defects := p.Normalize(); len(defects) > 0 {
		s.log.Warn("profile had invalid fields, using defaults", "user", user, "fields", defects)
	}
	return p, true, nil
}

// GetProfile returns the user's normalized profile, or a fresh one on failure.
func (s *Service) GetProfile(ctx context.Context, user core.UserID) core.Profile {
	return guard(s.log, "get_profile", core.NewProfile(user), func() (core.Profile, error) {
		id, err := core.NormalizeUserID(user)
		if err != nil {
			return core.Profile{}, err
		}
		p, _, err := s.loadProfile(ctx, id)
		return p, err
	})
}

// GetProgress reports how far the user is through the current level.
func (s *Service) GetProgress(ctx context.Context, user core.UserID) core.Progress {
	return guard(s.log, "get_progress", core.ProgressFor(0), func() (core.Progress, error) {
		id, err := core.NormalizeUserID(user)
		if err != nil {
			return core.Progress{}, err
		}
		p, _, err := s.loadProfile(ctx, id)
		if err != nil {
			return core.Progress{}, err
		}
		return core.ProgressFor(p.XP), nil
	})
}

// GetLeaderboard returns the top users by XP; limit is clamped to 1..1000.
func (s *Service) GetLeaderboard(ctx context.Context, limit int) []leaderboard.Entry {
	return guard(s.log, "get_leaderboard", []leaderboard.Entry{}, func() ([]leaderboard.Entry, error) {
		profiles, err := s.profiles.ListProfiles(ctx)
		if err != nil {
			return nil, err
		}
		return leaderboard.Top(profiles, limit), nil
	})
}

// GetRank returns the user's 1-based position within the top
// leaderboard.RankWindow users; false means unranked.
func (s *Service) GetRank(ctx context.Context, user core.UserID) (int, bool) {
	type rank struct {
		pos int
		ok  bool
	}
	r := guard(s.log, "get_rank", rank{}, func() (rank, error) {
		id, err := core.NormalizeUserID(user)
		if err != nil {
			return rank{}, err
		}
		pos, ok := leaderboard.RankOf(s.GetLeaderboard(ctx, leaderboard.RankWindow), id)
		return rank{pos, ok}, nil
	})
	return r.pos, r.ok
}
