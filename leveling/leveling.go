// Package leveling assembles a ready-to-use leveling engine from stores,
// renderer and event sinks.
package leveling

import (
	"log/slog"
	"time"

	mem "levelbot/adapters/memory"
	"levelbot/analytics"
	"levelbot/engine"
	"levelbot/integrations/webhook"
	"levelbot/realtime"
	"levelbot/render"
)

// Option configures the leveling service builder.
type Option func(*config)

type config struct {
	profiles engine.ProfileStore
	groups   engine.GroupStore
	renderer engine.CardRenderer
	mode     engine.DispatchMode
	hub      *realtime.Hub
	sink     *webhook.Sink
	hooks    []analytics.Hook
	opts     engine.Options
}

// WithProfileStore sets the profile persistence adapter.
func WithProfileStore(s engine.ProfileStore) Option { return func(c *config) { c.profiles = s } }

// WithGroupStore sets the group feature-flag adapter.
func WithGroupStore(s engine.GroupStore) Option { return func(c *config) { c.groups = s } }

// WithRenderer sets the level-card renderer. When it is a *render.Renderer its
// files are removed as cards leave the cache.
func WithRenderer(r engine.CardRenderer) Option { return func(c *config) { c.renderer = r } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithWebhook posts all engine events through sink.
func WithWebhook(s *webhook.Sink) Option { return func(c *config) { c.sink = s } }

// WithAnalytics feeds engine events to hooks.
func WithAnalytics(hooks ...analytics.Hook) Option {
	return func(c *config) { c.hooks = append(c.hooks, hooks...) }
}

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.opts.Logger = l } }

// WithCooldowns overrides the global and group cooldown windows.
func WithCooldowns(global, group time.Duration) Option {
	return func(c *config) { c.opts.GlobalCooldown, c.opts.GroupCooldown = global, group }
}

// WithCardCache overrides the level-card cache bound and TTL.
func WithCardCache(size int, ttl time.Duration) Option {
	return func(c *config) { c.opts.CacheSize, c.opts.CacheTTL = size, ttl }
}

// WithClock injects the time source, mostly for tests.
func WithClock(now func() time.Time) Option { return func(c *config) { c.opts.Now = now } }

// New builds a configured Service. If not provided, defaults are used:
//   - profiles and groups: one shared in-memory store
//   - dispatch: async
//   - renderer: in-memory PNG cards
func New(opts ...Option) *engine.Service {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.profiles == nil {
		store := mem.New()
		cfg.profiles = store
		if cfg.groups == nil {
			cfg.groups = store
		}
	}
	if cfg.groups == nil {
		if gs, ok := cfg.profiles.(engine.GroupStore); ok {
			cfg.groups = gs
		}
	}
	if cfg.renderer == nil {
		cfg.renderer = render.New("", cfg.opts.Logger)
	}
	if r, ok := cfg.renderer.(*render.Renderer); ok && cfg.opts.OnCardEvict == nil {
		cfg.opts.OnCardEvict = r.Evict
	}
	cfg.opts.Groups = cfg.groups
	cfg.opts.Renderer = cfg.renderer

	bus := engine.NewEventBus(cfg.mode)
	svc := engine.NewService(cfg.profiles, bus, cfg.opts)
	// Bridge all events to the configured sinks
	if cfg.hub != nil {
		bus.SubscribeAll(cfg.hub.Broadcast)
	}
	if cfg.sink != nil {
		bus.SubscribeAll(cfg.sink.Handle)
	}
	if len(cfg.hooks) > 0 {
		bus.SubscribeAll(analytics.Handler(analytics.NewBridge(cfg.hooks...)))
	}
	return svc
}
