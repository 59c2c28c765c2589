package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"levelbot/adapters/jsonfile"
	mem "levelbot/adapters/memory"
	redisAdapter "levelbot/adapters/redis"
	sqlxAdapter "levelbot/adapters/sqlx"
	"levelbot/analytics"
	"levelbot/api/httpapi"
	"levelbot/config"
	"levelbot/core"
	"levelbot/engine"
	"levelbot/integrations/webhook"
	"levelbot/leveling"
	"levelbot/realtime"
	"levelbot/render"
)

// configPath is the optional -config file; empty means environment only.
type configPath string

// storage is what every adapter provides: profiles plus group feature flags.
type storage interface {
	engine.ProfileStore
	engine.GroupStore
}

// App aggregates the assembled server components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Hub     *realtime.Hub
	Stats   *analytics.Stats
	Service *engine.Service
	Handler http.Handler
	Server  *http.Server
}

func provideConfig(path configPath) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFromFile(string(path))
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideStats() *analytics.Stats {
	return analytics.NewStats()
}

func provideStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage, func(), error) {
	store, closer, err := setupStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if closer == nil {
			return
		}
		if err := closer.Close(); err != nil {
			logger.Error("closing storage", "adapter", cfg.Storage.Adapter, "error", err)
		}
	}
	return store, cleanup, nil
}

func provideRenderer(cfg *config.Config, logger *slog.Logger) (*render.Renderer, error) {
	if dir := cfg.Leveling.CardDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create card dir: %w", err)
		}
	}
	return render.New(cfg.Leveling.CardDir, logger), nil
}

func provideWebhook(cfg *config.Config, logger *slog.Logger) *webhook.Sink {
	wh := cfg.Webhooks
	if len(wh.Endpoints) == 0 {
		return nil
	}
	types := make([]core.EventType, 0, len(wh.EventTypes))
	for _, t := range wh.EventTypes {
		types = append(types, core.EventType(t))
	}
	return webhook.New(wh.Endpoints,
		webhook.WithClient(&http.Client{Timeout: wh.Timeout}),
		webhook.WithEventTypes(types...),
		webhook.WithSecret(wh.Secret),
		webhook.WithRetries(wh.Retries, 200*time.Millisecond),
		webhook.WithLogger(logger),
	)
}

func provideService(
	cfg *config.Config,
	logger *slog.Logger,
	store storage,
	renderer *render.Renderer,
	hub *realtime.Hub,
	stats *analytics.Stats,
	sink *webhook.Sink,
) *engine.Service {
	mode := engine.DispatchAsync
	if cfg.Leveling.Dispatch == "sync" {
		mode = engine.DispatchSync
	}
	return leveling.New(
		leveling.WithProfileStore(store),
		leveling.WithGroupStore(store),
		leveling.WithRenderer(renderer),
		leveling.WithDispatchMode(mode),
		leveling.WithRealtime(hub),
		leveling.WithWebhook(sink),
		leveling.WithAnalytics(stats),
		leveling.WithLogger(logger),
		leveling.WithCooldowns(cfg.Leveling.GlobalCooldown, cfg.Leveling.GroupCooldown),
		leveling.WithCardCache(cfg.Leveling.CardCacheSize, cfg.Leveling.CardCacheTTL),
	)
}

func provideHandler(svc *engine.Service, hub *realtime.Hub, stats *analytics.Stats, logger *slog.Logger, cfg *config.Config) http.Handler {
	return httpapi.NewMux(svc, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		Stats:            stats,
		Logger:           logger,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	var out io.Writer = os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	result := make([]slog.Attr, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the storage adapter named by configuration. The
// returned closer is nil for adapters holding no connections.
func setupStorage(ctx context.Context, cfg *config.Config) (storage, io.Closer, error) {
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), nil, nil
	case "file":
		s, err := jsonfile.New(cfg.Storage.File.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open file storage: %w", err)
		}
		return s, nil, nil
	case "redis":
		s, err := redisAdapter.New(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "sql":
		s, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, nil, err
		}
		if err := ctx.Err(); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
