package httpapi

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	wsadapter "levelbot/adapters/websocket"
	"levelbot/analytics"
	"levelbot/core"
	"levelbot/engine"
	"levelbot/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// Stats, if set, is served on {prefix}/stats.
	Stats  *analytics.Stats
	Logger *slog.Logger
	Now    func() time.Time
}

const defaultLeaderboardLimit = 10

// NewMux builds an http.Handler exposing the leveling REST API and WebSocket stream.
// Routes:
//   - POST {prefix}/users/{id}/activity?type=message&group=g1
//   - GET  {prefix}/users/{id}
//   - GET  {prefix}/users/{id}/progress
//   - GET  {prefix}/users/{id}/rank
//   - GET  {prefix}/users/{id}/card
//   - PUT  {prefix}/users/{id}/xp?value=500
//   - POST {prefix}/admin/fix-levels
//   - GET  {prefix}/leaderboard?limit=10
//   - PUT  {prefix}/groups/{id}/features/{feature}?enabled=false
//   - GET  {prefix}/stats
//   - GET  {prefix}/healthz
//   - WS   {prefix}/ws
func NewMux(svc *engine.Service, hub *realtime.Hub, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	mux := http.NewServeMux()
	route := func(method, path string, h http.HandlerFunc) {
		mux.HandleFunc(method+" "+withPrefix(opts.PathPrefix, path), h)
	}

	// health
	route(http.MethodGet, "/healthz", func(w http.ResponseWriter, r *http.Request) {
		healthCheck(w, r, svc)
	})

	// WebSocket events
	if hub != nil {
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), wsadapter.Handler(hub, opts.Logger))
	}

	// Users API
	route(http.MethodPost, "/users/{id}/activity", func(w http.ResponseWriter, r *http.Request) {
		user, ok := userParam(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		typ := q.Get("type")
		if typ == "" {
			typ = string(core.ActivityMessage)
		}
		res := svc.Award(r.Context(), user, core.Activity(typ), core.GroupID(q.Get("group")))
		if res == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
	route(http.MethodGet, "/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		if user, ok := userParam(w, r); ok {
			writeJSON(w, http.StatusOK, svc.GetProfile(r.Context(), user))
		}
	})
	route(http.MethodGet, "/users/{id}/progress", func(w http.ResponseWriter, r *http.Request) {
		if user, ok := userParam(w, r); ok {
			writeJSON(w, http.StatusOK, svc.GetProgress(r.Context(), user))
		}
	})
	route(http.MethodGet, "/users/{id}/rank", func(w http.ResponseWriter, r *http.Request) {
		if user, ok := userParam(w, r); ok {
			rank, ranked := svc.GetRank(r.Context(), user)
			writeJSON(w, http.StatusOK, map[string]any{"rank": rank, "ranked": ranked})
		}
	})
	route(http.MethodGet, "/users/{id}/card", func(w http.ResponseWriter, r *http.Request) {
		user, ok := userParam(w, r)
		if !ok {
			return
		}
		img := svc.GetOrRenderLevelCard(r.Context(), user, svc.CardData(r.Context(), user))
		if img == nil {
			writeError(w, http.StatusServiceUnavailable, "card_unavailable", "level card could not be rendered", nil)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(img)))
		_, _ = w.Write(img)
	})
	route(http.MethodPut, "/users/{id}/xp", func(w http.ResponseWriter, r *http.Request) {
		user, ok := userParam(w, r)
		if !ok {
			return
		}
		xp, err := strconv.ParseInt(r.URL.Query().Get("value"), 10, 64)
		if err != nil || xp < 0 {
			writeError(w, http.StatusBadRequest, "invalid_xp", "value must be a non-negative integer", nil)
			return
		}
		p, err := svc.SetXP(r.Context(), user, xp)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	// Admin
	route(http.MethodPost, "/admin/fix-levels", func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.FixLevels(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error(), map[string]any{"fixed": n})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fixed": n})
	})
	route(http.MethodPut, "/groups/{id}/features/{feature}", func(w http.ResponseWriter, r *http.Request) {
		group := core.GroupID(strings.TrimSpace(r.PathValue("id")))
		feature := strings.TrimSpace(r.PathValue("feature"))
		enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_enabled", "enabled must be true or false", nil)
			return
		}
		if err := svc.SetGroupFeature(r.Context(), group, feature, enabled); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"group": group, "feature": feature, "enabled": enabled})
	})

	route(http.MethodGet, "/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultLeaderboardLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer", nil)
				return
			}
			limit = n
		}
		writeJSON(w, http.StatusOK, svc.GetLeaderboard(r.Context(), limit))
	})

	if opts.Stats != nil {
		route(http.MethodGet, "/stats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, opts.Stats.Metrics.Snapshot(opts.Now()))
		})
	}

	var handler http.Handler = mux
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, opts.RateLimitRPM, opts.RateLimitBurst)
	}
	return handler
}

// Helpers

func userParam(w http.ResponseWriter, r *http.Request) (core.UserID, bool) {
	user, err := core.NormalizeUserID(core.UserID(r.PathValue("id")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
		return "", false
	}
	return user, true
}

// healthCheck verifies the profile store answers
func healthCheck(w http.ResponseWriter, r *http.Request, svc *engine.Service) {
	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"storage": "ok",
		},
	}
	code := http.StatusOK
	if err := svc.Ping(r.Context()); err != nil {
		code = http.StatusServiceUnavailable
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
	}
	writeJSON(w, code, status)
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: msg, Details: details})
}

// withCORS wraps a handler with a minimal CORS policy.
func withCORS(next http.Handler, origin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-API-Key")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAPIKeyAuth enforces a shared API key list.
func withAPIKeyAuth(next http.Handler, apiKeys []string) http.Handler {
	allowed := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		k = strings.TrimSpace(k)
		if k != "" {
			allowed[k] = struct{}{}
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractAPIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key", nil)
			return
		}
		if _, ok := allowed[key]; !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit applies a token-bucket limiter per client key.
func withRateLimit(next http.Handler, rpm int, burst int) http.Handler {
	limiter := newRateLimiter(rpm, burst, time.Now)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !limiter.allow(key) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}

// clientKey uses API key if present, otherwise remote IP.
func clientKey(r *http.Request) string {
	if key := extractAPIKey(r); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
