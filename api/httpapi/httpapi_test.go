package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "levelbot/adapters/memory"
	"levelbot/analytics"
	"levelbot/core"
	"levelbot/engine"
	"levelbot/leaderboard"
	"levelbot/render"
)

type maxRoller struct{}

func (maxRoller) IntN(n int) int { return n - 1 }

func newTestService(t *testing.T) (*engine.Service, *mem.Store, *analytics.Stats) {
	t.Helper()
	store := mem.New()
	stats := analytics.NewStats()
	bus := engine.NewEventBus(engine.DispatchSync)
	bus.SubscribeAll(analytics.Handler(stats))
	svc := engine.NewService(store, bus, engine.Options{
		Groups:   store,
		Renderer: render.New("", nil),
		Roller:   maxRoller{},
	})
	t.Cleanup(svc.Close)
	return svc, store, stats
}

func serve(h http.Handler, method, target string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestActivityLevelUp(t *testing.T) {
	svc, store, _ := newTestService(t)
	p := core.NewProfile("alice")
	p.XP = 90
	store.Seed(p)
	handler := NewMux(svc, nil, Options{PathPrefix: "/api"})

	rec := serve(handler, http.MethodPost, "/api/users/alice/activity?type=message")
	require.Equal(t, http.StatusOK, rec.Code)
	var lu core.LevelUp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lu))
	assert.Equal(t, int64(2), lu.NewLevel)
	assert.Equal(t, int64(105), lu.TotalXP)

	// inside the cooldown nothing happens
	rec = serve(handler, http.MethodPost, "/api/users/alice/activity?type=message")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestActivityInvalidUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	handler := NewMux(svc, nil, Options{PathPrefix: "/api"})
	rec := serve(handler, http.MethodPost, "/api/users/%20/activity")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressAndProfile(t *testing.T) {
	svc, _, _ := newTestService(t)
	handler := NewMux(svc, nil, Options{})

	serve(handler, http.MethodPost, "/users/bob/activity?type=quiz")

	rec := serve(handler, http.MethodGet, "/users/bob/progress")
	require.Equal(t, http.StatusOK, rec.Code)
	var prog core.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prog))
	assert.Equal(t, int64(50), prog.CurrentXP)
	assert.Equal(t, 50, prog.ProgressPercent)

	rec = serve(handler, http.MethodGet, "/users/bob")
	require.Equal(t, http.StatusOK, rec.Code)
	var p core.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, core.UserID("bob"), p.ID)
	assert.Equal(t, int64(50), p.XP)
}

func TestGetUnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	handler := NewMux(svc, nil, Options{PathPrefix: "/api"})

	rec := serve(handler, http.MethodGet, "/api/users/unknown")
	require.Equal(t, http.StatusOK, rec.Code)
	var p core.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, int64(1), p.Level)
}

func TestLeaderboardAndRank(t *testing.T) {
	svc, store, _ := newTestService(t)
	for _, u := range []struct {
		id core.UserID
		xp int64
	}{{"a", 10}, {"b", 700}, {"c", 300}} {
		p := core.NewProfile(u.id)
		p.XP = u.xp
		store.Seed(p)
	}
	handler := NewMux(svc, nil, Options{})

	rec := serve(handler, http.MethodGet, "/leaderboard?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []leaderboard.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, core.UserID("b"), entries[0].ID)

	rec = serve(handler, http.MethodGet, "/leaderboard?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(handler, http.MethodGet, "/users/c/rank")
	var rank map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rank))
	assert.Equal(t, float64(2), rank["rank"])
	assert.Equal(t, true, rank["ranked"])
}

func TestLevelCard(t *testing.T) {
	svc, _, _ := newTestService(t)
	handler := NewMux(svc, nil, Options{})

	rec := serve(handler, http.MethodGet, "/users/ana/card")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	_, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
}

func TestAdminSetXPAndFixLevels(t *testing.T) {
	svc, store, _ := newTestService(t)
	bad := core.NewProfile("carol")
	bad.XP = 300
	bad.Level = 9
	store.Seed(bad)
	handler := NewMux(svc, nil, Options{})

	rec := serve(handler, http.MethodPost, "/admin/fix-levels")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"fixed":1}`, rec.Body.String())

	rec = serve(handler, http.MethodPut, "/users/carol/xp?value=1000")
	require.Equal(t, http.StatusOK, rec.Code)
	p, _, _ := store.GetProfile(context.Background(), "carol")
	assert.Equal(t, int64(5), p.Level)

	rec = serve(handler, http.MethodPut, "/users/carol/xp?value=-4")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGroupFeatureToggle(t *testing.T) {
	svc, store, _ := newTestService(t)
	handler := NewMux(svc, nil, Options{})

	rec := serve(handler, http.MethodPut, "/groups/g1/features/leveling?enabled=false")
	require.Equal(t, http.StatusOK, rec.Code)
	enabled, _ := store.IsFeatureEnabled(context.Background(), "g1", core.FeatureLeveling)
	assert.False(t, enabled)

	rec = serve(handler, http.MethodPost, "/users/dan/activity?type=quiz&group=g1")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, found, _ := store.GetProfile(context.Background(), "dan")
	assert.False(t, found)

	rec = serve(handler, http.MethodPut, "/groups/g1/features/leveling?enabled=maybe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	svc, _, stats := newTestService(t)
	now := time.Now().UTC()
	handler := NewMux(svc, nil, Options{Stats: stats, Now: func() time.Time { return now }})

	serve(handler, http.MethodPost, "/users/erin/activity?type=game")
	rec := serve(handler, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap analytics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(40), snap.XPToday)

	// without stats the route does not exist
	rec = serve(NewMux(svc, nil, Options{}), http.MethodGet, "/stats")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	svc, _, _ := newTestService(t)
	rec := serve(NewMux(svc, nil, Options{}), http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestAPIKeyAuth(t *testing.T) {
	svc, _, _ := newTestService(t)
	handler := NewMux(svc, nil, Options{
		PathPrefix:      "/api",
		APIKeys:         []string{"secret"},
		AllowCORSOrigin: "*",
	})

	rec := serve(handler, http.MethodGet, "/api/users/alice")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(handler, http.MethodGet, "/api/users/alice", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	svc, _, _ := newTestService(t)
	handler := NewMux(svc, nil, Options{
		PathPrefix:       "/api",
		APIKeys:          []string{"k"},
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   1,
	})

	rec := serve(handler, http.MethodGet, "/api/users/alice", "X-API-Key", "k")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(handler, http.MethodGet, "/api/users/alice", "X-API-Key", "k")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
