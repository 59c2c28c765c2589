// Command demo-server replays a simulated group chat through an in-memory
// leveling engine, then optionally serves the HTTP API over the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"sync"
	"time"

	mem "levelbot/adapters/memory"
	"levelbot/analytics"
	"levelbot/api/httpapi"
	"levelbot/core"
	"levelbot/engine"
	"levelbot/leveling"
	"levelbot/realtime"
)

// simClock advances one tick per simulated round so cooldowns elapse.
type simClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *simClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var chatMix = []core.Activity{
	core.ActivityMessage, core.ActivityMessage, core.ActivityMessage,
	core.ActivityMedia, core.ActivitySticker, core.ActivityReaction,
	core.ActivityVoice, core.ActivityCommand, core.ActivityGame, core.ActivityQuiz,
}

func main() {
	users := flag.Int("users", 5, "number of simulated chat members")
	rounds := flag.Int("rounds", 200, "simulated chat rounds")
	addr := flag.String("addr", "", "serve the HTTP API on this address after the replay")
	flag.Parse()

	// Use readable text logging for development/demo
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(textHandler)
	slog.SetDefault(logger)

	ctx := context.Background()
	clock := &simClock{now: time.Now().UTC()}
	store := mem.New()
	stats := analytics.NewStats()
	hub := realtime.NewHub()

	svc := leveling.New(
		leveling.WithProfileStore(store),
		leveling.WithDispatchMode(engine.DispatchSync),
		leveling.WithRealtime(hub),
		leveling.WithAnalytics(stats),
		leveling.WithLogger(logger),
		leveling.WithClock(clock.Now),
	)
	defer svc.Close()

	// Announce level-ups the way the bot replies in chat
	svc.Subscribe(core.EventLevelUp, func(_ context.Context, e core.Event) {
		slog.Info("level up", "user", e.UserID, "level", e.Level, "coins", e.Coins)
	})

	group := core.GroupID("demo-group")
	for round := 0; round < *rounds; round++ {
		for i := 0; i < *users; i++ {
			if rand.IntN(3) == 0 {
				continue
			}
			user := core.UserID(fmt.Sprintf("member-%02d", i+1))
			svc.Award(ctx, user, chatMix[rand.IntN(len(chatMix))], group)
		}
		if round%24 == 0 {
			for i := 0; i < *users; i++ {
				svc.Award(ctx, core.UserID(fmt.Sprintf("member-%02d", i+1)), core.ActivityDaily, "")
			}
		}
		clock.Advance(time.Hour)
	}

	for _, e := range svc.GetLeaderboard(ctx, *users) {
		slog.Info("leaderboard", "rank", e.Rank, "user", e.ID, "level", e.Level, "xp", e.XP)
	}

	if *addr == "" {
		return
	}
	handler := httpapi.NewMux(svc, hub, httpapi.Options{
		AllowCORSOrigin: "*",
		Stats:           stats,
		Logger:          logger,
		Now:             clock.Now,
	})
	slog.Info("starting demo server", "address", *addr)
	if err := http.ListenAndServe(*addr, handler); err != nil {
		slog.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}
