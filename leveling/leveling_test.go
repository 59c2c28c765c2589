package leveling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	mem "levelbot/adapters/memory"
	"levelbot/analytics"
	"levelbot/core"
	"levelbot/engine"
	"levelbot/integrations/webhook"
	"levelbot/realtime"
)

func TestNewDefaultsAndOptions(t *testing.T) {
	hub := realtime.NewHub()
	var hooks int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hooks, 1)
	}))
	defer srv.Close()
	stats := analytics.NewStats()
	store := mem.New()

	svc := New(
		WithRealtime(hub),
		WithProfileStore(store),
		WithWebhook(webhook.New([]string{srv.URL}, webhook.WithEventTypes(core.EventXPAwarded))),
		WithAnalytics(stats),
		WithDispatchMode(engine.DispatchSync),
	)
	defer svc.Close()
	_, ch := hub.Subscribe(8, realtime.Filter{})

	// basic operation
	svc.Award(context.Background(), "alice", core.ActivityQuiz, "")
	p, found, err := store.GetProfile(context.Background(), "alice")
	if err != nil || !found || p.XP < 20 {
		t.Fatalf("award not stored: %+v found=%v err=%v", p, found, err)
	}

	// realtime bridge should receive event
	ev := <-ch
	if ev.UserID != "alice" || ev.Type != core.EventXPAwarded {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if atomic.LoadInt32(&hooks) != 1 {
		t.Fatalf("expected 1 webhook delivery, got %d", hooks)
	}
	if got := stats.Metrics.XPByActivity(core.ActivityQuiz); got != p.XP {
		t.Fatalf("analytics saw %d xp, store has %d", got, p.XP)
	}
}

func TestInMemoryFallback(t *testing.T) {
	svc := New(WithDispatchMode(engine.DispatchSync), WithCooldowns(time.Hour, time.Hour))
	defer svc.Close()
	ctx := context.Background()

	svc.Award(ctx, "bob", core.ActivityMessage, "g1")
	svc.Award(ctx, "bob", core.ActivityMessage, "g1")
	prog := svc.GetProgress(ctx, "bob")
	if prog.CurrentXP < 5 || prog.CurrentXP > 15 {
		t.Fatalf("expected one message award, got %d xp", prog.CurrentXP)
	}

	if card := svc.GetOrRenderLevelCard(ctx, "bob", svc.CardData(ctx, "bob")); len(card) == 0 {
		t.Fatalf("default renderer produced no card")
	}
}
