package websocket

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"levelbot/core"
	"levelbot/realtime"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
	bufferSize = 256
)

// Handler returns an http.Handler that upgrades to WebSocket and streams
// events from the hub. Optional query parameters narrow the stream:
// user=<id> and types=level_up,achievement_unlocked.
func Handler(hub *realtime.Hub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	upgrader := gorillaws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := filterFrom(r)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()
		id, ch := hub.Subscribe(bufferSize, filter)
		defer hub.Unsubscribe(id)

		// drain client frames so close and pong control messages are processed
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.TextMessage, realtime.MarshalJSON(ev)); err != nil {
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(gorillaws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-closed:
				return
			case <-r.Context().Done():
				return
			}
		}
	})
}

func filterFrom(r *http.Request) realtime.Filter {
	q := r.URL.Query()
	f := realtime.Filter{User: core.UserID(strings.ToLower(strings.TrimSpace(q.Get("user"))))}
	for _, t := range strings.Split(q.Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.Types = append(f.Types, core.EventType(t))
		}
	}
	return f
}
