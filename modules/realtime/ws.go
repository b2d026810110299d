package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/dmitrymomot/bookcircle/modules/auth"
	"github.com/dmitrymomot/bookcircle/modules/library"
	"github.com/dmitrymomot/bookcircle/pkg/broadcast"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth already gates the endpoint; cross-origin browser
	// clients are expected.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades authenticated requests to a websocket session. Each
// session receives the global catalog stream plus the user's own
// notification stream, and gets its unread notifications replayed on
// connect so nothing is lost while offline.
func Handler(hub *Hub, svc *library.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := auth.CurrentUser(r.Context())
		if user == nil {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WarnContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		global := hub.Subscribe(ctx)
		defer global.Close()
		personal := hub.SubscribeUser(ctx, user.ID)
		defer personal.Close()

		go readPump(conn, cancel)

		// Replay before live events so the client sees notifications in
		// the order they were created.
		unread, err := svc.UnreadNotifications(ctx, user.ID)
		if err != nil {
			log.ErrorContext(ctx, "failed to load unread notifications", slog.Any("error", err))
		}
		for i := len(unread) - 1; i >= 0; i-- {
			if !writeEvent(conn, Event{Type: EventNotification, Payload: unread[i]}) {
				return
			}
		}

		writePump(ctx, conn, global, personal)
	}
}

// readPump drains inbound frames so pong handlers run and a client
// close ends the session.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump multiplexes both subscriptions onto the connection and
// keeps it alive with pings. It is the only goroutine writing to conn.
func writePump(ctx context.Context, conn *websocket.Conn, global, personal broadcast.Subscriber[Event]) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	globalCh := global.Receive(ctx)
	personalCh := personal.Receive(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return

		case msg, ok := <-globalCh:
			if !ok {
				return
			}
			if !writeEvent(conn, msg.Data) {
				return
			}

		case msg, ok := <-personalCh:
			if !ok {
				return
			}
			if !writeEvent(conn, msg.Data) {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, event Event) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		return true // skip the frame, keep the session
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload) == nil
}
