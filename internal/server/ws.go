package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func registerWSRoute(mux *http.ServeMux, hub *Hub, ctrl Controller) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("server: ws upgrade failed", "error", err)
			return
		}
		defer func() { _ = conn.Close() }()

		// Subscribe before the snapshot so no change falls between them.
		ch := hub.Subscribe()
		defer hub.Unsubscribe(ch)

		writeEvent(conn, ConnectionEvent{
			Event:     hub.event("connection"),
			Connected: true,
		})
		if state, err := ctrl.Snapshot(); err == nil {
			writeEvent(conn, StateEvent{Event: hub.event("state"), State: state})
		}

		// The client never sends anything we act on; reading only notices
		// when it goes away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case msg := <-ch:
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-gone:
				return
			}
		}
	})
}

func writeEvent(conn *websocket.Conn, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, payload)
	_ = conn.SetWriteDeadline(time.Time{})
}
