package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades an HTTP connection and streams hub events to it
// as JSON text frames until the client disconnects or the hub closes the
// subscription.
func ServeWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	go drainClientReads(conn)

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			slog.Error("marshal notification event", "error", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// drainClientReads discards inbound frames so the connection's read
// deadline logic keeps functioning and a client-initiated close is noticed.
func drainClientReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
