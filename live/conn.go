package live

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// ServeRoom bridges one websocket connection to a hub room. It joins the
// room, streams events to the socket as JSON, and leaves when either side
// goes away. onBeat, when non-nil, fires on every client pong so callers
// can refresh presence. Blocks until the connection closes.
func ServeRoom(conn *websocket.Conn, hub *Hub, room string, log *slog.Logger, onBeat func()) {
	if log == nil {
		log = slog.Default()
	}
	sub := hub.Join(room)
	defer hub.Leave(sub)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if onBeat != nil {
			onBeat()
		}
		return nil
	})

	// Reader drains the socket so close frames and pongs are processed.
	// Incoming application traffic goes through the HTTP API, not the
	// socket, so payloads are discarded.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				log.Debug("websocket write failed", "room", room, "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
