package broadcast

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// SetAllowedOrigin limits websocket upgrades to browsers on origin. Call it
// before serving.
func (h *Hub) SetAllowedOrigin(origin string) {
	h.allowedOrigin = strings.TrimRight(strings.TrimSpace(origin), "/")
}

// checkOrigin accepts requests without an Origin header, which only browsers
// send.
func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return strings.EqualFold(strings.TrimRight(origin, "/"), h.allowedOrigin)
}

// ServeWS upgrades the request and streams hub payloads to the client until
// either side goes away. Observers are read-only; inbound frames are
// discarded.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initial ...[]byte) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	obs := h.Register(initial...)
	defer conn.Close()
	defer h.Unregister(obs)

	go h.readPump(conn, obs)
	h.writePump(conn, obs)
}

func (h *Hub) readPump(conn *websocket.Conn, obs *Observer) {
	defer h.Unregister(obs)
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, obs *Observer) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-obs.Messages():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug("websocket write failed", "observer_id", obs.ID, "err", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
