package hub

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades HTTP requests and hands the resulting connection
// to the hub until it dies.
type WebSocketHandler struct {
	Hub  *Hub
	Log  *slog.Logger
	Opts ConnOptions

	// CheckOrigin overrides the upgrader's origin policy. Nil allows all
	// origins; room access is already unauthenticated.
	CheckOrigin func(r *http.Request) bool
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.Log
	if log == nil {
		log = slog.Default()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := newConn(ws, h.Opts)
	connID := h.Hub.Register(c)
	c.run(h.Hub, connID, log)
}
