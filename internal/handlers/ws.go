package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/pulse/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth makes the connection safe regardless of origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connectToken extracts the signed connect token from the request:
// Authorization bearer header first, then the token query parameter for
// browser websocket clients that cannot set headers.
func connectToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// ServeWS upgrades the request and registers the connection with the hub.
// Throttling and token verification happen inside Connect; a rejection
// after the upgrade is reported over the socket before it closes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := connectToken(r)
	if token == "" {
		h.Error(w, http.StatusUnauthorized, "missing connect token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	if _, err := h.hub.Connect(conn, token, r.RemoteAddr); err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, realtime.ErrorFrame(err))
		_ = conn.Close()
	}
}
