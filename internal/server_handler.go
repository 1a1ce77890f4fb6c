package internal

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// newUpgrader accepts any origin in development. In production the socket
// carries the session cookie, so only same-host pages may open it.
func newUpgrader(production bool) websocket.Upgrader {
	checkOrigin := func(*http.Request) bool { return true }
	if production {
		checkOrigin = sameOrigin
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
}

// sameOrigin allows requests without an Origin header (non-browser clients
// such as the watcher) and browser requests whose Origin host matches Host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// ServeWS upgrades to the presence channel. The user is resolved from the
// session once, before the upgrade, and kept for the life of the connection.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	var userID string
	user, err := s.sessions.CurrentUser(r)
	if err != nil {
		s.logger.Warn(r.Context(), "presence session lookup failed", "error", err)
	} else if user != nil {
		userID = user.ID
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	client := newClient(s.hub, conn, userID)
	if !s.hub.Register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}
