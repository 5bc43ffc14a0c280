package introspect

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The introspection feed is a debugging surface polled from tooling
	// running on arbitrary local ports, not a browser page served by this
	// binary, so origin checking is deliberately permissive.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and registers it on the
// workspace's panelSession, then blocks running the read/write pumps until
// the connection closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFromCtx(r.Context())
	if ws == nil {
		http.Error(w, "workspace not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	session := s.sessionFor(ws)
	c := session.registerClient(conn)

	go session.clientWritePump(c)
	session.clientReadPump(c)
}
