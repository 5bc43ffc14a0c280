package introspect

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rybkr/contextpilot/internal/workspace"
)

const (
	panelPollInterval = 250 * time.Millisecond
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
)

// panelSession is the live set of WebSocket clients watching one workspace,
// plus the polling loop that notices a settled panel table and broadcasts
// it.
type panelSession struct {
	workspaceID string
	workspace   *workspace.ManagedWorkspace
	logger      *slog.Logger

	mu       sync.Mutex
	clients  map[*client]bool
	lastHash string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newPanelSession(parent context.Context, id string, w *workspace.ManagedWorkspace, logger *slog.Logger) *panelSession {
	ctx, cancel := context.WithCancel(parent)
	s := &panelSession{
		workspaceID: id,
		workspace:   w,
		logger:      logger,
		clients:     make(map[*client]bool),
		ctx:         ctx,
		cancel:      cancel,
	}
	s.wg.Add(1)
	go s.pollLoop()
	return s
}

func (s *panelSession) close() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(s.clients, c)
	}
}

// pollLoop periodically ticks the engine and broadcasts the panel table
// whenever its content actually changed (poll, then diff against the last
// broadcast) rather than pushing on every tick.
func (s *panelSession) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(panelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.workspace.Engine.Tick(s.ctx)
			s.broadcastIfChanged()
		}
	}
}

func (s *panelSession) broadcastIfChanged() {
	snapshot := s.workspace.Engine.Snapshot()
	payload, err := json.Marshal(PanelsMessage{WorkspaceID: s.workspaceID, Panels: snapshot})
	if err != nil {
		s.logger.Error("marshal panels message", "err", err, "workspace_id", s.workspaceID)
		return
	}

	digest := string(payload)
	s.mu.Lock()
	unchanged := digest == s.lastHash
	s.lastHash = digest
	s.mu.Unlock()
	if unchanged {
		return
	}

	s.sendToAllClients(payload)
}

func (s *panelSession) sendToAllClients(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
			s.logger.Warn("client send buffer full, dropping client", "workspace_id", s.workspaceID)
			close(c.send)
			_ = c.conn.Close()
			delete(s.clients, c)
		}
	}
}

func (s *panelSession) registerClient(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, 16)}
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
	return c
}

func (s *panelSession) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// clientWritePump drains c.send to the socket and pings on an interval,
// returning when the session is closed or the connection breaks.
func (s *panelSession) clientWritePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// clientReadPump discards inbound traffic (this is a read-only feed) but
// keeps the pong handler wired so the connection is detected as dead and
// removed promptly, instead of leaking until the next write failure.
func (s *panelSession) clientReadPump(c *client) {
	defer s.removeClient(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
