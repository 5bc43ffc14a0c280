package introspect

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rybkr/contextpilot/internal/workspace"
)

const apiWriteDeadline = 10 * time.Second

// Server exposes a workspace.Host's panels and health over HTTP and
// WebSocket, one mode only since every workspace here is already
// multi-tenant by construction (one *pcie.Engine per workspace, hosted by
// Host).
type Server struct {
	addr       string
	host       *workspace.Host
	rate       *rateLimiter
	httpServer *http.Server
	logger     *slog.Logger

	sessionsMu sync.Mutex
	sessions   map[string]*panelSession

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer constructs a Server backed by host, listening on addr.
func NewServer(host *workspace.Host, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     addr,
		host:     host,
		rate:     newRateLimiter(100, 200, time.Second),
		logger:   logger,
		sessions: make(map[string]*panelSession),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// sessionFor returns the panelSession broadcasting for w, creating it
// lazily on first access (a workspace may be opened without ever being
// watched over the introspection surface).
func (s *Server) sessionFor(w *workspace.ManagedWorkspace) *panelSession {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	if sess, ok := s.sessions[w.ID]; ok {
		return sess
	}
	sess := newPanelSession(s.ctx, w.ID, w, s.logger)
	s.sessions[w.ID] = sess
	return sess
}

// withWorkspace resolves /workspaces/{id}/... into a *workspace.ManagedWorkspace
// on the request context, 404ing when the id is unknown to the Host.
func (s *Server) withWorkspace(prefix string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, prefix)
		id := rest
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			id = rest[:idx]
		}
		if id == "" {
			http.Error(w, "missing workspace id", http.StatusBadRequest)
			return
		}
		ws, ok := s.host.Get(id)
		if !ok {
			http.Error(w, "workspace not found", http.StatusNotFound)
			return
		}
		ws.Touch()
		next(w, r.WithContext(withWorkspaceCtx(r.Context(), ws)))
	}
}

// Start builds the mux and blocks serving until Shutdown is called.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/workspaces/", s.rate.middleware(
		s.withWorkspace("/workspaces/", s.dispatchWorkspaceRoute)))
	mux.HandleFunc("/health", writeDeadline(apiWriteDeadline, s.rate.middleware(s.handleHealth)))

	handler := corsMiddleware(requestLogger(s.logger, mux))

	// WriteTimeout stays 0 — the WebSocket route is long-lived; every other
	// route enforces its own deadline via writeDeadline.
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("introspection server starting", "addr", "http://"+s.addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// dispatchWorkspaceRoute routes /workspaces/{id}/{panels,tick,ws} once the
// workspace has already been resolved onto the request context.
func (s *Server) dispatchWorkspaceRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/workspaces/")
	idx := strings.IndexByte(rest, '/')
	remainder := ""
	if idx >= 0 {
		remainder = rest[idx:]
	}

	switch {
	case remainder == "/panels" && r.Method == http.MethodGet:
		writeDeadline(apiWriteDeadline, s.handlePanels)(w, r)
	case remainder == "/tick" && r.Method == http.MethodPost:
		writeDeadline(apiWriteDeadline, s.handleTick)(w, r)
	case remainder == "/ws":
		s.handleWebSocket(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// Shutdown gracefully stops the HTTP listener, every live WebSocket session,
// and the rate limiter's cleanup goroutine.
func (s *Server) Shutdown() {
	start := time.Now()
	s.logger.Info("introspection server shutting down")

	if s.httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "err", err)
		}
	}

	s.cancel()
	s.rate.Close()

	s.sessionsMu.Lock()
	for id, sess := range s.sessions {
		sess.close()
		delete(s.sessions, id)
	}
	s.sessionsMu.Unlock()

	s.logger.Info("introspection server shutdown complete", "elapsed", time.Since(start).Round(time.Millisecond))
}
