package introspect

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rybkr/contextpilot/internal/workspace"
)

type contextKey int

const workspaceKey contextKey = iota

// withWorkspaceCtx returns a new context carrying the given workspace.
func withWorkspaceCtx(ctx context.Context, w *workspace.ManagedWorkspace) context.Context {
	return context.WithValue(ctx, workspaceKey, w)
}

// workspaceFromCtx extracts the ManagedWorkspace from the request context.
// Returns nil if none is present.
func workspaceFromCtx(ctx context.Context) *workspace.ManagedWorkspace {
	w, _ := ctx.Value(workspaceKey).(*workspace.ManagedWorkspace)
	return w
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// requestLogger logs method, path, status, and duration for each HTTP
// request.
func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.status,
			"duration", time.Since(start).Round(time.Microsecond),
			"ip", getClientIP(r),
		)
	})
}

// writeDeadline wraps a handler to set a per-response write deadline via
// ResponseController, without affecting the long-lived WebSocket handler
// (which is never wrapped with this middleware).
func writeDeadline(d time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)
		_ = rc.SetWriteDeadline(time.Now().Add(d))
		next(w, r)
	}
}

// corsMiddleware adds permissive CORS headers, matching a debugging surface
// that may be polled from a browser served on a different origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
