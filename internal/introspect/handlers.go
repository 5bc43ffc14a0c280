package introspect

import (
	"encoding/json"
	"net/http"

	"github.com/rybkr/contextpilot/internal/pcie"
)

// handlePanels returns the current panel table for the workspace resolved
// onto the request context.
func (s *Server) handlePanels(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFromCtx(r.Context())
	if ws == nil {
		http.Error(w, "workspace not found", http.StatusNotFound)
		return
	}

	msg := PanelsMessage{
		WorkspaceID: ws.ID,
		Panels:      ws.Engine.Snapshot(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(msg)
}

// handleTick forces a single Engine.Tick, useful for driving the cache
// forward from tooling that isn't waiting on the WebSocket broadcast loop.
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFromCtx(r.Context())
	if ws == nil {
		http.Error(w, "workspace not found", http.StatusNotFound)
		return
	}

	ws.Engine.Tick(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(PanelsMessage{
		WorkspaceID: ws.ID,
		Panels:      ws.Engine.Snapshot(),
	})
}

// handleHealth reports process-wide worker/refresh/barrier/watcher counters,
// independent of any single workspace.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := pcie.Health()

	status := HealthStatus{
		Status:          "ok",
		WorkerPanics:    snap.WorkerPanics,
		RefreshErrors:   snap.RefreshErrors,
		BarrierTimeouts: snap.BarrierTimeouts,
		WatcherDrops:    snap.WatcherDrops,
	}
	if status.WorkerPanics > 0 {
		status.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}
