// Package introspect exposes a hosted workspace's panel state and PCIE
// control surface over HTTP and WebSocket, for a debugging UI or a
// co-located process that wants to observe cache behavior live. It is
// explicitly not the renderer that assembles an LLM turn's context — that
// consumer calls into internal/pcie and internal/workspace directly.
package introspect

import "github.com/rybkr/contextpilot/internal/pcie"

// Log prefixes for visual scanning of logs.
const (
	logError   = "\x1b[31m[!]\x1b[0m"
	logWarning = "\x1b[33m[-]\x1b[0m"
	logSuccess = "\x1b[32m[+]\x1b[0m"
	logInfo    = "[>]"
)

// PanelsMessage is sent to WebSocket clients on every settle and pushed as
// the GET /panels response body.
type PanelsMessage struct {
	WorkspaceID string              `json:"workspaceId"`
	Panels      []pcie.PanelSnapshot `json:"panels"`
}

// HealthStatus is the GET /health response body.
type HealthStatus struct {
	Status          string `json:"status"`
	WorkerPanics    int64  `json:"workerPanics"`
	RefreshErrors   int64  `json:"refreshErrors"`
	BarrierTimeouts int64  `json:"barrierTimeouts"`
	WatcherDrops    int64  `json:"watcherDrops"`
}
