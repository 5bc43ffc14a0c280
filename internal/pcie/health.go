package pcie

import "sync/atomic"

// counters tracks process-wide health signals surfaced by the introspection
// surface's /health endpoint. A package-level var is acceptable here since a
// process hosts one set of these regardless of how many workspaces (Engines)
// it runs — the numbers are diagnostic, not correctness-bearing.
type counters struct {
	workerPanics    atomic.Int64
	refreshErrors   atomic.Int64
	barrierTimeouts atomic.Int64
	watcherDrops    atomic.Int64
}

var healthCounters counters

// HealthSnapshot is the read-only view of process health exposed over the
// introspection HTTP surface.
type HealthSnapshot struct {
	WorkerPanics    int64
	RefreshErrors   int64
	BarrierTimeouts int64
	WatcherDrops    int64
}

// Health returns a point-in-time snapshot of the package's health counters.
func Health() HealthSnapshot {
	return HealthSnapshot{
		WorkerPanics:    healthCounters.workerPanics.Load(),
		RefreshErrors:   healthCounters.refreshErrors.Load(),
		BarrierTimeouts: healthCounters.barrierTimeouts.Load(),
		WatcherDrops:    healthCounters.watcherDrops.Load(),
	}
}
