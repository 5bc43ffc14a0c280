package pcie

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"
)

// poolSize is the fixed worker count, held at 6 regardless of GOMAXPROCS:
// panel refreshes are I/O- and subprocess-bound, not CPU-bound, so scaling
// with core count would only add contention on the subprocess throttle
// without improving throughput.
const poolSize = 6

// Refresher materializes the current content of one panel kind. Each Kind
// is wired to exactly one Refresher by the Engine at construction time (see
// engine.go); the refresh_*.go files provide the concrete implementations.
type Refresher interface {
	Refresh(ctx context.Context, req CacheRequest) CacheUpdate
}

// pool is the Cache Worker Pool: each accepted CacheRequest runs in its own
// goroutine, and a weighted semaphore of poolSize caps how many run at once,
// so the fan-out is bounded rather than one unbounded goroutine per request.
type pool struct {
	sem       *semaphore.Weighted
	refreshers map[Kind]Refresher
	updates   chan CacheUpdate
	logger    *slog.Logger
}

func newPool(logger *slog.Logger, refreshers map[Kind]Refresher) *pool {
	return &pool{
		sem:        semaphore.NewWeighted(poolSize),
		refreshers: refreshers,
		updates:    make(chan CacheUpdate, 64),
		logger:     logger,
	}
}

// submit tries to acquire a pool slot and, if one is free, runs req in its
// own goroutine, posting exactly one CacheUpdate to p.updates when done. It
// reports whether the request was accepted. submit never blocks: it is
// called from Engine.Tick while the engine's single control-flow thread
// holds its table, and a blocking acquire there would stall Snapshot and
// every other caller behind the same lock until a worker freed up. A caller
// whose request is rejected (pool full) must leave the panel eligible for
// the next tick rather than treating rejection as an error.
func (p *pool) submit(ctx context.Context, req CacheRequest) bool {
	if !p.sem.TryAcquire(1) {
		return false
	}
	go func() {
		defer p.sem.Release(1)
		p.updates <- p.run(ctx, req)
	}()
	return true
}

// run dispatches req to its kind's Refresher, recovering from a panicking
// refresh routine so one bad refresh cannot take down the pool. A recovered
// panic is reported as a content update carrying the error text — errors
// become panel content rather than engine-level failures — plus a bump of
// the process health counter.
func (p *pool) run(ctx context.Context, req CacheRequest) (update CacheUpdate) {
	r, ok := p.refreshers[req.Kind]
	if !ok {
		return CacheUpdate{Tag: UpdateContent, PanelID: req.PanelID,
			NewContent: fmt.Sprintf("(no refresher registered for kind %s)", req.Kind)}
	}

	defer func() {
		if r := recover(); r != nil {
			healthCounters.workerPanics.Add(1)
			p.logger.Error("panel refresh panicked", "panel_id", req.PanelID, "kind", req.Kind.String(), "recover", r)
			update = CacheUpdate{
				Tag:        UpdateContent,
				PanelID:    req.PanelID,
				NewContent: fmt.Sprintf("(refresh failed: %v)", r),
			}
		}
	}()

	return r.Refresh(ctx, req)
}

// drain returns every update currently buffered, without blocking. Called
// by Engine.Tick.
func (p *pool) drain() []CacheUpdate {
	var out []CacheUpdate
	for {
		select {
		case u := <-p.updates:
			out = append(out, u)
		default:
			return out
		}
	}
}
