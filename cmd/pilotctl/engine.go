package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rybkr/contextpilot/internal/pcie"
)

const settleTimeout = 10 * time.Second

// openEngine opens a throwaway Engine over the current repository (honoring
// GIT_DIR like the rest of this toolchain), for the lifetime of one
// subcommand invocation.
func openEngine() (*pcie.Engine, error) {
	ctx := context.Background()
	return pcie.NewEngine(ctx, repoRoot(), pcie.EngineOptions{})
}

// settle creates one panel of kind/cfg, ticks the engine until it has
// content (or settleTimeout elapses), and returns its final snapshot.
func settle(e *pcie.Engine, kind pcie.Kind, cfg pcie.KindConfig) (pcie.PanelSnapshot, error) {
	id := e.CreatePanel(kind, cfg)
	ctx := context.Background()

	deadline := time.Now().Add(settleTimeout)
	for time.Now().Before(deadline) {
		e.Tick(ctx)
		for _, p := range e.Snapshot() {
			if p.ID == id && p.HasContent && !p.InFlight && !p.Deprecated {
				return p, nil
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	return pcie.PanelSnapshot{}, fmt.Errorf("panel did not settle within %s", settleTimeout)
}

func fatalf(format string, args ...any) int {
	fmt.Fprintf(os.Stderr, "pilotctl: "+format+"\n", args...)
	return 1
}
