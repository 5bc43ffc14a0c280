package main

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"

	"github.com/rybkr/contextpilot/internal/pcie"
)

// runHealthPanel exercises a throwaway engine with a GitStatus refresh (so
// the pool/refresher/health-counter path actually runs at least once) and
// renders the resulting process-wide health snapshot as a table.
func runHealthPanel(args []string) int {
	e, err := openEngine()
	if err != nil {
		return fatalf("opening engine: %v", err)
	}
	defer e.Close()

	cfg := &pcie.GitStatusConfig{RepoRoot: e.RepoRoot()}
	if _, err := settle(e, pcie.KindGitStatus, pcie.KindConfig{GitStatus: cfg}); err != nil {
		return fatalf("%v", err)
	}

	snap := pcie.Health()
	data := pterm.TableData{
		{"counter", "value"},
		{"worker panics", strconv.FormatInt(snap.WorkerPanics, 10)},
		{"refresh errors", strconv.FormatInt(snap.RefreshErrors, 10)},
		{"barrier timeouts", strconv.FormatInt(snap.BarrierTimeouts, 10)},
		{"watcher drops", strconv.FormatInt(snap.WatcherDrops, 10)},
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		fmt.Print(renderHealthFallback(snap))
	}
	return 0
}

// renderHealthFallback is used when pterm's table renderer errors (e.g. a
// non-terminal writer it can't size), so health output degrades to plain text
// rather than being silently dropped.
func renderHealthFallback(snap pcie.HealthSnapshot) string {
	return fmt.Sprintf(
		"worker panics: %d\nrefresh errors: %d\nbarrier timeouts: %d\nwatcher drops: %d\n",
		snap.WorkerPanics, snap.RefreshErrors, snap.BarrierTimeouts, snap.WatcherDrops,
	)
}
