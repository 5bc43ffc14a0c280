package main

import (
	"fmt"

	"github.com/rybkr/contextpilot/internal/pcie"
	"github.com/rybkr/contextpilot/internal/termcolor"
)

func runStatusPanel(args []string, cw *termcolor.Writer) int {
	e, err := openEngine()
	if err != nil {
		return fatalf("opening engine: %v", err)
	}
	defer e.Close()

	p, err := settle(e, pcie.KindGitStatus, pcie.KindConfig{GitStatus: &pcie.GitStatusConfig{RepoRoot: e.RepoRoot()}})
	if err != nil {
		return fatalf("%v", err)
	}

	fmt.Print(p.CachedContent)
	fmt.Printf("%s %d tokens (estimated)\n", cw.Bold("~"), p.TokenCount)
	return 0
}
