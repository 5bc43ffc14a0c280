package main

import (
	"fmt"

	"github.com/rybkr/contextpilot/internal/pcie"
	"github.com/rybkr/contextpilot/internal/termcolor"
)

func runGlobPanel(args []string, cw *termcolor.Writer) int {
	if len(args) < 1 {
		return fatalf("usage: pilotctl glob <pattern> [base]")
	}
	pattern := args[0]

	e, err := openEngine()
	if err != nil {
		return fatalf("opening engine: %v", err)
	}
	defer e.Close()

	base := e.RepoRoot()
	if len(args) > 1 {
		base = args[1]
	}

	cfg := &pcie.GlobConfig{Pattern: pattern, Base: base, RespectGitignore: true}
	p, err := settle(e, pcie.KindGlob, pcie.KindConfig{Glob: cfg})
	if err != nil {
		return fatalf("%v", err)
	}

	fmt.Print(p.CachedContent)
	fmt.Printf("%s %d tokens (estimated)\n", cw.Bold("~"), p.TokenCount)
	return 0
}
