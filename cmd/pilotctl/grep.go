package main

import (
	"fmt"

	"github.com/rybkr/contextpilot/internal/pcie"
	"github.com/rybkr/contextpilot/internal/termcolor"
)

func runGrepPanel(args []string, cw *termcolor.Writer) int {
	if len(args) < 1 {
		return fatalf("usage: pilotctl grep <pattern> [path]")
	}
	pattern := args[0]

	e, err := openEngine()
	if err != nil {
		return fatalf("opening engine: %v", err)
	}
	defer e.Close()

	path := e.RepoRoot()
	if len(args) > 1 {
		path = args[1]
	}

	cfg := &pcie.GrepConfig{Pattern: pattern, Path: path}
	p, err := settle(e, pcie.KindGrep, pcie.KindConfig{Grep: cfg})
	if err != nil {
		return fatalf("%v", err)
	}

	fmt.Print(p.CachedContent)
	fmt.Printf("%s %d tokens (estimated)\n", cw.Bold("~"), p.TokenCount)
	return 0
}
