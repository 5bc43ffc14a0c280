package main

import (
	"fmt"

	"github.com/rybkr/contextpilot/internal/pcie"
	"github.com/rybkr/contextpilot/internal/termcolor"
)

func runTreePanel(args []string, cw *termcolor.Writer) int {
	e, err := openEngine()
	if err != nil {
		return fatalf("opening engine: %v", err)
	}
	defer e.Close()

	root := e.RepoRoot()
	if len(args) > 0 {
		root = args[0]
	}

	cfg := &pcie.TreeConfig{Root: root, RespectGitignore: true}
	p, err := settle(e, pcie.KindTree, pcie.KindConfig{Tree: cfg})
	if err != nil {
		return fatalf("%v", err)
	}

	fmt.Print(p.CachedContent)
	fmt.Printf("%s %d tokens (estimated)\n", cw.Bold("~"), p.TokenCount)
	return 0
}
