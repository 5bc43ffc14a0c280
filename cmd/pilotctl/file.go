package main

import (
	"fmt"

	"github.com/rybkr/contextpilot/internal/pcie"
	"github.com/rybkr/contextpilot/internal/termcolor"
)

func runFilePanel(args []string, cw *termcolor.Writer) int {
	if len(args) < 1 {
		return fatalf("usage: pilotctl file <path>")
	}
	path := args[0]

	e, err := openEngine()
	if err != nil {
		return fatalf("opening engine: %v", err)
	}
	defer e.Close()

	cfg := &pcie.FileConfig{Path: path}
	p, err := settle(e, pcie.KindFile, pcie.KindConfig{File: cfg})
	if err != nil {
		return fatalf("%v", err)
	}

	fmt.Print(p.CachedContent)
	fmt.Printf("%s %d tokens (estimated)\n", cw.Bold("~"), p.TokenCount)
	return 0
}
