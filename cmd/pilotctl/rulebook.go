package main

import (
	"fmt"

	"github.com/rybkr/contextpilot/internal/pcie"
	"github.com/rybkr/contextpilot/internal/termcolor"
)

func runRulebook(args []string, cw *termcolor.Writer) int {
	if len(args) < 2 || args[0] != "validate" {
		return fatalf("usage: pilotctl rulebook validate <path>")
	}

	rb, err := pcie.LoadRulebook(args[1])
	if err != nil {
		return fatalf("loading rulebook: %v", err)
	}

	gitRules, ghRules := rb.RuleCounts()
	fmt.Printf("%s %s loaded cleanly: %d git rules, %d gh rules\n", cw.Green("ok:"), args[1], gitRules, ghRules)
	return 0
}
