// Command pilotctl is a one-shot local inspector for the Panel Cache and
// Invalidation Engine: each subcommand opens a throwaway pcie.Engine over a
// repository, creates a single panel, drives it to settle, and prints the
// result — useful for poking at PCIE's refresh and invalidation behavior
// without standing up the introspection daemon.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/rybkr/contextpilot/internal/cli"
	"github.com/rybkr/contextpilot/internal/termcolor"
)

// Build-time variables set via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	gf, args := parseGlobalFlags(os.Args[1:])

	for _, a := range args {
		if a == "--version" {
			printVersion()
			os.Exit(0)
		}
	}

	cw := termcolor.NewWriter(os.Stdout, gf.colorMode)

	app := cli.NewApp("pilotctl", version)
	app.Stderr = os.Stderr

	app.Register(&cli.Command{
		Name:      "status",
		Summary:   "Show working tree status via a GitStatus panel",
		Usage:     "pilotctl status",
		NeedsRepo: true,
		Run:       func(args []string) int { return runStatusPanel(args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "tree",
		Summary:   "List the working tree via a Tree panel",
		Usage:     "pilotctl tree [path]",
		Examples:  []string{"pilotctl tree", "pilotctl tree internal/pcie"},
		NeedsRepo: true,
		Run:       func(args []string) int { return runTreePanel(args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "grep",
		Summary:   "Search the working tree via a Grep panel",
		Usage:     "pilotctl grep <pattern> [path]",
		Examples:  []string{"pilotctl grep TODO", "pilotctl grep 'func New' internal/pcie"},
		NeedsRepo: true,
		Run:       func(args []string) int { return runGrepPanel(args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "glob",
		Summary:   "Match files via a Glob panel",
		Usage:     "pilotctl glob <pattern> [base]",
		Examples:  []string{"pilotctl glob '*.go'", "pilotctl glob '*_test.go' internal/pcie"},
		NeedsRepo: true,
		Run:       func(args []string) int { return runGlobPanel(args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "file",
		Summary:   "Read a file via a File panel",
		Usage:     "pilotctl file <path>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runFilePanel(args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "health",
		Summary:   "Run one GitStatus refresh and report process health counters",
		Usage:     "pilotctl health",
		NeedsRepo: true,
		Run:       func(args []string) int { return runHealthPanel(args) },
	})

	app.Register(&cli.Command{
		Name:    "rulebook",
		Summary: "Validate an invalidation rulebook.toml",
		Usage:   "pilotctl rulebook validate <path>",
		Run:     func(args []string) int { return runRulebook(args, cw) },
	})

	app.Register(&cli.Command{
		Name:    "update",
		Summary: "Update to the latest release",
		Usage:   "pilotctl update [--check]",
		Examples: []string{
			"pilotctl update",
			"pilotctl update --check",
		},
		Run: func(args []string) int { return runUpdate(args) },
	})

	app.Register(&cli.Command{
		Name:    "version",
		Summary: "Show version information",
		Usage:   "pilotctl version",
		Run:     func([]string) int { printVersion(); return 0 },
	})

	os.Exit(app.Run(args, cw))
}

func printVersion() {
	fmt.Printf("pilotctl %s\n", version)
	fmt.Printf("  commit:     %s\n", commit)
	fmt.Printf("  built:      %s\n", buildDate)
	fmt.Printf("  go version: %s\n", runtime.Version())
	fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func repoRoot() string {
	if p := os.Getenv("GIT_DIR"); p != "" {
		return p
	}
	return "."
}
