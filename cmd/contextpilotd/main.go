// Package main is the entry point for the Context Pilot introspection
// daemon: it hosts one Panel Cache and Invalidation Engine per workspace and
// exposes their panel tables over HTTP and WebSocket.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rybkr/contextpilot/internal/introspect"
	"github.com/rybkr/contextpilot/internal/pcie"
	"github.com/rybkr/contextpilot/internal/progress"
	"github.com/rybkr/contextpilot/internal/selfupdate"
	"github.com/rybkr/contextpilot/internal/termcolor"
	"github.com/rybkr/contextpilot/internal/workspace"
)

const outputFormatJSON = "json"

// Build-time variables set via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	initLogger()

	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CONTEXTPILOT")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "contextpilotd",
		Short:         "Context Pilot introspection daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := cmd.Flags()
	flags.String("repo", "", "path to the initial workspace's git repository")
	flags.String("workspace-id", "default", "identifier under which --repo is hosted")
	flags.String("rulebook", "", "path to a rulebook.toml overriding the built-in invalidation rules")
	flags.String("port", "8080", "port to listen on")
	flags.String("host", "", "host to bind to (empty = all interfaces)")
	flags.Duration("fetch-interval", 30*time.Second, "background git-fetch interval per workspace")
	flags.Duration("idle-ttl", 24*time.Hour, "close a workspace after this long without activity")
	flags.String("color", "auto", "color output: auto, always, never")
	flags.Bool("no-color", false, "disable color output")
	flags.Bool("check-update", false, "check for a newer release and exit")
	flags.String("output", "", "startup output format: json (default: human-readable)")

	_ = v.BindPFlags(flags)

	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}

func run(v *viper.Viper) error {
	if v.GetBool("check-update") {
		runCheckUpdate()
		return nil
	}

	colorMode := termcolor.ColorAuto
	switch {
	case v.GetBool("no-color"):
		colorMode = termcolor.ColorNever
	case v.GetString("color") != "auto":
		mode, err := termcolor.ParseColorMode(v.GetString("color"))
		if err != nil {
			return fmt.Errorf("invalid --color: %w", err)
		}
		colorMode = mode
	}
	cw := termcolor.NewWriter(os.Stdout, colorMode)

	repoPath := v.GetString("repo")
	workspaceID := v.GetString("workspace-id")
	addr := fmt.Sprintf("%s:%s", v.GetString("host"), v.GetString("port"))

	rulebook := pcie.DefaultRulebook()
	if path := v.GetString("rulebook"); path != "" {
		loaded, err := pcie.LoadRulebook(path)
		if err != nil {
			return fmt.Errorf("loading rulebook: %w", err)
		}
		rulebook = loaded
	}

	host := workspace.New(workspace.Config{
		FetchInterval: v.GetDuration("fetch-interval"),
		InactivityTTL: v.GetDuration("idle-ttl"),
		Rulebook:      rulebook,
		Logger:        slog.Default(),
	})

	var repoLoadDur time.Duration
	if repoPath != "" {
		spin := progress.New("Opening workspace...")
		spin.Start()
		start := time.Now()
		_, err := host.Open(workspaceID, repoPath)
		repoLoadDur = time.Since(start).Round(time.Millisecond)
		spin.Stop()
		if err != nil {
			host.Shutdown()
			return fmt.Errorf("opening workspace %s at %s: %w", workspaceID, repoPath, err)
		}
		slog.Info("workspace opened", "id", workspaceID, "path", repoPath)
	}

	srv := introspect.NewServer(host, addr, slog.Default())

	outputFormat := v.GetString("output")
	if outputFormat == outputFormatJSON {
		printStartupJSON(addr, repoPath, workspaceID, repoLoadDur)
	} else {
		printStartupBanner(cw, addr, repoPath, workspaceID, repoLoadDur)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		host.Shutdown()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("shutdown initiated, press Ctrl+C again to force exit")
		stop()
		srv.Shutdown()
		slog.Info("stopping workspace host")
		host.Shutdown()
		slog.Info("workspace host stopped")
		return nil
	}
}

// initLogger reads CONTEXTPILOT_LOG_LEVEL and CONTEXTPILOT_LOG_FORMAT from
// the environment, constructs the appropriate slog.Handler, and installs it
// as the default logger via slog.SetDefault.
func initLogger() {
	level := slog.LevelInfo
	switch getEnv("CONTEXTPILOT_LOG_LEVEL", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if getEnv("CONTEXTPILOT_LOG_FORMAT", "text") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func printVersion() {
	fmt.Printf("contextpilotd %s\n", version)
	fmt.Printf("  commit:     %s\n", commit)
	fmt.Printf("  built:      %s\n", buildDate)
	fmt.Printf("  go version: %s\n", runtime.Version())
	fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func runCheckUpdate() {
	const repo = "rybkr/contextpilot"
	fmt.Printf("Current version: %s\n", version)

	latest, err := selfupdate.CheckLatest(repo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error checking for updates: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Latest version:  %s\n", latest)

	if !selfupdate.NeedsUpdate(version, latest) {
		if version == "dev" {
			fmt.Println("Development build — skipping update check.")
		} else {
			fmt.Println("Already up to date.")
		}
		return
	}

	fmt.Printf("\nUpdate available: %s → %s\n", version, latest)
	fmt.Println("To update, run: pilotctl update")
}

func printStartupBanner(cw *termcolor.Writer, addr, repoPath, workspaceID string, repoLoadDur time.Duration) {
	fmt.Printf("%s %s\n", cw.BoldCyan("Context Pilot"), cw.Green(version))
	if repoPath != "" {
		timing := fmt.Sprintf("(loaded in %s)", cw.Yellow(repoLoadDur.String()))
		fmt.Printf("  workspace: %s  %s  %s\n", workspaceID, repoPath, timing)
	} else {
		fmt.Printf("  workspace: none opened at startup (use pilotctl or POST to open one)\n")
	}
	fmt.Printf("  listen:    http://%s\n", addr)
	fmt.Printf("  commit:    %s\n", commit)
	if termcolor.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("\n%s\n", cw.Bold("Press Ctrl+C to stop."))
	}
}

type startupInfo struct {
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	BuildDate   string `json:"build_date"`
	Listen      string `json:"listen"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	RepoPath    string `json:"repo_path,omitempty"`
	RepoLoadMs  int64  `json:"repo_load_ms,omitempty"`
}

func printStartupJSON(addr, repoPath, workspaceID string, repoLoadDur time.Duration) {
	info := startupInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		Listen:    "http://" + addr,
	}
	if repoPath != "" {
		info.WorkspaceID = workspaceID
		info.RepoPath = repoPath
		info.RepoLoadMs = repoLoadDur.Milliseconds()
	}
	data, _ := json.Marshal(info)
	fmt.Println(string(data))
}
