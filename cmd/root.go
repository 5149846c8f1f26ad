// Package cmd is the Process Entry (spec §4.8): one cobra root command, no
// subcommands, grounded on the teacher's cmd/root.go for the logger-init and
// flag-binding shape. The teacher's start/stop/status/code/config
// subcommands managed a background daemon and launched the claude binary;
// both are explicit Non-goals here (see DESIGN.md), so this is a single
// foreground process.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/relaykit/clauded/internal/adapter"
	"github.com/relaykit/clauded/internal/backendclient"
	"github.com/relaykit/clauded/internal/config"
	"github.com/relaykit/clauded/internal/console"
	"github.com/relaykit/clauded/internal/procguard"
	"github.com/relaykit/clauded/internal/registry"
	"github.com/relaykit/clauded/internal/server"
)

const (
	// AppName is the executable's identity in --version output.
	AppName = "clauded"
	Version = "0.1.0"

	xaiBaseURL  = "https://api.x.ai/v1/chat/completions"
	groqBaseURL = "https://api.groq.com/openai/v1/chat/completions"
)

var (
	logger *slog.Logger

	flagAdapter    string
	flagPort       int
	flagVerbose    bool
	flagOSOverride string
)

var rootCmd = &cobra.Command{
	Use:     AppName,
	Short:   "A translation proxy between Claude Code and OpenAI-style backends",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.Flags().StringVar(&flagAdapter, "adapter", "", "backend adapter to run: xai or groq (or CLAUDEPROXY_ADAPTER)")
	rootCmd.Flags().IntVar(&flagPort, "port", 0, "listening port (or CLAUDEPROXY_PORT; defaults per adapter)")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().StringVar(&flagOSOverride, "os-override", "", "override detected OS family: windows, unix, darwin")
}

// Execute runs the root command; the process's sole entry point.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	if cfgErr, ok := err.(*config.ConfigError); ok {
		return cfgErr.ExitCode
	}
	if _, ok := err.(*portUnavailableError); ok {
		return 3
	}
	return 64
}

type portUnavailableError struct{ addr string }

func (e *portUnavailableError) Error() string { return fmt.Sprintf("port %s is already in use", e.addr) }

func run(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(flagAdapter, flagPort, flagOSOverride)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	switch procguard.Probe(addr) {
	case procguard.OccupiedBySelf:
		color.Red("another instance of %s is already listening on %s", AppName, addr)
		return &portUnavailableError{addr: addr}
	case procguard.OccupiedByOther:
		color.Red("port %s is occupied by another process", addr)
		return &portUnavailableError{addr: addr}
	}

	reg := registry.Initialize()
	ad := buildAdapter(cfg, reg)

	printBanner(cfg, addr, reg)

	srv := server.New(addr, ad, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	con := console.New(logger,
		func() {
			if err := console.Restart(); err != nil {
				logger.Error("restart failed", "error", err)
			}
		},
		stop,
	)
	go con.Run()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func buildAdapter(cfg *config.Config, reg *registry.Registry) adapter.Adapter {
	switch cfg.Adapter {
	case config.AdapterGroq:
		client := backendclient.New(groqBaseURL, cfg.GroqAPIKey, logger)
		return adapter.NewGroq(client, reg, cfg.OSFamily, logger)
	default:
		client := backendclient.New(xaiBaseURL, cfg.XAIAPIKey, logger)
		return adapter.NewXAI(client, reg, cfg.OSFamily, logger)
	}
}

// printBanner announces startup per spec §4.8: version, OS family, address,
// active adapter, tool count. Never credentials.
func printBanner(cfg *config.Config, addr string, reg *registry.Registry) {
	color.Cyan("%s v%s", AppName, Version)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Setting", "Value"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	table.Append([]string{"Adapter", string(cfg.Adapter)})
	table.Append([]string{"Listening on", addr})
	table.Append([]string{"OS family", string(cfg.OSFamily)})
	table.Append([]string{"Tools registered", fmt.Sprintf("%d", len(reg.ToolsFor(cfg.OSFamily)))})
	table.Render()

	color.Green("press H for help, Q to quit, R to restart")
}
