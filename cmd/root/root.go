package root

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const appName = "ouroboros"

// Root flags shared by every command.
var (
	configPath  string
	debugMode   bool
	otelEnabled bool
)

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Multi-specialist orchestration for coding tasks",
		Long: `Ouroboros runs a task through a team of AI specialists: a lead unit
delegates to specialists from the profile catalog, their findings are
merged wave by wave, and a single synthesized answer comes back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			setupLogging(cmd.ErrOrStderr(), debugMode)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config file (default: <user config dir>/ouroboros/config.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&otelEnabled, "otel", false, "Export traces via OTLP (honors OTEL_EXPORTER_OTLP_* env)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newProfilesCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI. Ctrl+C cancels the command context so in-flight
// generation calls abort cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("Error: %s", err))
		os.Exit(1)
	}
}

// setupLogging installs the process-wide text handler. The library packages
// log through slog but never configure it; warn keeps the progress stream
// clean unless --debug is set.
func setupLogging(w io.Writer, debug bool) {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
